package daemon

import (
	"github.com/rs/zerolog"

	"inferd/internal/lifecycle"
)

// logPublisher writes lifecycle events to the log.
type logPublisher struct {
	log zerolog.Logger
}

func (p logPublisher) Publish(e lifecycle.Event) {
	ev := p.log.Debug()
	if e.Name == "load_failed" {
		ev = p.log.Warn()
	}
	ev.Str("event", e.Name).Str("runner", e.Runner).Str("model", e.ModelID).Fields(e.Fields).Msg("lifecycle")
}
