package dispatch

import (
	"context"

	"inferd/internal/runner"
	"inferd/pkg/types"
)

// Deliver receives the frames of one submitted request in order. The last
// frame of a request that was not cancelled has Complete set.
type Deliver func(types.Frame)

// Submit starts req under requestID and pushes its results to deliver from
// a separate goroutine. Streaming-capable runners stream; others deliver a
// single terminal frame. It returns once the request is accepted or
// rejected; rejections are delivered as an error frame.
func (e *Engine) Submit(ctx context.Context, requestID string, c types.Capability, req types.InferenceRequest, preferred string, deliver Deliver) string {
	req.ID = requestID
	s := e.launch(ctx, req, c, preferred, e.canStream(c, preferred))
	go func() {
		for r := range s.C {
			deliver(types.Frame{RequestID: s.RequestID, Result: r, Complete: r.IsComplete()})
		}
	}()
	return s.RequestID
}

// canStream reports whether the runner that would serve c streams.
func (e *Engine) canStream(c types.Capability, preferred string) bool {
	r, err := e.selectRunner(c, preferred)
	if err != nil {
		return false
	}
	return runner.CanStream(r)
}
