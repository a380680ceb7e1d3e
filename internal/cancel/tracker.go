// Package cancel tracks in-flight requests so they can be cancelled by id.
package cancel

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// Handle is a cancellable unit of work. Cancel must be safe to call more
// than once and from any goroutine.
type Handle interface {
	Cancel()
}

// Func adapts a context.CancelFunc to Handle.
type Func context.CancelFunc

func (f Func) Cancel() { f() }

// Tracker maps request ids to handles. Construct one per engine with New.
type Tracker struct {
	log     zerolog.Logger
	handles *xsync.MapOf[string, Handle]
}

var activeRequests = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "inferd",
	Subsystem: "cancel",
	Name:      "tracked_requests",
	Help:      "Requests currently registered for cancellation.",
})

var cancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "inferd",
	Subsystem: "cancel",
	Name:      "cancelled_total",
	Help:      "Requests cancelled by id.",
})

func init() {
	prometheus.MustRegister(activeRequests, cancelledTotal)
}

// New returns an empty tracker.
func New(log zerolog.Logger) *Tracker {
	return &Tracker{
		log:     log.With().Str("component", "cancel").Logger(),
		handles: xsync.NewMapOf[string, Handle](),
	}
}

// Register tracks h under id. An id already in use is rejected.
func (t *Tracker) Register(id string, h Handle) error {
	if id == "" {
		return fmt.Errorf("register: empty request id")
	}
	if h == nil {
		return fmt.Errorf("register %s: nil handle", id)
	}
	if _, loaded := t.handles.LoadOrStore(id, h); loaded {
		return fmt.Errorf("request id %q already active", id)
	}
	activeRequests.Inc()
	return nil
}

// Unregister stops tracking id without signaling it.
func (t *Tracker) Unregister(id string) {
	if _, ok := t.handles.LoadAndDelete(id); ok {
		activeRequests.Dec()
	}
}

// Cancel signals and removes the handle for id. It reports whether one
// was found; an unknown id has no effect.
func (t *Tracker) Cancel(id string) bool {
	h, ok := t.handles.LoadAndDelete(id)
	if !ok {
		return false
	}
	activeRequests.Dec()
	cancelledTotal.Inc()
	h.Cancel()
	t.log.Debug().Str("request_id", id).Msg("cancelled")
	return true
}

// ActiveCount returns the number of tracked requests.
func (t *Tracker) ActiveCount() int { return t.handles.Size() }

// Active reports whether id is tracked.
func (t *Tracker) Active(id string) bool {
	_, ok := t.handles.Load(id)
	return ok
}

// Cleanup signals and forgets every tracked handle. It returns how many
// were signaled.
func (t *Tracker) Cleanup() int {
	n := 0
	t.handles.Range(func(id string, _ Handle) bool {
		if h, ok := t.handles.LoadAndDelete(id); ok {
			activeRequests.Dec()
			h.Cancel()
			n++
		}
		return true
	})
	if n > 0 {
		t.log.Info().Int("count", n).Msg("cancelled all tracked requests")
	}
	return n
}
