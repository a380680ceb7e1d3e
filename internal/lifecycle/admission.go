package lifecycle

import (
	"context"
	"time"
)

// admit reserves a queue slot and then an execution slot. The returned
// release func must be called exactly once.
//
// With maxWait <= 0 a full queue is rejected at once and a queued request
// waits for its execution slot until ctx is done.
func (c *Controller) admit(ctx context.Context, maxWait time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var expired <-chan time.Time
	if maxWait > 0 {
		timer := time.NewTimer(maxWait)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case c.queue <- struct{}{}:
	default:
		if expired == nil {
			return nil, c.reject()
		}
		select {
		case c.queue <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-expired:
			return nil, c.reject()
		}
	}

	select {
	case c.slots <- struct{}{}:
		c.touch()
		return func() { <-c.slots; <-c.queue }, nil
	case <-ctx.Done():
		<-c.queue
		return nil, ctx.Err()
	case <-expired:
		<-c.queue
		return nil, c.reject()
	}
}

func (c *Controller) reject() error {
	admissionRejections.WithLabelValues(c.r.Name()).Inc()
	return errTooBusy(c.r.Name())
}
