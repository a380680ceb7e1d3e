package lifecycle

import (
	"inferd/internal/params"
	"inferd/internal/runner"
	"inferd/pkg/types"
)

// Stats are aggregate counters of the manager.
type Stats struct {
	BudgetMB  int
	MarginMB  int
	UsedMB    int
	Loads     uint64
	Evictions uint64
}

// Stats returns the current budget usage and counters.
func (m *Manager) Stats() Stats {
	return Stats{
		BudgetMB:  m.cfg.BudgetMB,
		MarginMB:  m.cfg.MarginMB,
		UsedMB:    m.usedMB(),
		Loads:     m.loads.Load(),
		Evictions: m.evictions.Load(),
	}
}

// Status describes one runner for status reporting. Sensitive parameters
// are masked.
func (c *Controller) Status() types.RunnerStatus {
	c.mu.Lock()
	st := types.RunnerStatus{
		Runner:        c.r.Name(),
		State:         string(c.state),
		ModelID:       c.modelID,
		EstMB:         c.estMB,
		LastError:     c.lastErr,
		MaxQueueDepth: cap(c.queue),
		Parameters:    params.Redact(runner.Schemas(c.r), c.params),
	}
	if !c.lastUsed.IsZero() {
		st.LastUsed = c.lastUsed.Unix()
	}
	c.mu.Unlock()
	inflight := len(c.slots)
	st.Inflight = inflight
	if q := len(c.queue) - inflight; q > 0 {
		st.QueueLen = q
	}
	return st
}

// Status returns every runner's status in name order.
func (m *Manager) Status() []types.RunnerStatus {
	names := m.Names()
	out := make([]types.RunnerStatus, 0, len(names))
	for _, n := range names {
		if c, ok := m.controllers.Load(n); ok {
			out = append(out, c.Status())
		}
	}
	return out
}
