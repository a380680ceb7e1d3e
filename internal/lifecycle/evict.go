package lifecycle

import (
	"context"
	"time"
)

// reserve books the budget for loading modelID on c, evicting least
// recently used idle runners until it fits. It returns the reserved MB.
func (m *Manager) reserve(ctx context.Context, c *Controller, modelID string) (int, error) {
	if m.cfg.BudgetMB <= 0 {
		return 0, nil
	}
	required := m.cfg.Models.EstimateMB(modelID)
	m.budgetMu.Lock()
	defer m.budgetMu.Unlock()
	for {
		// the target's current model is released by the switch
		used := m.usedMB() - c.usageMB() + m.reservedMB
		if used+required+m.cfg.MarginMB <= m.cfg.BudgetMB {
			m.reservedMB += required
			return required, nil
		}
		victim := m.lruIdle(c)
		if victim == nil {
			free := m.cfg.BudgetMB - m.cfg.MarginMB - used
			return 0, errOverBudget(c.r.Name(), required, free)
		}
		if err := victim.Unload(ctx); err != nil {
			return 0, err
		}
		m.evictions.Add(1)
		evictionsTotal.WithLabelValues(victim.r.Name()).Inc()
		victim.publish("evict", "", map[string]any{"for": c.r.Name()})
		m.log.Info().Str("runner", victim.r.Name()).Str("for", c.r.Name()).Msg("evicted")
	}
}

func (m *Manager) release(mb int) {
	if mb == 0 {
		return
	}
	m.budgetMu.Lock()
	m.reservedMB -= mb
	m.budgetMu.Unlock()
}

func (m *Manager) usedMB() int {
	total := 0
	m.controllers.Range(func(_ string, c *Controller) bool {
		total += c.usageMB()
		return true
	})
	return total
}

// lruIdle picks the loaded runner, other than skip, with no queued or
// executing requests that was used least recently.
func (m *Manager) lruIdle(skip *Controller) *Controller {
	var lru *Controller
	var lruAt time.Time
	m.controllers.Range(func(_ string, c *Controller) bool {
		if c == skip || c.busy() || c.usageMB() == 0 {
			return true
		}
		c.mu.Lock()
		at := c.lastUsed
		c.mu.Unlock()
		if lru == nil || at.Before(lruAt) {
			lru, lruAt = c, at
		}
		return true
	})
	return lru
}
