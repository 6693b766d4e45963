package alerts

import (
	"sync"
	"time"

	"vitalguard/internal/model"
)

// Cooldown tracks the last alert time per condition type so repeat alerts
// inside the window are suppressed.
type Cooldown struct {
	mu   sync.Mutex
	last map[model.ConditionType]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[model.ConditionType]time.Time)}
}

// Allow reports whether an alert for the condition may fire now, and if so
// records now as the last alert time.
func (c *Cooldown) Allow(cond model.ConditionType, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[cond]; ok {
		if now.Sub(ts) < cooldown {
			return false
		}
	}
	c.last[cond] = now
	return true
}

// Record stamps the last alert time without checking the window. Used when
// a critical finding bypasses the cooldown but must still start a fresh one.
func (c *Cooldown) Record(cond model.ConditionType, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[cond] = now
}
