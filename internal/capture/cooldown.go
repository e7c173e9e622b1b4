package capture

import (
	"sync"
	"time"
)

// Gate enforces a minimum spacing between accepted triggers per source key.
// Entries are created on first use and never removed; keys are physical
// cameras, so the table stays as large as the camera fleet.
type Gate struct {
	cooldown time.Duration
	now      func() time.Time
	entries  sync.Map // key -> *gateEntry
}

type gateEntry struct {
	mu   sync.Mutex
	last time.Time
	seen bool
}

func NewGate(cooldown time.Duration) *Gate {
	return &Gate{cooldown: cooldown, now: time.Now}
}

// ShouldTrigger reports whether a trigger from key may proceed, recording
// it when it does.
func (g *Gate) ShouldTrigger(key string) bool {
	return g.ShouldTriggerAt(key, g.now())
}

func (g *Gate) ShouldTriggerAt(key string, now time.Time) bool {
	v, _ := g.entries.LoadOrStore(key, &gateEntry{})
	e := v.(*gateEntry)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seen && now.Sub(e.last) < g.cooldown {
		return false
	}
	e.last = now
	e.seen = true
	return true
}
