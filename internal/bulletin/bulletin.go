// Package bulletin implements the process-wide team status board.
package bulletin

import (
	"sync"
	"time"

	"github.com/basket/voxelbrain/internal/bus"
)

const staleAfter = 30 * time.Second

// Entry is one agent's row on the bulletin.
type Entry struct {
	Agent     string
	Action    string
	X, Y, Z   int
	Thought   string
	Health    int
	Food      int
	UpdatedAt time.Time
}

// Stale reports whether this entry was last written more than 30s ago
// relative to now.
func (e Entry) Stale(now time.Time) bool {
	return now.Sub(e.UpdatedAt) > staleAfter
}

// Board is the single process-wide bulletin singleton. Writer is always the owning agent's own task; readers receive a
// snapshot, never a live reference.
type Board struct {
	mu      sync.RWMutex
	entries map[string]Entry
	eventBus *bus.Bus
}

// New creates an empty Board. eventBus may be nil.
func New(eventBus *bus.Bus) *Board {
	return &Board{entries: make(map[string]Entry), eventBus: eventBus}
}

// Update writes or overwrites the row for e.Agent (last-writer-wins).
func (b *Board) Update(e Entry) {
	if e.Agent == "" {
		return
	}
	e.UpdatedAt = time.Now()
	b.mu.Lock()
	b.entries[e.Agent] = e
	b.mu.Unlock()

	if b.eventBus != nil {
		b.eventBus.Publish(bus.TopicBulletinUpdated, bus.BulletinUpdatedEvent{
			Agent: e.Agent, Action: e.Action,
		})
	}
}

// Snapshot returns a copy of all rows, safe for the caller to read without
// locking.
func (b *Board) Snapshot() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	return out
}

// PeersOf returns a snapshot of every row except self.
func (b *Board) PeersOf(self string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, 0, len(b.entries))
	for name, e := range b.entries {
		if name != self {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the row for agent, if any.
func (b *Board) Get(agent string) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[agent]
	return e, ok
}

// Prune drops rows staler than the given age, used by the season-goal
// digest/cron sweep. Returns the number of rows dropped.
func (b *Board) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for name, e := range b.entries {
		if e.UpdatedAt.Before(cutoff) {
			delete(b.entries, name)
			n++
		}
	}
	return n
}
