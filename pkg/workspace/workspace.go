// Package workspace implements the attention workspace: a capacity-bounded
// set of recent observations competing for the reasoner's attention by
// salience.
//
// Every operation is O(capacity): items live in a slice that never grows
// beyond the configured capacity, so a burst of changes costs at most one
// eviction per submit.
package workspace

import (
	"sort"
	"sync"
	"time"

	"vigil/pkg/protocol"
)

// Config holds workspace tuning knobs.
type Config struct {
	Capacity      int
	DecayRate     float64
	SalienceFloor float64
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = 7
	}
	if c.DecayRate <= 0 || c.DecayRate > 1 {
		c.DecayRate = 0.9
	}
	if c.SalienceFloor < 0 {
		c.SalienceFloor = 0
	}
	return c
}

// Workspace is the attention buffer. It is safe for concurrent use, though
// the daemon mutates it from the cycle goroutine only.
type Workspace struct {
	mu    sync.Mutex
	cfg   Config
	items []protocol.WorkspaceItem

	nowFunc func() time.Time
}

// New creates an empty workspace.
func New(cfg Config) *Workspace {
	cfg = cfg.withDefaults()
	return &Workspace{
		cfg:     cfg,
		items:   make([]protocol.WorkspaceItem, 0, cfg.Capacity),
		nowFunc: time.Now,
	}
}

// Capacity returns the configured bound.
func (w *Workspace) Capacity() int { return w.cfg.Capacity }

// Submit absorbs an observation. An existing item for the same path is
// reinforced: its salience resets to 1.0, the newer observation replaces the
// old one and the entry time is refreshed. Otherwise a new item enters at
// salience 1.0, evicting the weakest item when the workspace is full.
func (w *Workspace) Submit(obs protocol.Observation) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.nowFunc()
	for i := range w.items {
		if w.items[i].Observation.Path == obs.Path {
			w.items[i].Observation = obs
			w.items[i].Salience = 1.0
			w.items[i].EnteredAt = now
			return
		}
	}

	if len(w.items) >= w.cfg.Capacity {
		w.evictLocked()
	}
	w.items = append(w.items, protocol.WorkspaceItem{
		Observation: obs,
		Salience:    1.0,
		EnteredAt:   now,
		DecayRate:   w.cfg.DecayRate,
	})
}

// evictLocked removes the lowest-salience item, oldest first on ties.
func (w *Workspace) evictLocked() {
	if len(w.items) == 0 {
		return
	}
	victim := 0
	for i := 1; i < len(w.items); i++ {
		if weaker(w.items[i], w.items[victim]) {
			victim = i
		}
	}
	w.items = append(w.items[:victim], w.items[victim+1:]...)
}

// weaker reports whether a should be evicted before b.
func weaker(a, b protocol.WorkspaceItem) bool {
	if a.Salience != b.Salience {
		return a.Salience < b.Salience
	}
	return a.EnteredAt.Before(b.EnteredAt)
}

// Tick applies one step of decay. Items that fall below the salience floor
// leave the workspace.
func (w *Workspace) Tick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.items[:0]
	for _, it := range w.items {
		it.Salience *= it.DecayRate
		if it.Salience < w.cfg.SalienceFloor {
			continue
		}
		kept = append(kept, it)
	}
	w.items = kept
}

// Focused returns up to capacity items ordered by salience descending, ties
// oldest first. The slice is a copy.
func (w *Workspace) Focused() []protocol.WorkspaceItem {
	w.mu.Lock()
	out := make([]protocol.WorkspaceItem, len(w.items))
	copy(out, w.items)
	w.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Salience != out[j].Salience {
			return out[i].Salience > out[j].Salience
		}
		return out[i].EnteredAt.Before(out[j].EnteredAt)
	})
	if len(out) > w.cfg.Capacity {
		out = out[:w.cfg.Capacity]
	}
	return out
}

// Release removes the items with the given ids (observation ids). Unknown
// ids are ignored.
func (w *Workspace) Release(ids ...string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.items[:0]
	for _, it := range w.items {
		if _, ok := drop[it.ID()]; ok {
			continue
		}
		kept = append(kept, it)
	}
	w.items = kept
}

// Snapshot returns the focused view; used by the status snapshot.
func (w *Workspace) Snapshot() []protocol.WorkspaceItem {
	return w.Focused()
}

// Len returns the number of items held.
func (w *Workspace) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}
