package observer

import (
	"sort"
	"time"

	"vigil/pkg/protocol"
)

// pending is one path waiting out its debounce window.
type pending struct {
	kind protocol.Kind
	last time.Time
}

// coalesce folds next into prev. keep is false when the pair cancels out
// (a file created and deleted inside one window never existed as far as
// downstream is concerned).
func coalesce(prev, next protocol.Kind) (kind protocol.Kind, keep bool) {
	switch {
	case prev == protocol.KindCreated && next == protocol.KindDeleted:
		return "", false
	case prev == protocol.KindCreated:
		return protocol.KindCreated, true
	case prev == protocol.KindDeleted && next == protocol.KindCreated:
		return protocol.KindModified, true
	case next == protocol.KindDeleted:
		return protocol.KindDeleted, true
	case prev == protocol.KindDeleted:
		return protocol.KindModified, true
	default:
		return protocol.KindModified, true
	}
}

// debouncer holds changes per path until no new event has arrived for the
// window. Not safe for concurrent use; owned by the watch loop.
type debouncer struct {
	window  time.Duration
	entries map[string]*pending
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window, entries: make(map[string]*pending)}
}

// add records a raw change for path at time at.
func (d *debouncer) add(path string, kind protocol.Kind, at time.Time) {
	p, ok := d.entries[path]
	if !ok {
		d.entries[path] = &pending{kind: kind, last: at}
		return
	}
	merged, keep := coalesce(p.kind, kind)
	if !keep {
		delete(d.entries, path)
		return
	}
	p.kind = merged
	p.last = at
}

// settled removes and returns the entries that have been quiet for the
// window, oldest first so emission order follows arrival order.
func (d *debouncer) settled(now time.Time) []settledChange {
	var out []settledChange
	for path, p := range d.entries {
		if now.Sub(p.last) >= d.window {
			out = append(out, settledChange{path: path, kind: p.kind, at: p.last})
			delete(d.entries, path)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].at.Equal(out[j].at) {
			return out[i].path < out[j].path
		}
		return out[i].at.Before(out[j].at)
	})
	return out
}

func (d *debouncer) len() int { return len(d.entries) }

type settledChange struct {
	path string
	kind protocol.Kind
	at   time.Time
}
