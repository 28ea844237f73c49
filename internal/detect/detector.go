// Package detect decides which fetched items are new relative to the
// persisted state of their source.
package detect

import (
	"time"

	"github.com/lysyi3m/broadcast/internal/feed"
	"github.com/lysyi3m/broadcast/internal/state"
)

type Detector struct {
	maxKnown int
	now      func() time.Time
}

type Option func(*Detector)

// WithMaxKnown bounds the number of ids remembered in set mode.
func WithMaxKnown(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.maxKnown = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

func New(opts ...Option) *Detector {
	d := &Detector{maxKnown: state.DefaultMaxKnown, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns the new items in fetch order and the state to persist
// once they have been handled. The input state is not modified.
//
// An empty state seeds itself from the fetch and yields no new items.
func (d *Detector) Detect(items []feed.Item, st state.SourceState) ([]feed.Item, state.SourceState) {
	items = uniqueByID(items)
	firstRun := st.IsEmpty()
	if firstRun && len(items) == 0 {
		// Nothing to seed with; stay empty so the next fetch seeds instead.
		return nil, st.Clone()
	}

	updated := st.Clone()
	updated.UpdatedAt = d.now().UTC()

	var fresh []feed.Item
	switch st.Mode {
	case state.ModeCursor:
		fresh = afterCursor(items, st.Cursor)
		if len(items) > 0 {
			updated.Cursor = items[len(items)-1].ID
		}
	default:
		fresh = notKnown(items, st.KnownIDs)
		updated.KnownIDs = d.merge(st.KnownIDs, items)
	}

	if firstRun {
		return nil, updated
	}
	return fresh, updated
}

func notKnown(items []feed.Item, known []string) []feed.Item {
	seen := make(map[string]struct{}, len(known))
	for _, id := range known {
		seen[id] = struct{}{}
	}

	var out []feed.Item
	for _, item := range items {
		if _, ok := seen[item.ID]; !ok {
			out = append(out, item)
		}
	}
	return out
}

// afterCursor returns the items following the cursor. When the cursor is
// not part of the fetch the source has rotated past it and every item is
// new.
func afterCursor(items []feed.Item, cursor string) []feed.Item {
	for i, item := range items {
		if item.ID == cursor {
			return items[i+1:]
		}
	}
	return items
}

// merge appends the fetched ids to the known list, moving ids that are
// still served to the tail, then evicts from the head. The bound never
// drops below the size of the current fetch.
func (d *Detector) merge(known []string, items []feed.Item) []string {
	current := make(map[string]struct{}, len(items))
	for _, item := range items {
		current[item.ID] = struct{}{}
	}

	merged := make([]string, 0, len(known)+len(items))
	for _, id := range known {
		if _, ok := current[id]; !ok {
			merged = append(merged, id)
		}
	}
	for _, item := range items {
		merged = append(merged, item.ID)
	}

	limit := max(d.maxKnown, len(items))
	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged
}

func uniqueByID(items []feed.Item) []feed.Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]feed.Item, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}
