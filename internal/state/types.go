package state

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Mode selects how a source remembers what it already delivered.
type Mode string

const (
	// ModeSet keeps a bounded, insertion-ordered list of known item ids.
	ModeSet Mode = "set"
	// ModeCursor keeps only the id of the last item seen.
	ModeCursor Mode = "cursor"
)

const DefaultMaxKnown = 200

var (
	// ErrCorruptState is returned by Load when a record exists but cannot
	// be decoded. The accompanying state is empty and usable.
	ErrCorruptState = errors.New("corrupt state")
	// ErrPersist wraps every Save failure.
	ErrPersist = errors.New("persist state")
)

// SourceState is the per-source dedup record carried across invocations.
type SourceState struct {
	Source    string    `json:"source"`
	Mode      Mode      `json:"mode"`
	KnownIDs  []string  `json:"known_ids,omitempty"`
	Cursor    string    `json:"cursor,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewSourceState(source string, mode Mode) SourceState {
	return SourceState{Source: source, Mode: mode}
}

// IsEmpty reports whether no run was ever recorded for the source.
func (s SourceState) IsEmpty() bool {
	return s.UpdatedAt.IsZero() && len(s.KnownIDs) == 0 && s.Cursor == ""
}

func (s SourceState) Clone() SourceState {
	c := s
	if s.KnownIDs != nil {
		c.KnownIDs = append([]string(nil), s.KnownIDs...)
	}
	return c
}

func (s SourceState) Validate() error {
	if s.Source == "" {
		return fmt.Errorf("source is required")
	}
	switch s.Mode {
	case ModeSet:
		if s.Cursor != "" {
			return fmt.Errorf("set mode state carries a cursor")
		}
	case ModeCursor:
		if len(s.KnownIDs) > 0 {
			return fmt.Errorf("cursor mode state carries known ids")
		}
	default:
		return fmt.Errorf("unknown mode %q", s.Mode)
	}
	return nil
}

// Store persists SourceState records. Implementations are safe for
// concurrent use by tasks of different sources within one process.
type Store interface {
	Load(ctx context.Context, source string, mode Mode) (SourceState, error)
	Save(ctx context.Context, st SourceState) error
	All(ctx context.Context) ([]SourceState, error)
	Close() error
}
