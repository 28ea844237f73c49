package feed

import (
	"errors"
	"fmt"
)

type FetchErrorKind int

const (
	// Unreachable covers transport failures and non-success responses.
	Unreachable FetchErrorKind = iota + 1
	// Malformed means the document could not be parsed at the top level.
	Malformed
	// Empty means the source parsed fine but yielded zero items.
	Empty
)

func (k FetchErrorKind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case Malformed:
		return "malformed"
	case Empty:
		return "empty"
	default:
		return "unknown"
	}
}

type FetchError struct {
	Source SourceID
	Kind   FetchErrorKind
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s fetch %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s fetch %s: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func fetchError(source SourceID, kind FetchErrorKind, err error) error {
	return &FetchError{Source: source, Kind: kind, Err: err}
}

// KindOf reports the FetchErrorKind carried by err, or 0 if err is not a
// FetchError.
func KindOf(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

func IsEmpty(err error) bool {
	return KindOf(err) == Empty
}
