package notify

import (
	"errors"
	"fmt"
	"time"
)

type DeliveryKind int

const (
	// Transient failures were retried and the attempts ran out.
	Transient DeliveryKind = iota + 1
	// Permanent failures are returned after the first attempt.
	Permanent
)

func (k DeliveryKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// DeliveryError is returned by Notify once an item could not be delivered.
type DeliveryError struct {
	Kind     DeliveryKind
	Status   int
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s delivery failure after %d attempt(s), status %d: %v", e.Kind, e.Attempts, e.Status, e.Err)
	}
	return fmt.Sprintf("%s delivery failure after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a DeliveryError that will not succeed
// on retry.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Kind == Permanent
}

// attemptError describes one failed webhook call.
type attemptError struct {
	status     int
	retryAfter time.Duration
	transient  bool
	err        error
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }
