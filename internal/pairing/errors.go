package pairing

import (
	"errors"
	"fmt"
)

// Broker outcomes. A Broker implementation wraps or returns these so the machine
// can tell a dead token apart from a transient failure.
var (
	ErrExpired        = errors.New("pairing token expired")
	ErrAlreadyClaimed = errors.New("pairing token already claimed")
	ErrUnknownToken   = errors.New("unknown pairing token")
)

// NetworkError is a transport failure talking to the broker. It is retryable.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("pairing broker %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ErrIgnored matches every error an intent returns when it had no effect.
// errors.Is(err, ErrIgnored) tells a caller the machine's state did not change.
var ErrIgnored = errors.New("pairing intent ignored")

type ignoredError struct {
	reason string
}

func (e *ignoredError) Error() string {
	return "pairing intent ignored: " + e.reason
}

func (e *ignoredError) Is(target error) bool {
	return target == ErrIgnored
}

var (
	ErrBusy              error = &ignoredError{"a broker call is already in flight"}
	ErrDuplicateClaim    error = &ignoredError{"token already submitted"}
	ErrInvalidTransition error = &ignoredError{"not allowed in the current status"}
	ErrNotReady          error = &ignoredError{"machine has not been marked ready"}
	ErrMalformedInput    error = &ignoredError{"no pairing token in input"}
	ErrStale             error = &ignoredError{"response superseded by a later intent"}
	ErrClosed            error = &ignoredError{"machine closed"}
)
