package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the leadership library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).

// Election errors - Public API errors returned when building an election.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrLockServiceRequired is returned when the lock service is nil.
	ErrLockServiceRequired = errors.New("lock service is required")
)

// Classification errors - drive how the orchestrator reacts to a failure.
var (
	// ErrNonRecoverable marks failures that stop the election immediately.
	ErrNonRecoverable = errors.New("non-recoverable election error")

	// ErrWatchTimeout is returned by a long-poll that elapsed without change.
	// It is a normal outcome and triggers an immediate re-watch.
	ErrWatchTimeout = errors.New("watch timed out")
)

// Lock service errors - returned by LockService implementations.
var (
	// ErrSessionNotFound is returned when a session has expired or was destroyed.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoLeadershipFound is returned when the leadership key does not exist
	// right after a successful acquisition.
	ErrNoLeadershipFound = errors.New("no leadership found")
)

// ErrorKind is the outcome of classifying an error.
type ErrorKind int

const (
	// KindRecoverable errors are retried with backoff within the retry budget.
	KindRecoverable ErrorKind = iota

	// KindNonRecoverable errors stop the election immediately.
	KindNonRecoverable

	// KindWatchTimeout errors re-arm the watch immediately.
	KindWatchTimeout
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindRecoverable:
		return "recoverable"
	case KindNonRecoverable:
		return "non_recoverable"
	case KindWatchTimeout:
		return "watch_timeout"
	default:
		return "unknown"
	}
}

// Classify maps err to the reaction the election applies to it.
//
// Anything that is neither marked non-recoverable nor a watch timeout is
// treated as a transient failure.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrNonRecoverable):
		return KindNonRecoverable
	case errors.Is(err, ErrWatchTimeout):
		return KindWatchTimeout
	default:
		return KindRecoverable
	}
}

// NonRecoverable wraps cause with ErrNonRecoverable and a message.
//
// Parameters:
//   - msg: Description of the failed step
//   - cause: Underlying error (may be nil)
//
// Returns:
//   - error: Error matching both ErrNonRecoverable and cause with errors.Is
func NonRecoverable(msg string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrNonRecoverable, msg)
	}

	return fmt.Errorf("%w: %s: %w", ErrNonRecoverable, msg, cause)
}
