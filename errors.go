package leadership

import "github.com/arloliu/leadership/types"

// Sentinel errors re-exported from the types package.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = types.ErrInvalidConfig

	// ErrLockServiceRequired is returned when the lock service is nil.
	ErrLockServiceRequired = types.ErrLockServiceRequired

	// ErrSessionNotFound is returned by lock services for expired or destroyed sessions.
	ErrSessionNotFound = types.ErrSessionNotFound

	// ErrWatchTimeout is returned by lock services when a long-poll elapsed without change.
	ErrWatchTimeout = types.ErrWatchTimeout

	// ErrNonRecoverable marks failures that stop the election immediately.
	ErrNonRecoverable = types.ErrNonRecoverable
)
