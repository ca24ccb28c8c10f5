package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	ElectionMetrics
	SessionMetrics
	LockServiceMetrics
}

// ElectionMetrics defines metrics for the election state machine.
type ElectionMetrics interface {
	// RecordStateTransition records an election state transition.
	//
	// Parameters:
	//   - from: Previous state
	//   - to: New state
	//   - duration: Time spent in the previous state, in seconds
	RecordStateTransition(from, to State, duration float64)

	// RecordLeadershipChange records an acquisition outcome or an observed loss.
	RecordLeadershipChange(isLeader bool)

	// RecordRetry records a recoverable error that was scheduled for retry.
	//
	// Parameters:
	//   - operation: The continuation being retried ("apply", "watch")
	RecordRetry(operation string)

	// RecordRetryBackoff records the computed backoff delay in seconds.
	RecordRetryBackoff(operation string, delay float64)

	// RecordWatchTimeout records a long-poll that elapsed without change.
	RecordWatchTimeout()

	// RecordStop records an election stop.
	//
	// Parameters:
	//   - reason: "requested", "non_recoverable" or "retries_exhausted"
	RecordStop(reason string)
}

// SessionMetrics defines metrics for session lifecycle operations.
type SessionMetrics interface {
	// RecordSessionCreated records a session creation attempt.
	RecordSessionCreated(success bool)

	// RecordSessionRenewal records a session renewal attempt.
	RecordSessionRenewal(success bool)
}

// LockServiceMetrics defines metrics for calls into the lock service.
type LockServiceMetrics interface {
	// RecordLockServiceOperation records lock service call latency.
	//
	// Parameters:
	//   - operation: Operation name ("acquire", "release", "read", "watch", ...)
	//   - duration: Time taken in seconds
	//   - success: false if the call returned an error
	RecordLockServiceOperation(operation string, duration float64, success bool)
}
