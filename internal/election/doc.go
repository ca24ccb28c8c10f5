// Package election drives the leader election state machine.
//
// The Orchestrator coordinates a session handler and a leadership handler
// around a single leadership key:
//
//	Idle → Applying → Leading/Following → Watching → ... → Stopping → Idle
//
// # Apply
//
// Every attempt creates a fresh session and tries to acquire the lock with
// it. The winner schedules session renewal and reads the key for a fresh
// modify index; the loser destroys its session and reuses the last known
// index when it has one.
//
// # Watch
//
// A single long-poll on the leadership key is in flight at any time. Work is
// tracked by a cancelable handle; installing a new handle disposes the
// previous one first, and a disposed handle never triggers further
// transitions. A watch that elapses without change is re-armed immediately.
// A change to a free lock triggers a new apply; a change to a held lock keeps
// watching from the new index.
//
// # Errors
//
// Errors are classified with types.Classify:
//   - Non-recoverable: stop immediately
//   - Watch timeout: re-watch immediately, not counted
//   - Anything else: retry with exponential backoff and jitter until
//     MaxRetryAttempts is exceeded, then stop
//
// # Stop
//
// Stop disposes the active handle, waits for in-flight work, cancels session
// renewal, releases the lock and destroys the session. The whole sequence is
// bounded by the configured timeout and always ends with a reset state, so
// the orchestrator can be started again.
package election
