package types

import (
	"context"
	"time"
)

// SessionBehavior controls what happens to locks held by a session when the
// session is invalidated.
type SessionBehavior string

const (
	// SessionBehaviorRelease releases held locks, leaving the entries in place.
	SessionBehaviorRelease SessionBehavior = "release"

	// SessionBehaviorDelete deletes the entries of held locks.
	SessionBehaviorDelete SessionBehavior = "delete"
)

// Valid reports whether b is a known behavior.
func (b SessionBehavior) Valid() bool {
	return b == SessionBehaviorRelease || b == SessionBehaviorDelete
}

// SessionSpec describes a store-side session. The session id is assigned by
// the store on creation.
type SessionSpec struct {
	// Name is a human readable label for the session.
	Name string

	// LockDelay is the period after invalidation during which released locks
	// cannot be re-acquired.
	LockDelay time.Duration

	// TTL is the time after which the session expires unless renewed.
	TTL time.Duration

	// Behavior is applied to held locks on invalidation.
	Behavior SessionBehavior
}

// SessionSpecFactory builds the spec of a new session. A fresh session is
// created for every election attempt.
type SessionSpecFactory func() (SessionSpec, error)

// Entry is a versioned view of a key in the lock service.
type Entry struct {
	// Key is the entry key.
	Key string

	// Value is the opaque payload written by the last acquire or release.
	Value []byte

	// ModifyIndex strictly increases on every mutation of the key and is
	// used as the long-poll cursor.
	ModifyIndex uint64

	// SessionID is the holder of the lock, or empty when nobody holds it.
	SessionID string
}

// Held reports whether some session currently holds the entry.
func (e Entry) Held() bool {
	return e.SessionID != ""
}

// LockService is the coordination store used by the election.
//
// It is expected to provide linearizable compare-and-set semantics on a single
// key, sessions with TTL and lock delay, and blocking reads with a server-side
// wait time.
//
// Implementations:
//   - lockservice/natskv: NATS JetStream key-value buckets
//   - lockservice/consul: Consul sessions and KV
//   - lockservice/redis: Redis keys and Lua scripts
//   - lockservice/memory: in-process store
type LockService interface {
	// CreateSession creates a new session and returns its id.
	CreateSession(ctx context.Context, spec SessionSpec) (string, error)

	// RenewSession extends the TTL of a live session.
	//
	// Returns ErrSessionNotFound when the session has expired or was destroyed.
	RenewSession(ctx context.Context, sessionID string) error

	// DestroySession invalidates a session, applying its behavior to held locks.
	// Destroying an unknown session is not an error.
	DestroySession(ctx context.Context, sessionID string) error

	// AcquireLock writes value to key and marks it held by sessionID if the
	// key is not held by another live session and no lock delay is active.
	//
	// Returns:
	//   - bool: true only when sessionID holds the lock after the call
	//   - error: Transport error
	AcquireLock(ctx context.Context, key string, value []byte, sessionID string) (bool, error)

	// ReleaseLock writes value to key and clears the holder if sessionID holds it.
	ReleaseLock(ctx context.Context, key string, value []byte, sessionID string) error

	// ReadEntry returns the current entry for key, or an empty slice if the key
	// does not exist.
	ReadEntry(ctx context.Context, key string) ([]Entry, error)

	// WatchEntry blocks until the entry's ModifyIndex exceeds since or the
	// store's wait time elapses.
	//
	// Returns:
	//   - []Entry: The entry after the change (empty if the key was deleted)
	//   - error: ErrWatchTimeout when the wait time elapsed with no change
	WatchEntry(ctx context.Context, key string, since uint64) ([]Entry, error)
}
