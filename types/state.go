package types

// State represents the election lifecycle state.
//
// States follow a defined progression during normal operation:
//
//	StateIdle → StateApplying → StateLeading/StateFollowing → StateWatching
//
// A change observed while watching moves the election back to StateApplying
// when the lock is free. Stop always passes through StateStopping and ends in
// StateIdle.
type State int

const (
	// StateIdle indicates the election is not running.
	StateIdle State = iota

	// StateApplying indicates a session is being created and the lock requested.
	StateApplying

	// StateLeading indicates the lock was acquired by this instance.
	StateLeading

	// StateFollowing indicates another instance holds the lock.
	StateFollowing

	// StateWatching indicates a long-poll on the leadership key is in flight.
	StateWatching

	// StateStopping indicates cleanup is in progress.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateApplying:
		return "Applying"
	case StateLeading:
		return "Leading"
	case StateFollowing:
		return "Following"
	case StateWatching:
		return "Watching"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}
