package types

// Listener receives leadership notifications.
//
// Both callbacks are optional and invoked synchronously on the goroutine that
// produced the event, so implementations must return quickly.
type Listener struct {
	// OnLeadershipChanged is called with the outcome of every acquisition
	// attempt and when this instance observes that it lost the lock.
	OnLeadershipChanged func(isLeader bool)

	// OnLeadershipDetailsChanged is called whenever fresh leadership details
	// are read or observed on the leadership key.
	OnLeadershipDetailsChanged func(details Details)
}
