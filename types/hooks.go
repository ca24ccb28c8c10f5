package types

import "context"

// Hooks defines callbacks for election lifecycle events.
//
// All hooks are optional. They are called asynchronously in background
// goroutines so a slow hook never blocks the election state machine. The
// context passed to them expires after the election timeout.
//
// Hook errors are logged but never change the election outcome.
//
// Example:
//
//	hooks := &leadership.Hooks{
//	    OnStateChanged: func(ctx context.Context, from, to leadership.State) error {
//	        log.Printf("election %s -> %s", from, to)
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnStateChanged is called when the election state transitions.
	OnStateChanged func(ctx context.Context, from, to State) error

	// OnError is called for every error the election handles, recoverable or not.
	OnError func(ctx context.Context, err error) error
}
