package leadership

import "github.com/arloliu/leadership/types"

// Re-export types from the types package.
//
// Internal packages depend on `types` rather than on the root package, which
// keeps the import graph acyclic while users still write leadership.State,
// leadership.Logger and so on.
type (
	State           = types.State
	Entry           = types.Entry
	Details         = types.Details
	SessionSpec     = types.SessionSpec
	SessionBehavior = types.SessionBehavior
	Listener        = types.Listener
)

// Re-export interfaces from the types package for convenience.
type (
	LockService        = types.LockService
	SessionSpecFactory = types.SessionSpecFactory
	DetailsProvider    = types.DetailsProvider
	Codec              = types.Codec
	MetricsCollector   = types.MetricsCollector
	Logger             = types.Logger
	Hooks              = types.Hooks
)

// Re-export State constants from the types package.
const (
	StateIdle      = types.StateIdle
	StateApplying  = types.StateApplying
	StateLeading   = types.StateLeading
	StateFollowing = types.StateFollowing
	StateWatching  = types.StateWatching
	StateStopping  = types.StateStopping
)

// Re-export SessionBehavior constants from the types package.
const (
	SessionBehaviorRelease = types.SessionBehaviorRelease
	SessionBehaviorDelete  = types.SessionBehaviorDelete
)
