package leadership

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/arloliu/leadership/internal/details"
	"github.com/arloliu/leadership/internal/election"
	"github.com/arloliu/leadership/internal/events"
	"github.com/arloliu/leadership/internal/hooks"
	"github.com/arloliu/leadership/internal/instrument"
	lockops "github.com/arloliu/leadership/internal/leadership"
	"github.com/arloliu/leadership/internal/logging"
	"github.com/arloliu/leadership/internal/metrics"
	"github.com/arloliu/leadership/internal/session"
	"github.com/arloliu/leadership/internal/status"
)

// Election competes for a single leadership key held in a lock service.
//
// Election is the main entry point of the library. It wires:
//   - a session handler creating and renewing a fresh session per attempt
//   - a leadership handler acquiring, releasing and reading the key
//   - the orchestrator running the acquire/watch/retry state machine
//   - an events publisher fanning notifications out to listeners
//   - a status cache answering IsLeader and Details synchronously
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - Start and Stop never return errors; a failed election settles in
//     StateIdle and needs another Start
//
// Lifecycle:
//   - Create with NewElection()
//   - Call Start() to begin competing
//   - Observe changes with listeners, hooks or IsLeader()
//   - Call Stop() to release the lock and destroy the session
type Election struct {
	cfg Config

	logger    Logger
	publisher *events.Publisher
	cache     *status.Cache
	orch      *election.Orchestrator
}

// NewElection creates an election for cfg.Path over svc.
//
// Parameters:
//   - cfg: Configuration; missing values are filled with defaults in place
//   - svc: Lock service holding sessions and the leadership key
//   - opts: Optional dependencies (logger, metrics, hooks, listeners, factories)
//
// Returns:
//   - *Election: Idle election ready to Start
//   - error: ErrInvalidConfig or ErrLockServiceRequired
//
// Example:
//
//	cfg := leadership.DefaultConfig()
//	cfg.Path = "leadership/my-app"
//	e, err := leadership.NewElection(&cfg, svc, leadership.WithListener(leadership.Listener{
//	    OnLeadershipChanged: func(isLeader bool) { log.Println("leader:", isLeader) },
//	}))
//	if err != nil {
//	    return err
//	}
//	e.Start()
//	defer e.Stop()
func NewElection(cfg *Config, svc LockService, opts ...Option) (*Election, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if svc == nil {
		return nil, ErrLockServiceRequired
	}

	// Fill in missing configuration values with defaults
	SetDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	options := &electionOptions{}
	for _, opt := range opts {
		opt(options)
	}

	// Provide safe defaults for optional dependencies to avoid nil checks everywhere
	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewSlogDefault()
	}

	cfg.ValidateWithWarnings(loggerInstance)

	codec := options.codec
	if codec == nil {
		codec = details.JSONCodec{}
	}

	provider := options.provider
	if provider == nil {
		provider = details.NewProvider(details.Identity{
			InstanceName: cfg.Identity.InstanceName,
			Namespace:    cfg.Identity.Namespace,
			ClusterName:  cfg.Identity.ClusterName,
		})
	}

	specFactory := options.specFactory
	if specFactory == nil {
		specFactory = defaultSessionSpec(cfg)
	}

	instrumented := instrument.Wrap(svc, metricsCollector)

	publisher := events.NewPublisher(codec, loggerInstance)
	cache := status.NewCache()
	publisher.Subscribe(cache.Listener())
	for _, l := range options.listeners {
		publisher.Subscribe(l)
	}

	sessions := session.NewHandler(instrumented, specFactory, session.Config{
		RenewalDelay: cfg.Election.SessionRenewalDelay,
		Timeout:      cfg.Election.Timeout,
	}, loggerInstance, metricsCollector)

	leadershipHandler := lockops.NewHandler(cfg.Path, instrumented, provider, codec, publisher, loggerInstance)

	orch := election.New(election.Config{
		Key:              cfg.Path,
		MaxRetryAttempts: cfg.Election.MaxRetryAttempts,
		RetryDelay:       cfg.Election.RetryDelay,
		Timeout:          cfg.Election.Timeout,
		RetrySeed:        options.retrySeed,
	}, election.Deps{
		Sessions:   sessions,
		Leadership: leadershipHandler,
		Watcher:    instrumented,
		Logger:     loggerInstance,
		Metrics:    metricsCollector,
		Hooks:      hooks.Fill(options.hooks),
	})

	return &Election{
		cfg:       *cfg,
		logger:    loggerInstance,
		publisher: publisher,
		cache:     cache,
		orch:      orch,
	}, nil
}

// defaultSessionSpec names sessions after the instance and releases the lock
// when the session is invalidated.
func defaultSessionSpec(cfg *Config) SessionSpecFactory {
	spec := SessionSpec{
		Name:      cfg.Identity.InstanceName,
		LockDelay: cfg.Election.SessionLockDelay,
		TTL:       cfg.Election.SessionTTL,
		Behavior:  SessionBehaviorRelease,
	}

	return func() (SessionSpec, error) {
		return spec, nil
	}
}

// Start begins competing for leadership without blocking. Calling Start on a
// running election is a no-op.
func (e *Election) Start() {
	e.logger.Info("starting election", "key", e.cfg.Path, "instance", e.cfg.Identity.InstanceName,
		"listeners", e.publisher.Len())
	e.orch.Start()
}

// Stop releases the lock if held, destroys the session and waits for cleanup
// up to the configured timeout. Stop is idempotent.
//
// IsLeader reports false once Stop returns, even when cleanup timed out.
func (e *Election) Stop() {
	e.orch.Stop()
	e.cache.Reset()
}

// Key returns the leadership key.
func (e *Election) Key() string {
	return e.cfg.Path
}

// IsLeader reports whether the last notification said this instance leads.
func (e *Election) IsLeader() bool {
	return e.cache.IsLeader()
}

// Details returns the last leadership details observed on the key, or nil
// if none were seen yet. The returned value is a copy.
func (e *Election) Details() *Details {
	return e.cache.Details()
}

// State returns the current election state.
func (e *Election) State() State {
	return e.orch.State()
}

// Subscribe registers l for leadership notifications and returns a function
// removing it.
func (e *Election) Subscribe(l Listener) func() {
	return e.publisher.Subscribe(l)
}

// StatusHandler serves the cached leadership status as JSON:
//
//	{"isLeader": true, "details": {"instanceName": "pod-0", ...}}
func (e *Election) StatusHandler() http.Handler {
	return e.cache.Handler()
}

// WaitState waits for the election to reach the expected state within the timeout period.
//
// The returned channel receives exactly one value, nil once the state is
// reached or context.DeadlineExceeded, and is then closed.
//
// Example:
//
//	if err := <-e.WaitState(leadership.StateWatching, 5*time.Second); err != nil {
//	    return fmt.Errorf("election did not settle: %w", err)
//	}
func (e *Election) WaitState(expectedState State, timeout time.Duration) <-chan error {
	ch := make(chan error, 1) // Buffered to prevent goroutine leak

	go func() {
		defer close(ch)

		if e.State() == expectedState {
			ch <- nil
			return
		}

		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()

		timeoutTimer := time.NewTimer(timeout)
		defer timeoutTimer.Stop()

		for {
			select {
			case <-ticker.C:
				if e.State() == expectedState {
					ch <- nil
					return
				}
			case <-timeoutTimer.C:
				ch <- context.DeadlineExceeded
				return
			}
		}
	}()

	return ch
}
