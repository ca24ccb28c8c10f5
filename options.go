package leadership

// Option configures an Election with optional dependencies.
type Option func(*electionOptions)

// electionOptions holds optional Election configuration.
type electionOptions struct {
	logger      Logger
	metrics     MetricsCollector
	hooks       *Hooks
	listeners   []Listener
	specFactory SessionSpecFactory
	provider    DetailsProvider
	codec       Codec
	retrySeed   int64
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewElection
//
// Example:
//
//	logger := logging.NewSlogDefault()
//	e, err := leadership.NewElection(&cfg, svc, leadership.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *electionOptions) {
		o.logger = logger
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewElection
//
// Example:
//
//	collector := metrics.NewPrometheus(prometheus.DefaultRegisterer, "leadership")
//	e, err := leadership.NewElection(&cfg, svc, leadership.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *electionOptions) {
		o.metrics = metrics
	}
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewElection
//
// Example:
//
//	hooks := &leadership.Hooks{
//	    OnStateChanged: func(ctx context.Context, from, to leadership.State) error {
//	        return audit(ctx, from, to)
//	    },
//	}
//	e, err := leadership.NewElection(&cfg, svc, leadership.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *electionOptions) {
		o.hooks = hooks
	}
}

// WithListener subscribes l to leadership notifications before the election
// starts. It may be given more than once.
//
// Example:
//
//	e, err := leadership.NewElection(&cfg, svc, leadership.WithListener(leadership.Listener{
//	    OnLeadershipChanged: func(isLeader bool) { log.Println("leader:", isLeader) },
//	}))
func WithListener(l Listener) Option {
	return func(o *electionOptions) {
		o.listeners = append(o.listeners, l)
	}
}

// WithSessionSpecFactory replaces the factory building the spec of every new
// session. The default uses the instance name, the configured lock delay and
// TTL, and the release behavior.
func WithSessionSpecFactory(factory SessionSpecFactory) Option {
	return func(o *electionOptions) {
		o.specFactory = factory
	}
}

// WithDetailsProvider replaces the provider of the details written on
// acquire and release. The default stamps the configured identity.
func WithDetailsProvider(provider DetailsProvider) Option {
	return func(o *electionOptions) {
		o.provider = provider
	}
}

// WithCodec replaces the JSON codec used for the leadership key value.
func WithCodec(codec Codec) Option {
	return func(o *electionOptions) {
		o.codec = codec
	}
}

// WithRetrySeed makes the backoff jitter deterministic. Intended for tests.
func WithRetrySeed(seed int64) Option {
	return func(o *electionOptions) {
		o.retrySeed = seed
	}
}
