package metrics

import (
	"strconv"
	"sync"

	"github.com/arloliu/leadership/types"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use, so building a
// collector that is never exercised leaves the registry untouched.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	stateTransitions  *prometheus.CounterVec
	stateDuration     *prometheus.HistogramVec
	isLeader          prometheus.Gauge
	leadershipChanges *prometheus.CounterVec
	retries           *prometheus.CounterVec
	retryBackoff      *prometheus.HistogramVec
	watchTimeouts     prometheus.Counter
	stops             *prometheus.CounterVec
	sessionsCreated   *prometheus.CounterVec
	sessionRenewals   *prometheus.CounterVec
	lockServiceCalls  *prometheus.HistogramVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "leadership" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "leadership"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "state_transitions_total",
			Help:      "Total election state transitions by source and target state.",
		}, []string{"from", "to"})

		p.stateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "state_duration_seconds",
			Help:      "Time spent in a state before transitioning out of it.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10), // 5ms .. ~22min
		}, []string{"state"})

		p.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "is_leader",
			Help:      "Whether this instance currently believes it is leader (1=leader,0=not).",
		})

		p.leadershipChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "leadership_changes_total",
			Help:      "Total leadership outcomes published by result (true,false).",
		}, []string{"leader"})

		p.retries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "retries_total",
			Help:      "Total retries scheduled after recoverable errors by operation.",
		}, []string{"op"})

		p.retryBackoff = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "retry_backoff_seconds",
			Help:      "Computed retry backoff durations in seconds by operation.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"op"})

		p.watchTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "watch_timeouts_total",
			Help:      "Total long-polls on the leadership key that elapsed without change.",
		})

		p.stops = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "election",
			Name:      "stops_total",
			Help:      "Total election stops by reason.",
		}, []string{"reason"})

		p.sessionsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Total session creation attempts by result (success,failure).",
		}, []string{"result"})

		p.sessionRenewals = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "session",
			Name:      "renewals_total",
			Help:      "Total session renewal attempts by result (success,failure).",
		}, []string{"result"})

		p.lockServiceCalls = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "lock_service",
			Name:      "operation_duration_seconds",
			Help:      "Latency of lock service calls by operation and result.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 12), // 1ms .. ~60s
		}, []string{"op", "result"})

		p.reg.MustRegister(
			p.stateTransitions,
			p.stateDuration,
			p.isLeader,
			p.leadershipChanges,
			p.retries,
			p.retryBackoff,
			p.watchTimeouts,
			p.stops,
			p.sessionsCreated,
			p.sessionRenewals,
			p.lockServiceCalls,
		)
	})
}

func result(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}

// RecordStateTransition records an election state transition.
func (p *PrometheusCollector) RecordStateTransition(from, to types.State, duration float64) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	if duration >= 0 {
		p.stateDuration.WithLabelValues(from.String()).Observe(duration)
	}
}

// RecordLeadershipChange records a leadership outcome and updates the leader gauge.
func (p *PrometheusCollector) RecordLeadershipChange(isLeader bool) {
	p.ensureRegistered()
	p.leadershipChanges.WithLabelValues(strconv.FormatBool(isLeader)).Inc()
	if isLeader {
		p.isLeader.Set(1)
	} else {
		p.isLeader.Set(0)
	}
}

// RecordRetry records a scheduled retry.
func (p *PrometheusCollector) RecordRetry(operation string) {
	p.ensureRegistered()
	p.retries.WithLabelValues(operation).Inc()
}

// RecordRetryBackoff records a computed backoff delay.
func (p *PrometheusCollector) RecordRetryBackoff(operation string, delay float64) {
	p.ensureRegistered()
	if delay < 0 {
		delay = 0
	}
	p.retryBackoff.WithLabelValues(operation).Observe(delay)
}

// RecordWatchTimeout records a long-poll timeout.
func (p *PrometheusCollector) RecordWatchTimeout() {
	p.ensureRegistered()
	p.watchTimeouts.Inc()
}

// RecordStop records an election stop and clears the leader gauge.
func (p *PrometheusCollector) RecordStop(reason string) {
	p.ensureRegistered()
	p.stops.WithLabelValues(reason).Inc()
	p.isLeader.Set(0)
}

// RecordSessionCreated records a session creation attempt.
func (p *PrometheusCollector) RecordSessionCreated(success bool) {
	p.ensureRegistered()
	p.sessionsCreated.WithLabelValues(result(success)).Inc()
}

// RecordSessionRenewal records a session renewal attempt.
func (p *PrometheusCollector) RecordSessionRenewal(success bool) {
	p.ensureRegistered()
	p.sessionRenewals.WithLabelValues(result(success)).Inc()
}

// RecordLockServiceOperation records lock service call latency.
func (p *PrometheusCollector) RecordLockServiceOperation(operation string, duration float64, success bool) {
	p.ensureRegistered()
	p.lockServiceCalls.WithLabelValues(operation, result(success)).Observe(duration)
}
