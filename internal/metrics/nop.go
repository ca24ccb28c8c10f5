// Package metrics provides types.MetricsCollector implementations.
package metrics

import "github.com/arloliu/leadership/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	election, err := leadership.NewElection(cfg, svc, leadership.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// ElectionMetrics implementation

// RecordStateTransition discards the state transition metric.
func (n *NopMetrics) RecordStateTransition(_ /* from */, _ /* to */ types.State, _ /* duration */ float64) {
}

// RecordLeadershipChange discards the leadership change metric.
func (n *NopMetrics) RecordLeadershipChange(_ /* isLeader */ bool) {}

// RecordRetry discards the retry metric.
func (n *NopMetrics) RecordRetry(_ /* operation */ string) {}

// RecordRetryBackoff discards the backoff metric.
func (n *NopMetrics) RecordRetryBackoff(_ /* operation */ string, _ /* delay */ float64) {}

// RecordWatchTimeout discards the watch timeout metric.
func (n *NopMetrics) RecordWatchTimeout() {}

// RecordStop discards the stop metric.
func (n *NopMetrics) RecordStop(_ /* reason */ string) {}

// SessionMetrics implementation

// RecordSessionCreated discards the session creation metric.
func (n *NopMetrics) RecordSessionCreated(_ /* success */ bool) {}

// RecordSessionRenewal discards the session renewal metric.
func (n *NopMetrics) RecordSessionRenewal(_ /* success */ bool) {}

// LockServiceMetrics implementation

// RecordLockServiceOperation discards the lock service latency metric.
func (n *NopMetrics) RecordLockServiceOperation(_ /* operation */ string, _ /* duration */ float64, _ /* success */ bool) {
}
