package metrics

import (
	"testing"

	"github.com/arloliu/leadership/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheus_Defaults(t *testing.T) {
	p := NewPrometheus(nil, "")

	require.Equal(t, prometheus.DefaultRegisterer, p.reg)
	require.Equal(t, "leadership", p.namespace)
}

func TestPrometheusCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	p.RecordStateTransition(types.StateApplying, types.StateLeading, 0.2)
	p.RecordStateTransition(types.StateApplying, types.StateLeading, 0.1)
	p.RecordLeadershipChange(true)
	p.RecordRetry("apply")
	p.RecordRetryBackoff("apply", 0.5)
	p.RecordWatchTimeout()
	p.RecordWatchTimeout()
	p.RecordSessionCreated(true)
	p.RecordSessionRenewal(false)
	p.RecordLockServiceOperation("acquire", 0.003, true)

	require.InDelta(t, 2, testutil.ToFloat64(p.stateTransitions.WithLabelValues("Applying", "Leading")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.isLeader), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.leadershipChanges.WithLabelValues("true")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.retries.WithLabelValues("apply")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(p.watchTimeouts), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.sessionsCreated.WithLabelValues("success")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.sessionRenewals.WithLabelValues("failure")), 0)

	p.RecordStop("requested")
	require.InDelta(t, 0, testutil.ToFloat64(p.isLeader), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.stops.WithLabelValues("requested")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestPrometheusCollector_LazyRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewPrometheus(reg, "lazy")

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Empty(t, families)
}
