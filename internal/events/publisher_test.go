package events

import (
	"sync"
	"testing"

	"github.com/arloliu/leadership/internal/details"
	"github.com/arloliu/leadership/internal/logger"
	"github.com/arloliu/leadership/types"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	leaders []bool
	details []types.Details
}

func (r *recorder) listener() types.Listener {
	return types.Listener{
		OnLeadershipChanged: func(isLeader bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.leaders = append(r.leaders, isLeader)
		},
		OnLeadershipDetailsChanged: func(d types.Details) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.details = append(r.details, d)
		},
	}
}

func newPublisher(t *testing.T) *Publisher {
	t.Helper()
	return NewPublisher(details.JSONCodec{}, logger.NewTest(t))
}

func TestPublisher_LeadershipChanged(t *testing.T) {
	p := newPublisher(t)
	r1, r2 := &recorder{}, &recorder{}
	p.Subscribe(r1.listener())
	p.Subscribe(r2.listener())

	p.PublishLeadershipChanged(true)
	p.PublishLeadershipChanged(false)

	require.Equal(t, []bool{true, false}, r1.leaders)
	require.Equal(t, []bool{true, false}, r2.leaders)
}

func TestPublisher_DetailsChanged(t *testing.T) {
	p := newPublisher(t)
	r := &recorder{}
	p.Subscribe(r.listener())

	t.Run("decodes and delivers", func(t *testing.T) {
		err := p.PublishLeadershipDetailsChanged([]byte(`{"instanceName":"pod-a","namespace":"prod"}`))
		require.NoError(t, err)
		require.Len(t, r.details, 1)
		require.Equal(t, "pod-a", r.details[0].InstanceName)
	})

	t.Run("empty payload skipped", func(t *testing.T) {
		require.NoError(t, p.PublishLeadershipDetailsChanged(nil))
		require.Len(t, r.details, 1)
	})

	t.Run("decode failure is non-recoverable", func(t *testing.T) {
		err := p.PublishLeadershipDetailsChanged([]byte("{broken"))
		require.ErrorIs(t, err, types.ErrNonRecoverable)
		require.Len(t, r.details, 1)
	})
}

func TestPublisher_Unsubscribe(t *testing.T) {
	p := newPublisher(t)
	r := &recorder{}
	unsubscribe := p.Subscribe(r.listener())
	require.Equal(t, 1, p.Len())

	unsubscribe()
	unsubscribe()
	require.Equal(t, 0, p.Len())

	p.PublishLeadershipChanged(true)
	require.Empty(t, r.leaders)
}

func TestPublisher_PartialListener(t *testing.T) {
	p := newPublisher(t)
	var got []bool
	p.Subscribe(types.Listener{OnLeadershipChanged: func(b bool) { got = append(got, b) }})

	require.NotPanics(t, func() {
		require.NoError(t, p.PublishLeadershipDetailsChanged([]byte(`{"instanceName":"x"}`)))
		p.PublishLeadershipChanged(true)
	})
	require.Equal(t, []bool{true}, got)
}
