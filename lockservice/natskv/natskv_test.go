package natskv_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/leadership/lockservice/lockservicetest"
	"github.com/arloliu/leadership/lockservice/natskv"
	leadershiptest "github.com/arloliu/leadership/testing"
	"github.com/arloliu/leadership/types"
)

const waitTime = 300 * time.Millisecond

type clock struct {
	offset atomic.Int64
}

func (c *clock) now() time.Time {
	return time.Now().Add(time.Duration(c.offset.Load()))
}

func (c *clock) advance(d time.Duration) {
	c.offset.Add(int64(d))
}

func newService(t *testing.T, js jetstream.JetStream, bucket string, now func() time.Time) *natskv.Service {
	t.Helper()

	svc, err := natskv.New(t.Context(), js, natskv.Options{
		Bucket:   bucket,
		Storage:  jetstream.MemoryStorage,
		WaitTime: waitTime,
		Now:      now,
	})
	require.NoError(t, err)

	return svc
}

func TestService_Conformance(t *testing.T) {
	_, nc := leadershiptest.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	var (
		buckets atomic.Int32
		current atomic.Pointer[clock]
	)
	lockservicetest.Run(t, lockservicetest.Options{
		New: func(t *testing.T) types.LockService {
			c := &clock{}
			current.Store(c)
			// a fresh pair of buckets isolates every subtest
			n := buckets.Add(1)

			return newService(t, js, fmt.Sprintf("conformance-%d", n), c.now)
		},
		WaitTime: waitTime,
		Advance: func(t *testing.T, d time.Duration) {
			current.Load().advance(d)
		},
	})
}

func TestService_SharedBuckets(t *testing.T) {
	_, nc := leadershiptest.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)
	ctx := t.Context()
	key := "leadership/shared"

	// two participants opening the same buckets see each other's locks
	a := newService(t, js, "shared", nil)
	b := newService(t, js, "shared", nil)

	spec := types.SessionSpec{Name: "a", TTL: 10 * time.Second}
	sa, err := a.CreateSession(ctx, spec)
	require.NoError(t, err)
	sb, err := b.CreateSession(ctx, spec)
	require.NoError(t, err)

	ok, err := a.AcquireLock(ctx, key, []byte("a"), sa)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.AcquireLock(ctx, key, []byte("b"), sb)
	require.NoError(t, err)
	require.False(t, ok)

	entries, err := b.ReadEntry(ctx, key)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, sa, entries[0].SessionID)
	require.Equal(t, []byte("a"), entries[0].Value)
}

func TestService_WatchSurfacesExpiredHolder(t *testing.T) {
	_, nc := leadershiptest.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)
	ctx := t.Context()
	key := "leadership/expired-holder"

	c := &clock{}
	svc := newService(t, js, "expired", c.now)

	id, err := svc.CreateSession(ctx, types.SessionSpec{TTL: 5 * time.Second})
	require.NoError(t, err)
	ok, err := svc.AcquireLock(ctx, key, []byte("held"), id)
	require.NoError(t, err)
	require.True(t, ok)

	entries, err := svc.ReadEntry(ctx, key)
	require.NoError(t, err)
	since := entries[0].ModifyIndex

	c.advance(6 * time.Second)

	entries, err = svc.WatchEntry(ctx, key, since)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Empty(t, entries[0].SessionID)
	require.Greater(t, entries[0].ModifyIndex, since)
}

func TestService_RejectsInvalidSpec(t *testing.T) {
	_, nc := leadershiptest.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)
	svc := newService(t, js, "invalid", nil)

	tests := []struct {
		name string
		spec types.SessionSpec
	}{
		{"zero ttl", types.SessionSpec{}},
		{"ttl above max", types.SessionSpec{TTL: 2 * time.Hour}},
		{"negative lock delay", types.SessionSpec{TTL: time.Second, LockDelay: -time.Second}},
		{"unknown behavior", types.SessionSpec{TTL: time.Second, Behavior: "keep"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateSession(t.Context(), tt.spec)
			require.Error(t, err)
		})
	}
}

func TestService_ConnectionLossIsRecoverable(t *testing.T) {
	_, nc := leadershiptest.StartEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)
	svc := newService(t, js, "closed", nil)

	nc.Close()

	_, err = svc.CreateSession(t.Context(), types.SessionSpec{TTL: time.Second, Behavior: types.SessionBehaviorRelease})
	require.ErrorIs(t, err, natskv.ErrUnavailable)
	require.Equal(t, types.KindRecoverable, types.Classify(err))

	_, err = svc.ReadEntry(t.Context(), "leadership/closed")
	require.ErrorIs(t, err, natskv.ErrUnavailable)
	require.Equal(t, types.KindRecoverable, types.Classify(err))
}
