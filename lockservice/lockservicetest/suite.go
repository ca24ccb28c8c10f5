// Package lockservicetest provides a conformance suite for types.LockService
// implementations.
package lockservicetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leadership/types"
)

// Options configures the suite for a backend.
type Options struct {
	// New returns a fresh, empty lock service for each subtest. The service
	// must return ErrWatchTimeout from WatchEntry after at most WaitTime.
	New func(t *testing.T) types.LockService

	// WaitTime is the blocking-read wait time the backend was built with.
	WaitTime time.Duration

	// Advance moves the backend clock forward. Expiry subtests are skipped
	// when nil.
	Advance func(t *testing.T, d time.Duration)
}

func spec(lockDelay time.Duration, behavior types.SessionBehavior) types.SessionSpec {
	return types.SessionSpec{
		Name:      "conformance",
		LockDelay: lockDelay,
		TTL:       10 * time.Second,
		Behavior:  behavior,
	}
}

func createSession(t *testing.T, svc types.LockService, s types.SessionSpec) string {
	t.Helper()

	id, err := svc.CreateSession(t.Context(), s)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	return id
}

func readOne(t *testing.T, svc types.LockService, key string) types.Entry {
	t.Helper()

	entries, err := svc.ReadEntry(t.Context(), key)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	return entries[0]
}

// Run executes the conformance suite.
func Run(t *testing.T, opts Options) {
	t.Run("session lifecycle", func(t *testing.T) {
		svc := opts.New(t)
		ctx := t.Context()

		id := createSession(t, svc, spec(0, types.SessionBehaviorRelease))
		require.NoError(t, svc.RenewSession(ctx, id))
		require.NoError(t, svc.DestroySession(ctx, id))

		err := svc.RenewSession(ctx, id)
		require.ErrorIs(t, err, types.ErrSessionNotFound)

		// destroying twice is not an error
		require.NoError(t, svc.DestroySession(ctx, id))
	})

	t.Run("sessions are unique", func(t *testing.T) {
		svc := opts.New(t)

		a := createSession(t, svc, spec(0, types.SessionBehaviorRelease))
		b := createSession(t, svc, spec(0, types.SessionBehaviorRelease))
		require.NotEqual(t, a, b)
	})

	t.Run("read missing key", func(t *testing.T) {
		svc := opts.New(t)

		entries, err := svc.ReadEntry(t.Context(), "leadership/missing")
		require.NoError(t, err)
		require.Empty(t, entries)
	})

	t.Run("acquire is exclusive", func(t *testing.T) {
		svc := opts.New(t)
		ctx := t.Context()
		key := "leadership/exclusive"

		s1 := createSession(t, svc, spec(0, types.SessionBehaviorRelease))
		s2 := createSession(t, svc, spec(0, types.SessionBehaviorRelease))

		ok, err := svc.AcquireLock(ctx, key, []byte("one"), s1)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = svc.AcquireLock(ctx, key, []byte("two"), s2)
		require.NoError(t, err)
		require.False(t, ok)

		e := readOne(t, svc, key)
		require.Equal(t, key, e.Key)
		require.Equal(t, s1, e.SessionID)
		require.Equal(t, []byte("one"), e.Value)
		require.NotZero(t, e.ModifyIndex)
	})

	t.Run("release frees the lock", func(t *testing.T) {
		svc := opts.New(t)
		ctx := t.Context()
		key := "leadership/release"

		s1 := createSession(t, svc, spec(time.Minute, types.SessionBehaviorRelease))
		s2 := createSession(t, svc, spec(time.Minute, types.SessionBehaviorRelease))

		ok, err := svc.AcquireLock(ctx, key, []byte("held"), s1)
		require.NoError(t, err)
		require.True(t, ok)
		before := readOne(t, svc, key)

		// release by a non-holder is ignored
		require.NoError(t, svc.ReleaseLock(ctx, key, []byte("bogus"), s2))
		require.Equal(t, s1, readOne(t, svc, key).SessionID)

		require.NoError(t, svc.ReleaseLock(ctx, key, []byte("released"), s1))
		after := readOne(t, svc, key)
		require.Empty(t, after.SessionID)
		require.Equal(t, []byte("released"), after.Value)
		require.Greater(t, after.ModifyIndex, before.ModifyIndex)

		// explicit release imposes no lock delay
		ok, err = svc.AcquireLock(ctx, key, []byte("two"), s2)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("destroy applies lock delay", func(t *testing.T) {
		svc := opts.New(t)
		ctx := t.Context()
		key := "leadership/delay"

		s1 := createSession(t, svc, spec(time.Minute, types.SessionBehaviorRelease))
		ok, err := svc.AcquireLock(ctx, key, []byte("held"), s1)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, svc.DestroySession(ctx, s1))
		e := readOne(t, svc, key)
		require.Empty(t, e.SessionID)

		s2 := createSession(t, svc, spec(0, types.SessionBehaviorRelease))
		ok, err = svc.AcquireLock(ctx, key, []byte("two"), s2)
		require.NoError(t, err)
		require.False(t, ok)

		if opts.Advance != nil {
			opts.Advance(t, 2*time.Minute)
			s3 := createSession(t, svc, spec(0, types.SessionBehaviorRelease))

			ok, err = svc.AcquireLock(ctx, key, []byte("three"), s3)
			require.NoError(t, err)
			require.True(t, ok)
		}
	})

	t.Run("destroy without lock delay", func(t *testing.T) {
		svc := opts.New(t)
		ctx := t.Context()
		key := "leadership/nodelay"

		s1 := createSession(t, svc, spec(0, types.SessionBehaviorRelease))
		ok, err := svc.AcquireLock(ctx, key, []byte("held"), s1)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, svc.DestroySession(ctx, s1))

		s2 := createSession(t, svc, spec(0, types.SessionBehaviorRelease))
		ok, err = svc.AcquireLock(ctx, key, []byte("two"), s2)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("delete behavior removes the entry", func(t *testing.T) {
		svc := opts.New(t)
		ctx := t.Context()
		key := "leadership/delete"

		s1 := createSession(t, svc, spec(0, types.SessionBehaviorDelete))
		ok, err := svc.AcquireLock(ctx, key, []byte("held"), s1)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, svc.DestroySession(ctx, s1))
		entries, err := svc.ReadEntry(ctx, key)
		require.NoError(t, err)
		require.Empty(t, entries)
	})

	t.Run("acquire with unknown session fails", func(t *testing.T) {
		svc := opts.New(t)

		ok, err := svc.AcquireLock(t.Context(), "leadership/unknown", []byte("x"), "does-not-exist")
		require.False(t, ok)
		require.Error(t, err)
	})

	t.Run("watch times out without change", func(t *testing.T) {
		svc := opts.New(t)
		ctx := t.Context()
		key := "leadership/watch-timeout"

		s1 := createSession(t, svc, spec(0, types.SessionBehaviorRelease))
		ok, err := svc.AcquireLock(ctx, key, []byte("held"), s1)
		require.NoError(t, err)
		require.True(t, ok)
		e := readOne(t, svc, key)

		start := time.Now()
		_, err = svc.WatchEntry(ctx, key, e.ModifyIndex)
		require.ErrorIs(t, err, types.ErrWatchTimeout)
		require.Less(t, time.Since(start), opts.WaitTime+5*time.Second)
	})

	t.Run("watch returns on change", func(t *testing.T) {
		svc := opts.New(t)
		ctx := t.Context()
		key := "leadership/watch-change"

		s1 := createSession(t, svc, spec(0, types.SessionBehaviorRelease))
		ok, err := svc.AcquireLock(ctx, key, []byte("held"), s1)
		require.NoError(t, err)
		require.True(t, ok)
		e := readOne(t, svc, key)

		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = svc.ReleaseLock(context.Background(), key, []byte("released"), s1)
		}()

		var entries []types.Entry
		require.Eventually(t, func() bool {
			entries, err = svc.WatchEntry(ctx, key, e.ModifyIndex)
			return !errors.Is(err, types.ErrWatchTimeout)
		}, opts.WaitTime*4+5*time.Second, 10*time.Millisecond)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Empty(t, entries[0].SessionID)
		require.Greater(t, entries[0].ModifyIndex, e.ModifyIndex)
	})

	t.Run("watch behind returns immediately", func(t *testing.T) {
		svc := opts.New(t)
		ctx := t.Context()
		key := "leadership/watch-behind"

		s1 := createSession(t, svc, spec(0, types.SessionBehaviorRelease))
		ok, err := svc.AcquireLock(ctx, key, []byte("held"), s1)
		require.NoError(t, err)
		require.True(t, ok)

		entries, err := svc.WatchEntry(ctx, key, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, s1, entries[0].SessionID)
	})

	t.Run("expired session releases its lock", func(t *testing.T) {
		if opts.Advance == nil {
			t.Skip("backend clock cannot be advanced")
		}
		svc := opts.New(t)
		ctx := t.Context()
		key := "leadership/expiry"

		s1 := createSession(t, svc, spec(0, types.SessionBehaviorRelease))
		ok, err := svc.AcquireLock(ctx, key, []byte("held"), s1)
		require.NoError(t, err)
		require.True(t, ok)

		opts.Advance(t, 11*time.Second)

		require.ErrorIs(t, svc.RenewSession(ctx, s1), types.ErrSessionNotFound)
		require.Empty(t, readOne(t, svc, key).SessionID)
	})
}
