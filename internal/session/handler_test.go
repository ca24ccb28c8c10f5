package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leadership/internal/logger"
	"github.com/arloliu/leadership/internal/metrics"
	"github.com/arloliu/leadership/lockservice/memory"
	"github.com/arloliu/leadership/types"
)

func testSpec() (types.SessionSpec, error) {
	return types.SessionSpec{
		Name:      "leadership/test",
		LockDelay: time.Second,
		TTL:       time.Second,
		Behavior:  types.SessionBehaviorRelease,
	}, nil
}

func newHandler(t *testing.T, svc types.LockService, spec types.SessionSpecFactory) (*Handler, *logger.TestLogger) {
	t.Helper()

	log := logger.NewTest(t)
	cfg := Config{RenewalDelay: 20 * time.Millisecond, Timeout: 100 * time.Millisecond}

	return NewHandler(svc, spec, cfg, log, metrics.NewNop()), log
}

func TestHandler_CreateNewSession(t *testing.T) {
	t.Run("creates session", func(t *testing.T) {
		svc := memory.New()
		h, _ := newHandler(t, svc, testSpec)

		id, err := h.CreateNewSession(t.Context())
		require.NoError(t, err)
		require.NotEmpty(t, id)
		require.Equal(t, 1, svc.SessionCount())
	})

	t.Run("transport failure is non-recoverable", func(t *testing.T) {
		svc := memory.New()
		svc.Fail(memory.OpCreateSession, errors.New("connection refused"))
		h, _ := newHandler(t, svc, testSpec)

		_, err := h.CreateNewSession(t.Context())
		require.ErrorIs(t, err, types.ErrNonRecoverable)
		require.Contains(t, err.Error(), "connection refused")
	})

	t.Run("spec failure is non-recoverable", func(t *testing.T) {
		specErr := errors.New("no hostname")
		h, _ := newHandler(t, memory.New(), func() (types.SessionSpec, error) {
			return types.SessionSpec{}, specErr
		})

		_, err := h.CreateNewSession(t.Context())
		require.ErrorIs(t, err, types.ErrNonRecoverable)
		require.ErrorIs(t, err, specErr)
	})

	t.Run("missing spec factory", func(t *testing.T) {
		h, _ := newHandler(t, memory.New(), nil)

		_, err := h.CreateNewSession(t.Context())
		require.ErrorIs(t, err, ErrSpecFactoryRequired)
	})
}

func TestHandler_DestroySession(t *testing.T) {
	t.Run("destroys session", func(t *testing.T) {
		svc := memory.New()
		h, _ := newHandler(t, svc, testSpec)
		id, err := h.CreateNewSession(t.Context())
		require.NoError(t, err)

		h.DestroySession(t.Context(), id)
		require.Equal(t, 0, svc.SessionCount())
	})

	t.Run("failure is swallowed", func(t *testing.T) {
		svc := memory.New()
		svc.Fail(memory.OpDestroySession, errors.New("timeout"))
		h, log := newHandler(t, svc, testSpec)

		require.NotPanics(t, func() { h.DestroySession(t.Context(), "s-1") })
		require.True(t, log.Contains("WARN", "failed to destroy session"))
	})

	t.Run("empty id is ignored", func(t *testing.T) {
		svc := memory.New()
		h, _ := newHandler(t, svc, testSpec)

		h.DestroySession(t.Context(), "")
		require.Equal(t, 0, svc.Calls(memory.OpDestroySession))
	})
}

func TestHandler_Renewal(t *testing.T) {
	t.Run("renews immediately and periodically", func(t *testing.T) {
		svc := memory.New()
		h, _ := newHandler(t, svc, testSpec)
		id, err := h.CreateNewSession(t.Context())
		require.NoError(t, err)

		h.ScheduleSessionRenewal(id)
		require.Eventually(t, func() bool {
			return svc.Calls(memory.OpRenewSession) >= 3
		}, 2*time.Second, 5*time.Millisecond)

		require.Equal(t, id, h.CancelSessionRenewal())

		calls := svc.Calls(memory.OpRenewSession)
		time.Sleep(80 * time.Millisecond)
		require.Equal(t, calls, svc.Calls(memory.OpRenewSession))
	})

	t.Run("keeps the session alive past its TTL", func(t *testing.T) {
		svc := memory.New()
		h, _ := newHandler(t, svc, func() (types.SessionSpec, error) {
			return types.SessionSpec{TTL: 100 * time.Millisecond, Behavior: types.SessionBehaviorRelease}, nil
		})
		id, err := h.CreateNewSession(t.Context())
		require.NoError(t, err)

		h.ScheduleSessionRenewal(id)
		time.Sleep(300 * time.Millisecond)
		require.NoError(t, svc.RenewSession(t.Context(), id))
		h.CancelSessionRenewal()
	})

	t.Run("failures do not cancel the schedule", func(t *testing.T) {
		svc := memory.New()
		svc.Fail(memory.OpRenewSession, errors.New("unavailable"), errors.New("unavailable"))
		h, log := newHandler(t, svc, testSpec)
		id, err := h.CreateNewSession(t.Context())
		require.NoError(t, err)

		h.ScheduleSessionRenewal(id)
		require.Eventually(t, func() bool {
			return svc.Calls(memory.OpRenewSession) >= 4
		}, 2*time.Second, 5*time.Millisecond)
		h.CancelSessionRenewal()

		require.True(t, log.Contains("ERROR", "failed to renew session"))
	})

	t.Run("scheduling replaces the previous renewal", func(t *testing.T) {
		svc := memory.New()
		h, _ := newHandler(t, svc, testSpec)

		h.ScheduleSessionRenewal("s-1")
		h.ScheduleSessionRenewal("s-2")

		require.Equal(t, "s-2", h.CancelSessionRenewal())
		require.Empty(t, h.CancelSessionRenewal())
	})

	t.Run("cancel without schedule", func(t *testing.T) {
		h, _ := newHandler(t, memory.New(), testSpec)
		require.Empty(t, h.CancelSessionRenewal())
	})
}
