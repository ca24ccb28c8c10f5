// Package session manages the lifecycle of the store-side session backing an
// election attempt.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/arloliu/leadership/types"
)

// ErrSpecFactoryRequired is returned when no session spec factory is configured.
var ErrSpecFactoryRequired = errors.New("session spec factory is required")

// Config holds the session handler timings.
type Config struct {
	// RenewalDelay is the interval between renewals.
	RenewalDelay time.Duration

	// Timeout bounds each renewal call.
	Timeout time.Duration
}

// Handler creates, renews and destroys sessions.
//
// At most one renewal schedule is active at a time; scheduling a new one
// stops the previous schedule.
type Handler struct {
	svc     types.LockService
	spec    types.SessionSpecFactory
	cfg     Config
	logger  types.Logger
	metrics types.SessionMetrics

	current atomic.Pointer[renewal]
}

// NewHandler creates a session handler.
//
// Parameters:
//   - svc: Lock service holding the sessions
//   - spec: Factory for the spec of every new session
//   - cfg: Renewal timings
//   - logger: Logger for renewal and cleanup failures
//   - metrics: Session metrics collector
//
// Returns:
//   - *Handler: New session handler
func NewHandler(svc types.LockService, spec types.SessionSpecFactory, cfg Config,
	logger types.Logger, metrics types.SessionMetrics,
) *Handler {
	return &Handler{svc: svc, spec: spec, cfg: cfg, logger: logger, metrics: metrics}
}

// CreateNewSession creates a session from a freshly built spec.
//
// Any failure, whether building the spec or talking to the store, is
// returned as non-recoverable.
func (h *Handler) CreateNewSession(ctx context.Context) (string, error) {
	if h.spec == nil {
		h.metrics.RecordSessionCreated(false)
		return "", types.NonRecoverable("session creation failed", ErrSpecFactoryRequired)
	}

	spec, err := h.spec()
	if err != nil {
		h.metrics.RecordSessionCreated(false)
		return "", types.NonRecoverable("session creation failed", err)
	}

	id, err := h.svc.CreateSession(ctx, spec)
	if err != nil {
		h.metrics.RecordSessionCreated(false)
		return "", types.NonRecoverable("session creation failed", err)
	}

	h.metrics.RecordSessionCreated(true)
	h.logger.Debug("session created", "session", id, "name", spec.Name, "ttl", spec.TTL)

	return id, nil
}

// DestroySession destroys a session. Failures are logged and swallowed.
func (h *Handler) DestroySession(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}

	if err := h.svc.DestroySession(ctx, sessionID); err != nil {
		h.logger.Warn("failed to destroy session", "session", sessionID, "error", err)
		return
	}

	h.logger.Debug("session destroyed", "session", sessionID)
}

// ScheduleSessionRenewal starts renewing sessionID, replacing any previous schedule.
func (h *Handler) ScheduleSessionRenewal(sessionID string) {
	r := startRenewal(sessionID, h.svc, h.cfg.RenewalDelay, h.cfg.Timeout, h.logger, h.metrics)
	if prev := h.current.Swap(r); prev != nil {
		prev.stop()
	}

	h.logger.Debug("session renewal scheduled", "session", sessionID, "interval", h.cfg.RenewalDelay)
}

// CancelSessionRenewal stops the active schedule and returns the session id it
// was renewing, or "" if nothing was scheduled.
func (h *Handler) CancelSessionRenewal() string {
	r := h.current.Swap(nil)
	if r == nil {
		h.logger.Debug("no session renewal to cancel")
		return ""
	}

	if !r.stop() {
		h.logger.Warn("session renewal was already cancelled", "session", r.sessionID)
	}

	return r.sessionID
}
