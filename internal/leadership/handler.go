// Package leadership performs the lock operations of an election attempt and
// relays their outcome to the events publisher.
package leadership

import (
	"context"

	"github.com/arloliu/leadership/types"
)

// Publisher is the subset of the events publisher used by the handler.
type Publisher interface {
	PublishLeadershipChanged(isLeader bool)
	PublishLeadershipDetailsChanged(value []byte) error
}

// Handler acquires, releases and reads the leadership key.
type Handler struct {
	key       string
	svc       types.LockService
	provider  types.DetailsProvider
	codec     types.Codec
	publisher Publisher
	logger    types.Logger
}

// NewHandler creates a leadership handler for key.
func NewHandler(key string, svc types.LockService, provider types.DetailsProvider, codec types.Codec,
	publisher Publisher, logger types.Logger,
) *Handler {
	return &Handler{
		key:       key,
		svc:       svc,
		provider:  provider,
		codec:     codec,
		publisher: publisher,
		logger:    logger,
	}
}

// Key returns the leadership key.
func (h *Handler) Key() string {
	return h.key
}

// AcquireLeadership tries to take the lock for sessionID.
//
// Failing to build or encode the details is non-recoverable. A transport error
// counts as "not acquired". The outcome is published in every case where the
// lock was attempted.
//
// Returns:
//   - bool: true if this session now holds the lock
//   - error: Non-recoverable error building the lock value
func (h *Handler) AcquireLeadership(ctx context.Context, sessionID string) (bool, error) {
	d, err := h.provider.AcquireDetails()
	if err != nil {
		return false, types.NonRecoverable("leadership details creation failed", err)
	}

	value, err := h.codec.Encode(d)
	if err != nil {
		return false, types.NonRecoverable("leadership details conversion failed", err)
	}

	acquired, err := h.svc.AcquireLock(ctx, h.key, value, sessionID)
	if err != nil {
		h.logger.Warn("failed to acquire leadership", "key", h.key, "session", sessionID, "error", err)
		acquired = false
	}

	if acquired {
		h.logger.Info("leadership acquired", "key", h.key, "session", sessionID)
	} else {
		h.logger.Debug("leadership not acquired", "key", h.key, "session", sessionID)
	}
	h.publisher.PublishLeadershipChanged(acquired)

	return acquired, nil
}

// ReadLeadershipInfo reads the leadership key, publishes its details and
// returns its modify index.
//
// Both a failed read and a missing key are non-recoverable: the key must exist
// right after an acquisition attempt.
func (h *Handler) ReadLeadershipInfo(ctx context.Context) (uint64, error) {
	entries, err := h.svc.ReadEntry(ctx, h.key)
	if err != nil {
		return 0, types.NonRecoverable("failed to read leadership information", err)
	}
	if len(entries) == 0 {
		return 0, types.NonRecoverable("failed to read leadership information", types.ErrNoLeadershipFound)
	}

	entry := entries[0]
	if err := h.publisher.PublishLeadershipDetailsChanged(entry.Value); err != nil {
		return 0, err
	}

	return entry.ModifyIndex, nil
}

// ReleaseLeadership releases the lock held by sessionID, writing release
// details. Failures are logged and swallowed.
func (h *Handler) ReleaseLeadership(ctx context.Context, sessionID string) {
	d, err := h.provider.ReleaseDetails()
	if err != nil {
		h.logger.Warn("failed to build release details", "error", err)
		return
	}

	value, err := h.codec.Encode(d)
	if err != nil {
		h.logger.Warn("failed to encode release details", "error", err)
		return
	}

	if err := h.svc.ReleaseLock(ctx, h.key, value, sessionID); err != nil {
		h.logger.Warn("failed to release leadership", "key", h.key, "session", sessionID, "error", err)
		return
	}

	h.logger.Info("leadership released", "key", h.key, "session", sessionID)
}

// NotifyLeadershipChanged publishes a leadership flag observed outside an
// acquisition attempt.
func (h *Handler) NotifyLeadershipChanged(isLeader bool) {
	h.publisher.PublishLeadershipChanged(isLeader)
}

// NotifyDetailsChanged publishes details observed on the leadership key.
func (h *Handler) NotifyDetailsChanged(value []byte) error {
	return h.publisher.PublishLeadershipDetailsChanged(value)
}
