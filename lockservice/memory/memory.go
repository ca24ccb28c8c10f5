// Package memory provides an in-process types.LockService.
//
// It implements the same session, lock-delay and blocking-read semantics as
// the networked backends and is meant for tests, examples and single-process
// deployments. Faults can be injected per operation and calls are counted,
// which makes it a convenient test double for code driving an election.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/leadership/types"
)

// Operation names a LockService method.
type Operation string

// Operations that can be counted and faulted.
const (
	OpCreateSession  Operation = "create_session"
	OpRenewSession   Operation = "renew_session"
	OpDestroySession Operation = "destroy_session"
	OpAcquireLock    Operation = "acquire"
	OpReleaseLock    Operation = "release"
	OpReadEntry      Operation = "read"
	OpWatchEntry     Operation = "watch"
)

// DefaultWaitTime is the blocking-read wait time used when none is configured.
const DefaultWaitTime = 30 * time.Second

type session struct {
	spec      types.SessionSpec
	expiresAt time.Time
	locks     map[string]struct{}
}

type entry struct {
	value       []byte
	modifyIndex uint64
	sessionID   string
}

// Service is an in-memory lock service. The zero value is not usable; create
// instances with New.
type Service struct {
	waitTime time.Duration

	mu         sync.Mutex
	offset     time.Duration
	index      uint64
	sessions   map[string]*session
	entries    map[string]*entry
	tombstones map[string]uint64
	lockDelays map[string]time.Time
	changed    chan struct{}
	faults     map[Operation][]error
	calls      map[Operation]int
}

// Compile-time assertion that Service implements LockService.
var _ types.LockService = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithWaitTime sets how long WatchEntry blocks before returning ErrWatchTimeout.
func WithWaitTime(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.waitTime = d
		}
	}
}

// New creates an empty in-memory lock service.
func New(opts ...Option) *Service {
	s := &Service{
		waitTime:   DefaultWaitTime,
		sessions:   make(map[string]*session),
		entries:    make(map[string]*entry),
		tombstones: make(map[string]uint64),
		lockDelays: make(map[string]time.Time),
		changed:    make(chan struct{}),
		faults:     make(map[Operation][]error),
		calls:      make(map[Operation]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Fail queues errs to be returned, in order, by the next calls of op.
func (s *Service) Fail(op Operation, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.faults[op] = append(s.faults[op], errs...)
}

// Calls returns how many times op was invoked, faulted calls included.
func (s *Service) Calls(op Operation) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[op]
}

// Advance moves the service clock forward, expiring sessions and lock delays.
func (s *Service) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offset += d
	s.expireLocked()
	s.broadcastLocked()
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()

	return len(s.sessions)
}

// CreateSession creates a new session.
func (s *Service) CreateSession(_ context.Context, spec types.SessionSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginLocked(OpCreateSession); err != nil {
		return "", err
	}
	if spec.TTL <= 0 {
		return "", fmt.Errorf("session TTL must be positive, got %s", spec.TTL)
	}
	if spec.Behavior == "" {
		spec.Behavior = types.SessionBehaviorRelease
	}
	if !spec.Behavior.Valid() {
		return "", fmt.Errorf("unknown session behavior %q", spec.Behavior)
	}

	id := uuid.NewString()
	s.sessions[id] = &session{
		spec:      spec,
		expiresAt: s.nowLocked().Add(spec.TTL),
		locks:     make(map[string]struct{}),
	}

	return id, nil
}

// RenewSession extends the TTL of a live session.
func (s *Service) RenewSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginLocked(OpRenewSession); err != nil {
		return err
	}

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("renew session %s: %w", sessionID, types.ErrSessionNotFound)
	}
	sess.expiresAt = s.nowLocked().Add(sess.spec.TTL)

	return nil
}

// DestroySession invalidates a session, applying its behavior to held locks.
func (s *Service) DestroySession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginLocked(OpDestroySession); err != nil {
		return err
	}
	s.invalidateLocked(sessionID)

	return nil
}

// AcquireLock marks key held by sessionID when it is free and no lock delay is active.
func (s *Service) AcquireLock(_ context.Context, key string, value []byte, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginLocked(OpAcquireLock); err != nil {
		return false, err
	}

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, fmt.Errorf("acquire %s: %w", key, types.ErrSessionNotFound)
	}

	e, exists := s.entries[key]
	if exists && e.sessionID != "" && e.sessionID != sessionID {
		return false, nil
	}
	if until, delayed := s.lockDelays[key]; delayed {
		if s.nowLocked().Before(until) && (!exists || e.sessionID != sessionID) {
			return false, nil
		}
		delete(s.lockDelays, key)
	}

	s.writeLocked(key, value, sessionID)
	sess.locks[key] = struct{}{}

	return true, nil
}

// ReleaseLock clears the holder of key if sessionID holds it.
func (s *Service) ReleaseLock(_ context.Context, key string, value []byte, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginLocked(OpReleaseLock); err != nil {
		return err
	}

	e, ok := s.entries[key]
	if !ok || e.sessionID != sessionID || sessionID == "" {
		return nil
	}

	s.writeLocked(key, value, "")
	if sess, ok := s.sessions[sessionID]; ok {
		delete(sess.locks, key)
	}

	return nil
}

// ReadEntry returns the current entry for key.
func (s *Service) ReadEntry(_ context.Context, key string) ([]types.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginLocked(OpReadEntry); err != nil {
		return nil, err
	}

	return s.snapshotLocked(key), nil
}

// WatchEntry blocks until the index of key exceeds since or the wait time elapses.
func (s *Service) WatchEntry(ctx context.Context, key string, since uint64) ([]types.Entry, error) {
	s.mu.Lock()
	if err := s.beginLocked(OpWatchEntry); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	deadline := time.NewTimer(s.waitTime)
	defer deadline.Stop()

	for {
		s.mu.Lock()
		s.expireLocked()
		if s.keyIndexLocked(key) > since {
			entries := s.snapshotLocked(key)
			s.mu.Unlock()

			return entries, nil
		}
		changed := s.changed
		nextExpiry := s.nextExpiryLocked()
		s.mu.Unlock()

		var expiry *time.Timer
		var expiryC <-chan time.Time
		if nextExpiry > 0 {
			expiry = time.NewTimer(nextExpiry)
			expiryC = expiry.C
		}

		var err error
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-deadline.C:
			err = types.ErrWatchTimeout
		case <-changed:
		case <-expiryC:
		}
		if expiry != nil {
			expiry.Stop()
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *Service) beginLocked(op Operation) error {
	s.calls[op]++
	s.expireLocked()

	if queued := s.faults[op]; len(queued) > 0 {
		err := queued[0]
		s.faults[op] = queued[1:]

		return err
	}

	return nil
}

func (s *Service) nowLocked() time.Time {
	return time.Now().Add(s.offset)
}

func (s *Service) writeLocked(key string, value []byte, sessionID string) {
	s.index++
	s.entries[key] = &entry{
		value:       append([]byte(nil), value...),
		modifyIndex: s.index,
		sessionID:   sessionID,
	}
	delete(s.tombstones, key)
	s.broadcastLocked()
}

func (s *Service) invalidateLocked(sessionID string) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	delete(s.sessions, sessionID)

	now := s.nowLocked()
	for key := range sess.locks {
		e, ok := s.entries[key]
		if !ok || e.sessionID != sessionID {
			continue
		}
		if sess.spec.LockDelay > 0 {
			s.lockDelays[key] = now.Add(sess.spec.LockDelay)
		}

		if sess.spec.Behavior == types.SessionBehaviorDelete {
			s.index++
			delete(s.entries, key)
			s.tombstones[key] = s.index
			s.broadcastLocked()

			continue
		}
		s.writeLocked(key, e.value, "")
	}
}

func (s *Service) expireLocked() {
	now := s.nowLocked()
	for id, sess := range s.sessions {
		if !now.Before(sess.expiresAt) {
			s.invalidateLocked(id)
		}
	}
}

func (s *Service) nextExpiryLocked() time.Duration {
	now := s.nowLocked()
	var next time.Duration
	for _, sess := range s.sessions {
		d := sess.expiresAt.Sub(now)
		if d <= 0 {
			d = time.Millisecond
		}
		if next == 0 || d < next {
			next = d
		}
	}

	return next
}

func (s *Service) keyIndexLocked(key string) uint64 {
	if e, ok := s.entries[key]; ok {
		return e.modifyIndex
	}

	return s.tombstones[key]
}

func (s *Service) snapshotLocked(key string) []types.Entry {
	e, ok := s.entries[key]
	if !ok {
		return []types.Entry{}
	}

	return []types.Entry{{
		Key:         key,
		Value:       append([]byte(nil), e.value...),
		ModifyIndex: e.modifyIndex,
		SessionID:   e.sessionID,
	}}
}

func (s *Service) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
