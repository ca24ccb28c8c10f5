// Package natskv implements types.LockService on NATS JetStream key-value
// buckets.
//
// Two buckets are used:
//   - <bucket>-sessions: one record per session plus lock-delay markers.
//     Session expiry is evaluated lazily against the stored deadline; the
//     bucket TTL only garbage-collects records left behind by dead clients.
//   - <bucket>-locks: one JSON record per leadership key holding the value
//     and the holder session.
//
// Every mutation is a compare-and-set on the KV revision, and the revision
// of a lock record is its ModifyIndex. A holder whose session has expired is
// invalidated by whichever participant observes it first, which writes a new
// revision that watchers pick up like any other change.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/leadership/internal/kvutil"
	"github.com/arloliu/leadership/internal/natsutil"
	"github.com/arloliu/leadership/types"
)

const (
	// DefaultBucket is the bucket name prefix used when none is configured.
	DefaultBucket = "leadership"

	// DefaultWaitTime is the blocking-read wait time used when none is configured.
	DefaultWaitTime = 30 * time.Second

	// DefaultMaxSessionTTL bounds session TTLs and lock delays.
	DefaultMaxSessionTTL = time.Hour

	casAttempts = 8
)

var errContention = errors.New("too much contention on key")

// ErrUnavailable marks failures caused by a lost or unreachable NATS server.
// They stay recoverable for the election.
var ErrUnavailable = errors.New("nats kv unavailable")

// Options configures a Service.
type Options struct {
	// Bucket is the prefix of the two KV buckets. Default: "leadership".
	Bucket string

	// Replicas is the replica count of the buckets. Default: 1.
	Replicas int

	// Storage selects file or memory storage. Default: file.
	Storage jetstream.StorageType

	// WaitTime is how long WatchEntry blocks without change. Default: 30s.
	WaitTime time.Duration

	// MaxSessionTTL is the upper bound for session TTLs and lock delays and
	// the TTL of the sessions bucket. Default: 1h.
	MaxSessionTTL time.Duration

	// Now overrides the clock used for session expiry and lock delays.
	Now func() time.Time
}

type sessionRecord struct {
	Name      string                `json:"name,omitempty"`
	TTL       time.Duration         `json:"ttl"`
	LockDelay time.Duration         `json:"lockDelay,omitempty"`
	Behavior  types.SessionBehavior `json:"behavior"`
	ExpiresAt time.Time             `json:"expiresAt"`
	Locks     []string              `json:"locks,omitempty"`
}

type lockRecord struct {
	Session string `json:"session,omitempty"`
	Value   []byte `json:"value,omitempty"`
}

// Service is a lock service backed by NATS JetStream KV.
type Service struct {
	sessions      jetstream.KeyValue
	locks         jetstream.KeyValue
	waitTime      time.Duration
	maxSessionTTL time.Duration
	now           func() time.Time
}

// Compile-time assertion that Service implements LockService.
var _ types.LockService = (*Service)(nil)

// New creates or opens the buckets and returns a Service.
//
// Example:
//
//	js, _ := jetstream.New(nc)
//	svc, err := natskv.New(ctx, js, natskv.Options{Bucket: "my-app"})
func New(ctx context.Context, js jetstream.JetStream, opts Options) (*Service, error) {
	if opts.Bucket == "" {
		opts.Bucket = DefaultBucket
	}
	if opts.Replicas <= 0 {
		opts.Replicas = 1
	}
	if opts.WaitTime <= 0 {
		opts.WaitTime = DefaultWaitTime
	}
	if opts.MaxSessionTTL <= 0 {
		opts.MaxSessionTTL = DefaultMaxSessionTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	sessions, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      opts.Bucket + "-sessions",
		Description: "leader election sessions",
		History:     1,
		TTL:         opts.MaxSessionTTL,
		Storage:     opts.Storage,
		Replicas:    opts.Replicas,
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure sessions bucket: %w", err)
	}

	locks, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      opts.Bucket + "-locks",
		Description: "leader election locks",
		History:     1,
		Storage:     opts.Storage,
		Replicas:    opts.Replicas,
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure locks bucket: %w", err)
	}

	return &Service{
		sessions:      sessions,
		locks:         locks,
		waitTime:      opts.WaitTime,
		maxSessionTTL: opts.MaxSessionTTL,
		now:           opts.Now,
	}, nil
}

// CreateSession stores a new session record.
func (s *Service) CreateSession(ctx context.Context, spec types.SessionSpec) (string, error) {
	if spec.TTL <= 0 || spec.TTL > s.maxSessionTTL {
		return "", fmt.Errorf("session TTL must be in (0, %s], got %s", s.maxSessionTTL, spec.TTL)
	}
	if spec.LockDelay < 0 || spec.LockDelay > s.maxSessionTTL {
		return "", fmt.Errorf("session lock delay must be in [0, %s], got %s", s.maxSessionTTL, spec.LockDelay)
	}
	if spec.Behavior == "" {
		spec.Behavior = types.SessionBehaviorRelease
	}
	if !spec.Behavior.Valid() {
		return "", fmt.Errorf("unknown session behavior %q", spec.Behavior)
	}

	id := uuid.NewString()
	rec := sessionRecord{
		Name:      spec.Name,
		TTL:       spec.TTL,
		LockDelay: spec.LockDelay,
		Behavior:  spec.Behavior,
		ExpiresAt: s.now().Add(spec.TTL),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if _, err := s.sessions.Create(ctx, sessionKey(id), data); err != nil {
		return "", fmt.Errorf("create session: %w", unavailable(err))
	}

	return id, nil
}

// RenewSession moves the session deadline forward by its TTL.
func (s *Service) RenewSession(ctx context.Context, sessionID string) error {
	for range casAttempts {
		rec, rev, err := s.getSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if rev == 0 {
			return fmt.Errorf("renew session %s: %w", sessionID, types.ErrSessionNotFound)
		}
		if !s.now().Before(rec.ExpiresAt) {
			if err := s.invalidate(ctx, sessionID, rec, rev, rec.ExpiresAt); err != nil && !errors.Is(err, errContention) {
				return err
			}

			return fmt.Errorf("renew session %s: %w", sessionID, types.ErrSessionNotFound)
		}

		rec.ExpiresAt = s.now().Add(rec.TTL)
		err = s.putSession(ctx, sessionID, rec, rev)
		if natsutil.IsConflict(err) {
			continue
		}

		return err
	}

	return fmt.Errorf("renew session %s: %w", sessionID, errContention)
}

// DestroySession invalidates the session. Unknown sessions are ignored.
func (s *Service) DestroySession(ctx context.Context, sessionID string) error {
	for range casAttempts {
		rec, rev, err := s.getSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if rev == 0 {
			return nil
		}

		err = s.invalidate(ctx, sessionID, rec, rev, s.now())
		if errors.Is(err, errContention) {
			continue
		}

		return err
	}

	return fmt.Errorf("destroy session %s: %w", sessionID, errContention)
}

// AcquireLock marks key held by sessionID when it is free and no lock delay is active.
func (s *Service) AcquireLock(ctx context.Context, key string, value []byte, sessionID string) (bool, error) {
	for range casAttempts {
		sess, sessRev, err := s.getSession(ctx, sessionID)
		if err != nil {
			return false, err
		}
		if sessRev == 0 || !s.now().Before(sess.ExpiresAt) {
			return false, fmt.Errorf("acquire %s: %w", key, types.ErrSessionNotFound)
		}
		// track the key first so invalidation always finds every held lock
		if !slices.Contains(sess.Locks, key) {
			sess.Locks = append(sess.Locks, key)
			err := s.putSession(ctx, sessionID, sess, sessRev)
			if natsutil.IsConflict(err) {
				continue
			}
			if err != nil {
				return false, err
			}
		}

		lock, rev, err := s.getLock(ctx, key)
		if err != nil {
			return false, err
		}
		if lock.Session != "" && lock.Session != sessionID {
			alive, err := s.holderAlive(ctx, key, lock.Session)
			if err != nil {
				return false, err
			}
			if alive {
				return false, nil
			}

			continue
		}
		if lock.Session != sessionID {
			delayed, err := s.lockDelayed(ctx, key)
			if err != nil || delayed {
				return false, err
			}
		}

		err = s.putLock(ctx, key, lockRecord{Session: sessionID, Value: value}, rev)
		if natsutil.IsConflict(err) {
			continue
		}
		if err != nil {
			return false, err
		}

		return true, nil
	}

	return false, fmt.Errorf("acquire %s: %w", key, errContention)
}

// ReleaseLock clears the holder of key if sessionID holds it.
func (s *Service) ReleaseLock(ctx context.Context, key string, value []byte, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	for range casAttempts {
		lock, rev, err := s.getLock(ctx, key)
		if err != nil {
			return err
		}
		if rev == 0 || lock.Session != sessionID {
			return nil
		}

		err = s.putLock(ctx, key, lockRecord{Value: value}, rev)
		if natsutil.IsConflict(err) {
			continue
		}

		return err
	}

	return fmt.Errorf("release %s: %w", key, errContention)
}

// ReadEntry returns the current entry for key. A holder whose session has
// expired is invalidated before the entry is returned.
func (s *Service) ReadEntry(ctx context.Context, key string) ([]types.Entry, error) {
	for range casAttempts {
		lock, rev, err := s.getLock(ctx, key)
		if err != nil {
			return nil, err
		}
		if rev == 0 {
			return []types.Entry{}, nil
		}
		if lock.Session != "" {
			alive, err := s.holderAlive(ctx, key, lock.Session)
			if err != nil {
				return nil, err
			}
			if !alive {
				continue
			}
		}

		return []types.Entry{toEntry(key, lock, rev)}, nil
	}

	return nil, fmt.Errorf("read %s: %w", key, errContention)
}

// WatchEntry blocks until the revision of key exceeds since or the wait time
// elapses. Expired holders are surfaced when the wait time elapses.
func (s *Service) WatchEntry(ctx context.Context, key string, since uint64) ([]types.Entry, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.locks.Watch(watchCtx, key)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", key, unavailable(err))
	}
	defer func() { _ = w.Stop() }()

	deadline := time.NewTimer(s.waitTime)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-deadline.C:
			entries, err := s.ReadEntry(ctx, key)
			if err != nil {
				return nil, err
			}
			if len(entries) > 0 && entries[0].ModifyIndex > since {
				return entries, nil
			}

			return nil, types.ErrWatchTimeout

		case e, ok := <-w.Updates():
			if !ok {
				return nil, fmt.Errorf("watch %s: watcher closed", key)
			}
			// nil marks the end of the initial values
			if e == nil || e.Revision() <= since {
				continue
			}
			if e.Operation() != jetstream.KeyValuePut {
				return []types.Entry{}, nil
			}

			var lock lockRecord
			if err := json.Unmarshal(e.Value(), &lock); err != nil {
				return nil, fmt.Errorf("decode lock %s: %w", key, err)
			}

			return []types.Entry{toEntry(key, lock, e.Revision())}, nil
		}
	}
}

// holderAlive reports whether holder is a live session. A dead holder is
// invalidated, which rewrites the lock record.
func (s *Service) holderAlive(ctx context.Context, key string, holder string) (bool, error) {
	rec, rev, err := s.getSession(ctx, holder)
	if err != nil {
		return false, err
	}
	if rev != 0 && s.now().Before(rec.ExpiresAt) {
		return true, nil
	}

	if rev == 0 {
		// record already collected; nothing is known about its lock delay
		err = s.releaseHeld(ctx, key, holder, sessionRecord{Behavior: types.SessionBehaviorRelease}, s.now())
	} else {
		err = s.invalidate(ctx, holder, rec, rev, rec.ExpiresAt)
	}
	if errors.Is(err, errContention) {
		return false, nil
	}

	return false, err
}

// invalidate deletes the session record and applies its behavior to every
// lock it still holds. at is the moment the session became invalid.
func (s *Service) invalidate(ctx context.Context, id string, rec sessionRecord, rev uint64, at time.Time) error {
	err := s.sessions.Delete(ctx, sessionKey(id), jetstream.LastRevision(rev))
	if natsutil.IsConflict(err) {
		return errContention
	}
	if err != nil && !natsutil.IsNotFound(err) {
		return fmt.Errorf("delete session %s: %w", id, err)
	}

	for _, key := range rec.Locks {
		if err := s.releaseHeld(ctx, key, id, rec, at); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) releaseHeld(ctx context.Context, key string, holder string, rec sessionRecord, at time.Time) error {
	for range casAttempts {
		lock, rev, err := s.getLock(ctx, key)
		if err != nil {
			return err
		}
		if rev == 0 || lock.Session != holder {
			return nil
		}

		if rec.LockDelay > 0 {
			if until := at.Add(rec.LockDelay); until.After(s.now()) {
				if err := s.setLockDelay(ctx, key, until); err != nil {
					return err
				}
			}
		}

		if rec.Behavior == types.SessionBehaviorDelete {
			err = s.locks.Delete(ctx, key, jetstream.LastRevision(rev))
		} else {
			err = s.putLock(ctx, key, lockRecord{Value: lock.Value}, rev)
		}
		if natsutil.IsConflict(err) {
			continue
		}

		return err
	}

	return fmt.Errorf("invalidate lock %s: %w", key, errContention)
}

func (s *Service) lockDelayed(ctx context.Context, key string) (bool, error) {
	e, err := s.sessions.Get(ctx, delayKey(key))
	if natsutil.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read lock delay %s: %w", key, unavailable(err))
	}

	var until time.Time
	if err := until.UnmarshalText(e.Value()); err != nil {
		return false, fmt.Errorf("decode lock delay %s: %w", key, err)
	}
	if s.now().Before(until) {
		return true, nil
	}
	_ = s.sessions.Delete(ctx, delayKey(key), jetstream.LastRevision(e.Revision()))

	return false, nil
}

func (s *Service) setLockDelay(ctx context.Context, key string, until time.Time) error {
	data, err := until.MarshalText()
	if err != nil {
		return err
	}
	if _, err := s.sessions.Put(ctx, delayKey(key), data); err != nil {
		return fmt.Errorf("write lock delay %s: %w", key, unavailable(err))
	}

	return nil
}

// getSession returns the session record and its revision, or a zero revision
// when the session does not exist.
func (s *Service) getSession(ctx context.Context, id string) (sessionRecord, uint64, error) {
	var rec sessionRecord
	if id == "" {
		return rec, 0, nil
	}

	e, err := s.sessions.Get(ctx, sessionKey(id))
	if natsutil.IsNotFound(err) {
		return rec, 0, nil
	}
	if err != nil {
		return rec, 0, fmt.Errorf("read session %s: %w", id, unavailable(err))
	}
	if err := json.Unmarshal(e.Value(), &rec); err != nil {
		return rec, 0, fmt.Errorf("decode session %s: %w", id, err)
	}

	return rec, e.Revision(), nil
}

func (s *Service) putSession(ctx context.Context, id string, rec sessionRecord, rev uint64) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.sessions.Update(ctx, sessionKey(id), data, rev)

	return err
}

// getLock returns the lock record and its revision, or a zero revision when
// the key does not exist.
func (s *Service) getLock(ctx context.Context, key string) (lockRecord, uint64, error) {
	var rec lockRecord

	e, err := s.locks.Get(ctx, key)
	if natsutil.IsNotFound(err) {
		return rec, 0, nil
	}
	if err != nil {
		return rec, 0, fmt.Errorf("read lock %s: %w", key, unavailable(err))
	}
	if err := json.Unmarshal(e.Value(), &rec); err != nil {
		return rec, 0, fmt.Errorf("decode lock %s: %w", key, err)
	}

	return rec, e.Revision(), nil
}

func (s *Service) putLock(ctx context.Context, key string, rec lockRecord, rev uint64) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if rev == 0 {
		_, err = s.locks.Create(ctx, key, data)
	} else {
		_, err = s.locks.Update(ctx, key, data, rev)
	}

	return err
}

func toEntry(key string, rec lockRecord, rev uint64) types.Entry {
	return types.Entry{
		Key:         key,
		Value:       rec.Value,
		ModifyIndex: rev,
		SessionID:   rec.Session,
	}
}

func sessionKey(id string) string {
	return "session." + id
}

func delayKey(key string) string {
	return "delay." + key
}

// unavailable tags connectivity failures with ErrUnavailable.
func unavailable(err error) error {
	if natsutil.IsConnectivityError(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return err
}
