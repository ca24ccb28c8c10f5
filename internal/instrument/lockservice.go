// Package instrument decorates a LockService with latency metrics.
package instrument

import (
	"context"
	"errors"
	"time"

	"github.com/arloliu/leadership/types"
)

// LockService records the latency and result of every call to the wrapped service.
//
// A watch that elapses without change is recorded as successful.
type LockService struct {
	next    types.LockService
	metrics types.LockServiceMetrics
}

// Compile-time assertion that LockService implements types.LockService.
var _ types.LockService = (*LockService)(nil)

// Wrap returns svc instrumented with metrics.
func Wrap(svc types.LockService, metrics types.LockServiceMetrics) *LockService {
	return &LockService{next: svc, metrics: metrics}
}

func (l *LockService) observe(op string, start time.Time, err error) {
	success := err == nil || errors.Is(err, types.ErrWatchTimeout)
	l.metrics.RecordLockServiceOperation(op, time.Since(start).Seconds(), success)
}

// CreateSession implements types.LockService.
func (l *LockService) CreateSession(ctx context.Context, spec types.SessionSpec) (string, error) {
	start := time.Now()
	id, err := l.next.CreateSession(ctx, spec)
	l.observe("create_session", start, err)

	return id, err
}

// RenewSession implements types.LockService.
func (l *LockService) RenewSession(ctx context.Context, sessionID string) error {
	start := time.Now()
	err := l.next.RenewSession(ctx, sessionID)
	l.observe("renew_session", start, err)

	return err
}

// DestroySession implements types.LockService.
func (l *LockService) DestroySession(ctx context.Context, sessionID string) error {
	start := time.Now()
	err := l.next.DestroySession(ctx, sessionID)
	l.observe("destroy_session", start, err)

	return err
}

// AcquireLock implements types.LockService.
func (l *LockService) AcquireLock(ctx context.Context, key string, value []byte, sessionID string) (bool, error) {
	start := time.Now()
	ok, err := l.next.AcquireLock(ctx, key, value, sessionID)
	l.observe("acquire", start, err)

	return ok, err
}

// ReleaseLock implements types.LockService.
func (l *LockService) ReleaseLock(ctx context.Context, key string, value []byte, sessionID string) error {
	start := time.Now()
	err := l.next.ReleaseLock(ctx, key, value, sessionID)
	l.observe("release", start, err)

	return err
}

// ReadEntry implements types.LockService.
func (l *LockService) ReadEntry(ctx context.Context, key string) ([]types.Entry, error) {
	start := time.Now()
	entries, err := l.next.ReadEntry(ctx, key)
	l.observe("read", start, err)

	return entries, err
}

// WatchEntry implements types.LockService.
func (l *LockService) WatchEntry(ctx context.Context, key string, since uint64) ([]types.Entry, error) {
	start := time.Now()
	entries, err := l.next.WatchEntry(ctx, key, since)
	l.observe("watch", start, err)

	return entries, err
}
