package session

import (
	"context"
	"sync"
	"time"

	"github.com/arloliu/leadership/types"
)

// renewal periodically renews one session until stopped.
//
// The first renewal runs immediately, then one every interval. Each call is
// bounded by timeout. Failures are logged and recorded but never stop the
// schedule; losing the session surfaces through the watched key instead.
type renewal struct {
	sessionID string
	svc       types.LockService
	interval  time.Duration
	timeout   time.Duration
	logger    types.Logger
	metrics   types.SessionMetrics

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	doneCh   chan struct{}
}

func startRenewal(sessionID string, svc types.LockService, interval, timeout time.Duration,
	logger types.Logger, metrics types.SessionMetrics,
) *renewal {
	ctx, cancel := context.WithCancel(context.Background())
	r := &renewal{
		sessionID: sessionID,
		svc:       svc,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
		metrics:   metrics,
		ctx:       ctx,
		cancel:    cancel,
		doneCh:    make(chan struct{}),
	}

	go r.loop()

	return r
}

// stop cancels the schedule, interrupting an in-flight renewal, and waits for
// the loop to exit. Returns false if the renewal was already stopped.
func (r *renewal) stop() bool {
	stopped := false
	r.stopOnce.Do(func() {
		r.cancel()
		stopped = true
	})
	<-r.doneCh

	return stopped
}

func (r *renewal) loop() {
	defer close(r.doneCh)

	r.renew()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.renew()
		}
	}
}

func (r *renewal) renew() {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	err := r.svc.RenewSession(ctx, r.sessionID)
	if r.ctx.Err() != nil {
		return
	}
	if err != nil {
		r.metrics.RecordSessionRenewal(false)
		r.logger.Error("failed to renew session, this may lead to leadership loss",
			"session", r.sessionID, "error", err)

		return
	}

	r.metrics.RecordSessionRenewal(true)
	r.logger.Debug("session renewed", "session", r.sessionID)
}
