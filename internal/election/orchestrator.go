package election

import (
	"context"
	"sync"
	"time"

	"github.com/arloliu/leadership/types"
)

// Retry operation labels.
const (
	opApply = "apply"
	opWatch = "watch"
)

// Stop reasons.
const (
	stopRequested        = "requested"
	stopNonRecoverable   = "non_recoverable"
	stopRetriesExhausted = "retries_exhausted"
)

// SessionHandler manages the session of an election attempt.
type SessionHandler interface {
	CreateNewSession(ctx context.Context) (string, error)
	DestroySession(ctx context.Context, sessionID string)
	ScheduleSessionRenewal(sessionID string)
	CancelSessionRenewal() string
}

// LeadershipHandler performs lock operations and relays notifications.
type LeadershipHandler interface {
	AcquireLeadership(ctx context.Context, sessionID string) (bool, error)
	ReadLeadershipInfo(ctx context.Context) (uint64, error)
	ReleaseLeadership(ctx context.Context, sessionID string)
	NotifyLeadershipChanged(isLeader bool)
	NotifyDetailsChanged(value []byte) error
}

// Watcher long-polls the leadership key.
type Watcher interface {
	WatchEntry(ctx context.Context, key string, since uint64) ([]types.Entry, error)
}

// Config holds the orchestrator settings.
type Config struct {
	// Key is the leadership key.
	Key string

	// MaxRetryAttempts is the number of consecutive recoverable errors
	// tolerated before the election stops.
	MaxRetryAttempts int

	// RetryDelay is the backoff base.
	RetryDelay time.Duration

	// Timeout bounds each lock service call and the whole stop sequence.
	Timeout time.Duration

	// RetrySeed makes backoff jitter deterministic when non-zero.
	RetrySeed int64
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Sessions   SessionHandler
	Leadership LeadershipHandler
	Watcher    Watcher
	Logger     types.Logger
	Metrics    types.ElectionMetrics
	Hooks      types.Hooks
}

// electionState is replaced as a whole on every change and never mutated
// after being published.
type electionState struct {
	running    bool
	closing    bool
	stopDone   chan struct{}
	sessionID  string
	lastIndex  uint64
	hasIndex   bool
	work       *workHandle
	retryCount int
	leading    bool
	phase      types.State
	phaseSince time.Time
}

// indexSource yields the modify index a watch starts from.
type indexSource func(ctx context.Context) (uint64, error)

// Orchestrator runs the election state machine.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	backoff *backoff

	state    syncState
	inflight sync.WaitGroup
}

// New creates an orchestrator in the Idle state.
func New(cfg Config, deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		backoff: newBackoff(cfg.RetryDelay, cfg.RetrySeed),
	}
	o.state.store(&electionState{phase: types.StateIdle, phaseSince: time.Now()})

	return o
}

// Start begins the election without blocking. Calling Start on a running
// election is a no-op.
func (o *Orchestrator) Start() {
	started := false
	o.state.update(func(s *electionState) {
		started = false
		if s.running {
			return
		}
		*s = electionState{running: true, phase: s.phase, phaseSince: s.phaseSince}
		started = true
	})
	if !started {
		o.deps.Logger.Warn("election already running", "key", o.cfg.Key)
		return
	}

	o.deps.Logger.Info("starting election", "key", o.cfg.Key)
	o.schedule(0, o.apply)
}

// Stop ends the election, releasing leadership if held. It blocks until
// cleanup completes or the configured timeout elapses, and is idempotent.
func (o *Orchestrator) Stop() {
	done, owner := o.beginStop()
	if !owner {
		if done != nil {
			o.awaitStop(done)
		}

		return
	}

	o.cleanup(stopRequested, true)
}

// IsLeader reports whether this instance currently holds the lock.
func (o *Orchestrator) IsLeader() bool {
	return o.state.load().leading
}

// State returns the current election state.
func (o *Orchestrator) State() types.State {
	return o.state.load().phase
}

// RetryCount returns the number of consecutive recoverable errors.
func (o *Orchestrator) RetryCount() int {
	return o.state.load().retryCount
}

// schedule runs fn on a new goroutine after delay, tracked by a fresh handle
// that replaces (and disposes) the current one. Nothing is scheduled once the
// election is closing.
func (o *Orchestrator) schedule(delay time.Duration, fn func(h *workHandle)) {
	h := newWorkHandle()

	var prev *workHandle
	o.inflight.Add(1)
	_, next := o.state.update(func(s *electionState) {
		prev = nil
		if s.closing || !s.running {
			return
		}
		prev = s.work
		s.work = h
	})
	if next.work != h {
		o.inflight.Done()
		h.Dispose()

		return
	}
	if prev != nil {
		prev.Dispose()
	}

	go func() {
		defer o.inflight.Done()
		if !h.sleep(delay) {
			return
		}
		fn(h)
	}()
}

func (o *Orchestrator) reapply(delay time.Duration) {
	o.schedule(delay, o.apply)
}

func (o *Orchestrator) rewatch(delay time.Duration) {
	o.watchForLeadershipInfoChanges(delay, o.resumeIndex())
}

// apply runs one election attempt: create a session and try to take the lock.
func (o *Orchestrator) apply(h *workHandle) {
	o.transition(types.StateApplying)
	o.retirePreviousSession()

	sessionID, err := withTimeout(h.ctx, o.cfg.Timeout, o.deps.Sessions.CreateNewSession)
	if h.Disposed() {
		if err == nil {
			o.destroyDetached(sessionID)
		}

		return
	}
	if err != nil {
		o.onError(err, opApply, o.reapply)
		return
	}

	stored := false
	o.state.update(func(s *electionState) {
		stored = false
		if s.closing || h.Disposed() {
			return
		}
		s.sessionID = sessionID
		stored = true
	})
	if !stored {
		o.deps.Logger.Debug("election stopping, discarding new session", "session", sessionID)
		o.destroyDetached(sessionID)

		return
	}

	acquired, err := withTimeout(h.ctx, o.cfg.Timeout, func(ctx context.Context) (bool, error) {
		return o.deps.Leadership.AcquireLeadership(ctx, sessionID)
	})
	if h.Disposed() {
		if err == nil && acquired {
			o.onAcquiredAfterDispose(sessionID)
		}

		return
	}
	if err != nil {
		o.onError(err, opApply, o.reapply)
		return
	}

	if acquired {
		o.onAcquired(sessionID)
	} else {
		o.onNotAcquired(sessionID)
	}
}

func (o *Orchestrator) onAcquired(sessionID string) {
	o.state.update(func(s *electionState) { s.leading = true })
	o.deps.Metrics.RecordLeadershipChange(true)
	o.transition(types.StateLeading)

	o.deps.Sessions.ScheduleSessionRenewal(sessionID)
	o.watchForLeadershipInfoChanges(0, o.readIndex)
}

// onAcquiredAfterDispose handles an acquire that won after its work was
// disposed. LeadershipChanged(true) has already been published, so a stop in
// progress must see the lock as held, and a stop already finished must be
// followed by a release and LeadershipChanged(false).
func (o *Orchestrator) onAcquiredAfterDispose(sessionID string) {
	marked := false
	o.state.update(func(s *electionState) {
		marked = false
		if !s.closing || s.sessionID != sessionID {
			return
		}
		s.leading = true
		marked = true
	})
	if marked {
		return
	}

	o.deps.Logger.Warn("lock acquired after election stopped, releasing", "key", o.cfg.Key, "session", sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeout)
	defer cancel()

	o.deps.Leadership.ReleaseLeadership(ctx, sessionID)
	o.deps.Sessions.DestroySession(ctx, sessionID)
	o.deps.Metrics.RecordLeadershipChange(false)
	o.deps.Leadership.NotifyLeadershipChanged(false)
}

func (o *Orchestrator) onNotAcquired(sessionID string) {
	o.state.update(func(s *electionState) { s.leading = false })
	o.deps.Metrics.RecordLeadershipChange(false)
	o.transition(types.StateFollowing)

	o.destroyDetached(sessionID)

	_, s := o.state.update(func(s *electionState) {
		if s.sessionID == sessionID {
			s.sessionID = ""
		}
	})

	if s.hasIndex {
		o.watchForLeadershipInfoChanges(0, fixedIndex(s.lastIndex))
	} else {
		o.watchForLeadershipInfoChanges(0, o.readIndex)
	}
}

// retirePreviousSession stops renewing and destroys the session of a previous
// attempt so every attempt runs on a fresh session.
func (o *Orchestrator) retirePreviousSession() {
	var previous string
	o.state.update(func(s *electionState) {
		previous = s.sessionID
		s.sessionID = ""
		s.leading = false
	})

	renewed := o.deps.Sessions.CancelSessionRenewal()
	if renewed != "" && renewed != previous {
		o.destroyDetached(renewed)
	}
	if previous != "" {
		o.destroyDetached(previous)
	}
}

// watchForLeadershipInfoChanges long-polls the leadership key from the index
// yielded by source, after delay.
func (o *Orchestrator) watchForLeadershipInfoChanges(delay time.Duration, source indexSource) {
	o.schedule(delay, func(h *workHandle) {
		index, err := source(h.ctx)
		if h.Disposed() {
			return
		}
		if err != nil {
			o.onError(err, opWatch, o.rewatch)
			return
		}

		o.transition(types.StateWatching)
		o.deps.Logger.Debug("watching leadership key", "key", o.cfg.Key, "index", index)

		entries, err := o.deps.Watcher.WatchEntry(h.ctx, o.cfg.Key, index)
		if h.Disposed() {
			return
		}
		if err != nil {
			if types.Classify(err) == types.KindWatchTimeout {
				o.deps.Metrics.RecordWatchTimeout()
				o.watchForLeadershipInfoChanges(0, fixedIndex(index))

				return
			}
			o.onError(err, opWatch, o.rewatch)

			return
		}

		o.onLeadershipChanges(entries)
	})
}

// onLeadershipChanges reacts to the result of a watch.
func (o *Orchestrator) onLeadershipChanges(entries []types.Entry) {
	if o.state.load().closing {
		return
	}

	if len(entries) == 0 {
		o.deps.Logger.Info("leadership key is gone, applying for leadership", "key", o.cfg.Key)
		o.reapply(0)

		return
	}

	entry := entries[0]
	prev, _ := o.state.update(func(s *electionState) {
		s.lastIndex = entry.ModifyIndex
		s.hasIndex = true
		if s.leading && entry.SessionID != s.sessionID {
			s.leading = false
		}
	})

	if prev.leading && entry.SessionID != prev.sessionID {
		o.deps.Logger.Warn("leadership lost", "key", o.cfg.Key, "session", prev.sessionID, "holder", entry.SessionID)
		o.deps.Metrics.RecordLeadershipChange(false)
		o.deps.Leadership.NotifyLeadershipChanged(false)
		o.retirePreviousSession()
	}

	if err := o.deps.Leadership.NotifyDetailsChanged(entry.Value); err != nil {
		o.onError(err, opWatch, o.rewatch)
		return
	}

	if !entry.Held() {
		o.deps.Logger.Info("leadership is free, applying for leadership", "key", o.cfg.Key, "index", entry.ModifyIndex)
		o.reapply(0)

		return
	}

	o.watchForLeadershipInfoChanges(0, fixedIndex(entry.ModifyIndex))
}

// onError applies the error taxonomy, running retry with a backoff delay when
// the error is recoverable and the retry budget allows it.
func (o *Orchestrator) onError(err error, op string, retry func(delay time.Duration)) {
	if o.state.load().closing {
		return
	}
	o.fireError(err)

	switch types.Classify(err) {
	case types.KindNonRecoverable:
		o.deps.Logger.Error("non-recoverable election error, stopping", "key", o.cfg.Key, "error", err)
		o.immediateStop(stopNonRecoverable)

		return
	case types.KindWatchTimeout:
		retry(0)
		return
	case types.KindRecoverable:
	}

	_, s := o.state.update(func(s *electionState) { s.retryCount++ })
	if s.retryCount > o.cfg.MaxRetryAttempts {
		o.deps.Logger.Error("election retry attempts exhausted, stopping",
			"key", o.cfg.Key, "attempts", s.retryCount-1, "error", err)
		o.immediateStop(stopRetriesExhausted)

		return
	}

	delay := o.backoff.delay(s.retryCount)
	o.deps.Metrics.RecordRetry(op)
	o.deps.Metrics.RecordRetryBackoff(op, delay.Seconds())
	o.deps.Logger.Warn("election error, retrying",
		"key", o.cfg.Key, "op", op, "attempt", s.retryCount, "delay", delay, "error", err)

	retry(delay)
}

func (o *Orchestrator) readIndex(ctx context.Context) (uint64, error) {
	index, err := withTimeout(ctx, o.cfg.Timeout, o.deps.Leadership.ReadLeadershipInfo)
	if err != nil {
		return 0, err
	}
	o.state.update(func(s *electionState) {
		s.lastIndex = index
		s.hasIndex = true
	})

	return index, nil
}

// resumeIndex resumes from the last known index, reading the key when none
// is known yet.
func (o *Orchestrator) resumeIndex() indexSource {
	return func(ctx context.Context) (uint64, error) {
		s := o.state.load()
		if s.hasIndex {
			return s.lastIndex, nil
		}

		return o.readIndex(ctx)
	}
}

func fixedIndex(index uint64) indexSource {
	return func(context.Context) (uint64, error) {
		return index, nil
	}
}

// beginStop marks the election as closing. The caller owning the stop gets
// owner == true; other callers get the channel closed when that stop ends,
// or nil when the election is not running.
func (o *Orchestrator) beginStop() (done chan struct{}, owner bool) {
	_, s := o.state.update(func(s *electionState) {
		owner = false
		if !s.running || s.closing {
			return
		}
		s.closing = true
		s.stopDone = make(chan struct{})
		owner = true
	})
	if !owner && !s.running {
		return nil, false
	}

	return s.stopDone, owner
}

func (o *Orchestrator) immediateStop(reason string) {
	if _, owner := o.beginStop(); !owner {
		return
	}

	o.cleanup(reason, false)
}

func (o *Orchestrator) awaitStop(done chan struct{}) {
	t := time.NewTimer(o.cfg.Timeout)
	defer t.Stop()

	select {
	case <-done:
	case <-t.C:
	}
}

// cleanup releases everything the election holds and resets its state.
// waitInflight must be false when called from election work itself.
func (o *Orchestrator) cleanup(reason string, waitInflight bool) {
	o.transition(types.StateStopping)
	o.deps.Logger.Info("stopping election", "key", o.cfg.Key, "reason", reason)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)

		if h := o.state.load().work; h != nil {
			h.Dispose()
		}
		if waitInflight {
			o.waitInflight(ctx)
		}
		if ctx.Err() != nil {
			return
		}

		sessionID := o.deps.Sessions.CancelSessionRenewal()
		if sessionID == "" {
			sessionID = o.state.load().sessionID
		}
		if sessionID == "" {
			return
		}

		o.deps.Leadership.ReleaseLeadership(ctx, sessionID)
		o.deps.Sessions.DestroySession(ctx, sessionID)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		o.deps.Logger.Warn("election stop timed out", "key", o.cfg.Key, "timeout", o.cfg.Timeout)
	}

	prev := o.state.swap(&electionState{phase: types.StateIdle, phaseSince: time.Now()})
	if prev.work != nil {
		prev.work.Dispose()
	}
	o.recordTransition(prev.phase, types.StateIdle, prev.phaseSince)

	if prev.leading {
		o.deps.Metrics.RecordLeadershipChange(false)
		o.deps.Leadership.NotifyLeadershipChanged(false)
	}
	o.deps.Metrics.RecordStop(reason)
	o.deps.Logger.Info("election stopped", "key", o.cfg.Key, "reason", reason)

	if prev.stopDone != nil {
		close(prev.stopDone)
	}
}

func (o *Orchestrator) waitInflight(ctx context.Context) {
	idle := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(idle)
	}()

	select {
	case <-idle:
	case <-ctx.Done():
	}
}

// destroyDetached destroys a session outside of any handle.
func (o *Orchestrator) destroyDetached(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeout)
	defer cancel()

	o.deps.Sessions.DestroySession(ctx, sessionID)
}

// transition moves to state to unless the election is closing.
func (o *Orchestrator) transition(to types.State) {
	prev, next := o.state.update(func(s *electionState) {
		if s.closing && to != types.StateStopping {
			return
		}
		if s.phase != to {
			s.phase = to
			s.phaseSince = time.Now()
		}
	})
	if prev.phase == next.phase {
		return
	}

	o.recordTransition(prev.phase, next.phase, prev.phaseSince)
}

func (o *Orchestrator) recordTransition(from, to types.State, since time.Time) {
	if from == to {
		return
	}

	o.deps.Metrics.RecordStateTransition(from, to, time.Since(since).Seconds())
	o.deps.Logger.Debug("election state changed", "key", o.cfg.Key, "from", from, "to", to)

	if hook := o.deps.Hooks.OnStateChanged; hook != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeout)
			defer cancel()
			if err := hook(ctx, from, to); err != nil {
				o.deps.Logger.Warn("state change hook failed", "error", err)
			}
		}()
	}
}

func (o *Orchestrator) fireError(err error) {
	hook := o.deps.Hooks.OnError
	if hook == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeout)
		defer cancel()
		if hookErr := hook(ctx, err); hookErr != nil {
			o.deps.Logger.Warn("error hook failed", "error", hookErr)
		}
	}()
}

func withTimeout[T any](parent context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()

	return fn(ctx)
}
