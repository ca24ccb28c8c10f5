package election

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leadership/types"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.events...)
}

func (l *eventLog) index(event string) int {
	for i, e := range l.snapshot() {
		if e == event {
			return i
		}
	}

	return -1
}

func (l *eventLog) count(event string) int {
	n := 0
	for _, e := range l.snapshot() {
		if e == event {
			n++
		}
	}

	return n
}

type fakeSessions struct {
	log *eventLog

	mu          sync.Mutex
	createErrs  []error
	block       chan struct{}
	nextID      int
	createTimes []time.Time
	renewing    string
	scheduled   []string
}

func (f *fakeSessions) failCreate(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErrs = append(f.createErrs, errs...)
}

func (f *fakeSessions) CreateNewSession(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.createTimes = append(f.createTimes, time.Now())
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		f.log.add("create:error")

		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("s%d", f.nextID)
	f.log.add("create:%s", id)

	return id, nil
}

func (f *fakeSessions) DestroySession(_ context.Context, sessionID string) {
	f.log.add("destroy:%s", sessionID)
}

func (f *fakeSessions) ScheduleSessionRenewal(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewing = sessionID
	f.scheduled = append(f.scheduled, sessionID)
	f.log.add("schedule:%s", sessionID)
}

func (f *fakeSessions) CancelSessionRenewal() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.renewing
	f.renewing = ""
	if id != "" {
		f.log.add("cancel:%s", id)
	}

	return id
}

func (f *fakeSessions) creates() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]time.Time(nil), f.createTimes...)
}

type readResult struct {
	index uint64
	err   error
}

type fakeLeadership struct {
	log *eventLog

	mu         sync.Mutex
	acquire    func(sessionID string) (bool, error)
	reads      []readResult
	readCount  int
	detailsErr error
	leaders    []bool
	details    [][]byte
}

func (f *fakeLeadership) AcquireLeadership(_ context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	acquire := f.acquire
	f.mu.Unlock()

	ok, err := true, error(nil)
	if acquire != nil {
		ok, err = acquire(sessionID)
	}
	f.log.add("acquire:%s:%t", sessionID, ok)

	return ok, err
}

func (f *fakeLeadership) ReadLeadershipInfo(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCount++
	f.log.add("read")

	if len(f.reads) > 0 {
		r := f.reads[0]
		f.reads = f.reads[1:]

		return r.index, r.err
	}

	return 1234, nil
}

func (f *fakeLeadership) ReleaseLeadership(_ context.Context, sessionID string) {
	f.log.add("release:%s", sessionID)
}

func (f *fakeLeadership) NotifyLeadershipChanged(isLeader bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaders = append(f.leaders, isLeader)
}

func (f *fakeLeadership) NotifyDetailsChanged(value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detailsErr != nil {
		return f.detailsErr
	}
	f.details = append(f.details, value)

	return nil
}

func (f *fakeLeadership) readCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.readCount
}

func (f *fakeLeadership) notified() ([]bool, [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]bool(nil), f.leaders...), append([][]byte(nil), f.details...)
}

type watchCall struct {
	since uint64
	at    time.Time
}

type watchResult struct {
	entries []types.Entry
	err     error
}

// fakeWatcher blocks every WatchEntry call until a result is pushed or the
// call's context is cancelled.
type fakeWatcher struct {
	calls   chan watchCall
	results chan watchResult
	active  atomic.Int32
	peak    atomic.Int32
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		calls:   make(chan watchCall, 128),
		results: make(chan watchResult),
	}
}

func (f *fakeWatcher) WatchEntry(ctx context.Context, _ string, since uint64) ([]types.Entry, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.calls <- watchCall{since: since, at: time.Now()}

	select {
	case r := <-f.results:
		return r.entries, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeWatcher) next(t *testing.T) watchCall {
	t.Helper()

	select {
	case c := <-f.calls:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for WatchEntry call")
		return watchCall{}
	}
}

func (f *fakeWatcher) respond(t *testing.T, r watchResult) {
	t.Helper()

	select {
	case f.results <- r:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out delivering watch result")
	}
}

type stateRecorder struct {
	mu          sync.Mutex
	transitions []string
	errs        []error
}

func (r *stateRecorder) hooks() types.Hooks {
	return types.Hooks{
		OnStateChanged: func(_ context.Context, from, to types.State) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transitions = append(r.transitions, from.String()+"->"+to.String())

			return nil
		},
		OnError: func(_ context.Context, err error) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)

			return nil
		},
	}
}

func (r *stateRecorder) has(transition string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tr := range r.transitions {
		if tr == transition {
			return true
		}
	}

	return false
}

func (r *stateRecorder) errCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.errs)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond, msg)
}
