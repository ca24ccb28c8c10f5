// Package events fans leadership notifications out to registered listeners.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/arloliu/leadership/types"
	"github.com/puzpuzpuz/xsync/v4"
)

// subscriber wraps a listener so unsubscribing stops delivery even while a
// fan-out over the map is in progress.
type subscriber struct {
	listener types.Listener
	mu       sync.Mutex
	closed   bool
}

func (s *subscriber) leadershipChanged(isLeader bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.listener.OnLeadershipChanged == nil {
		return
	}
	s.listener.OnLeadershipChanged(isLeader)
}

func (s *subscriber) detailsChanged(d types.Details) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.listener.OnLeadershipDetailsChanged == nil {
		return
	}
	s.listener.OnLeadershipDetailsChanged(d)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Publisher delivers LeadershipChanged and LeadershipDetailsChanged events.
//
// Delivery is synchronous on the caller's goroutine. Listener callbacks must
// not subscribe or unsubscribe themselves.
type Publisher struct {
	codec  types.Codec
	logger types.Logger

	subscribers      *xsync.Map[uint64, *subscriber]
	nextSubscriberID atomic.Uint64
}

// NewPublisher creates a publisher decoding raw payloads with codec.
func NewPublisher(codec types.Codec, logger types.Logger) *Publisher {
	return &Publisher{
		codec:       codec,
		logger:      logger,
		subscribers: xsync.NewMap[uint64, *subscriber](),
	}
}

// Subscribe registers l and returns a function removing it. The returned
// function is safe to call more than once.
func (p *Publisher) Subscribe(l types.Listener) func() {
	id := p.nextSubscriberID.Add(1)
	p.subscribers.Store(id, &subscriber{listener: l})

	return func() {
		if sub, ok := p.subscribers.LoadAndDelete(id); ok {
			sub.close()
		}
	}
}

// PublishLeadershipChanged notifies all listeners of an acquisition outcome.
func (p *Publisher) PublishLeadershipChanged(isLeader bool) {
	p.subscribers.Range(func(_ uint64, sub *subscriber) bool {
		sub.leadershipChanged(isLeader)
		return true
	})
}

// PublishLeadershipDetailsChanged decodes value and notifies all listeners.
//
// An empty value carries no details and is skipped. A payload that cannot be
// decoded is reported as non-recoverable.
func (p *Publisher) PublishLeadershipDetailsChanged(value []byte) error {
	if len(value) == 0 {
		p.logger.Debug("skipping empty leadership details")
		return nil
	}

	d, err := p.codec.Decode(value)
	if err != nil {
		return types.NonRecoverable("leadership details conversion failed", err)
	}

	p.subscribers.Range(func(_ uint64, sub *subscriber) bool {
		sub.detailsChanged(d)
		return true
	})

	return nil
}

// Len returns the number of registered listeners.
func (p *Publisher) Len() int {
	return p.subscribers.Size()
}
