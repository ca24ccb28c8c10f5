package election

import "sync/atomic"

// syncState holds the current electionState and replaces it by compare-and-swap.
type syncState struct {
	p atomic.Pointer[electionState]
}

func (s *syncState) load() *electionState {
	return s.p.Load()
}

func (s *syncState) store(st *electionState) {
	s.p.Store(st)
}

func (s *syncState) swap(st *electionState) *electionState {
	return s.p.Swap(st)
}

// update applies fn to a copy of the current state and publishes the copy.
// fn may run more than once under contention and must not have side effects
// beyond the copy and its own captured results.
func (s *syncState) update(fn func(st *electionState)) (prev, next *electionState) {
	for {
		cur := s.p.Load()
		cp := *cur
		fn(&cp)
		if s.p.CompareAndSwap(cur, &cp) {
			return cur, &cp
		}
	}
}
