//go:build race

package opt

import "sync"

// Sema under the race detector. The linknamed runtime semaphore is not
// race instrumented, so parking through it would hide the happens-before
// edge between a releaser and the goroutine it wakes. This conservative
// variant routes the handoff through instrumented primitives instead.
//
// It is zero-value usable, like the fast variant.
type Sema struct {
	mu      sync.Mutex
	credits int
	waiters []chan struct{}
}

func (s *Sema) Acquire() {
	s.mu.Lock()
	if s.credits > 0 {
		s.credits--
		s.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()
	<-ch
}

func (s *Sema) Release() {
	s.mu.Lock()
	if len(s.waiters) > 0 {
		ch := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.mu.Unlock()
		close(ch)
		return
	}
	s.credits++
	s.mu.Unlock()
}
