package bus

import (
	"sync"

	"caller-rpc/message"
)

// Sinks is the subscriber set behind Bus.Subscribe. The zero value is ready
// to use.
type Sinks struct {
	mu   sync.RWMutex
	next uint64
	fns  map[uint64]func(*message.Message)
}

// Add registers fn and returns the function that removes it again.
func (s *Sinks) Add(fn func(*message.Message)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[uint64]func(*message.Message))
	}
	s.next++
	id := s.next
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

// Deliver hands msg to every current subscriber, outside the lock.
func (s *Sinks) Deliver(msg *message.Message) {
	s.mu.RLock()
	fns := make([]func(*message.Message), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(msg)
	}
}

func (s *Sinks) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fns)
}
