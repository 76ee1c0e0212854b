package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Timer is the handle returned by an AfterFunc.
type Timer interface {
	Stop() bool
}

// AfterFunc arranges for f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type pendingRetry struct {
	timer Timer
}

// RetryScheduler runs one-shot delayed retries keyed by operation id. At most
// one retry per id is pending; scheduling an id again replaces its timer.
type RetryScheduler struct {
	mu      sync.Mutex
	pending map[string]*pendingRetry
	after   AfterFunc
	stopped bool
	log     zerolog.Logger
}

func NewRetryScheduler() *RetryScheduler {
	return NewRetrySchedulerWith(realAfterFunc)
}

// NewRetrySchedulerWith uses after as the timer source.
func NewRetrySchedulerWith(after AfterFunc) *RetryScheduler {
	return &RetryScheduler{
		pending: make(map[string]*pendingRetry),
		after:   after,
		log:     log.Logger.With().Str("component", "retry").Logger(),
	}
}

// Schedule runs fn once after delay unless cancelled or replaced first.
func (s *RetryScheduler) Schedule(id string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.pending[id]; ok {
		prev.timer.Stop()
	}

	p := &pendingRetry{}
	s.pending[id] = p
	p.timer = s.after(delay, func() {
		s.mu.Lock()
		if s.pending[id] != p {
			s.mu.Unlock()
			return
		}
		delete(s.pending, id)
		s.mu.Unlock()
		fn()
	})
	s.log.Debug().Str("op_id", id).Dur("delay", delay).Msg("retry scheduled")
}

// Cancel drops a pending retry for id. It reports whether one was pending.
func (s *RetryScheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(s.pending, id)
	return true
}

// Scheduled reports whether a retry for id is waiting to fire.
func (s *RetryScheduler) Scheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// Pending returns the number of retries waiting to fire.
func (s *RetryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending retry and rejects new ones.
func (s *RetryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
	}
}
