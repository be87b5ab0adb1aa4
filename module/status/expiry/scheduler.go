// Package expiry keeps at most one pending expiration per chat user.
//
// Timers never call into the lifecycle manager. A fired timer puts an
// Expiration on the scheduler's queue and the manager's workers take it
// from there with Next, the same way they handle any other command.
package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"statusbridge/logger"
	"statusbridge/tools/clock"
)

var ErrStopped = errors.New("expiry scheduler stopped")

// Expiration asks for the status of ChatUserID to be cleared, provided it
// is still at Generation.
type Expiration struct {
	ChatUserID string
	Generation int64
	FireAt     time.Time
}

type entry struct {
	exp   Expiration
	timer *clock.Timer
}

type Scheduler struct {
	clock clock.Clock

	mu      sync.Mutex
	timers  map[string]*entry
	queue   []Expiration
	stopped bool

	notify chan struct{}
	done   chan struct{}
}

func New(c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.Real()
	}
	return &Scheduler{
		clock:  c,
		timers: make(map[string]*entry),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Arm replaces any pending expiration for the user. A superseded timer
// that fires anyway finds itself no longer current and is dropped; if it
// was already queued, the generation check downstream absorbs it.
//
// Arming an older generation than the pending one is ignored: two
// concurrent puts may arm out of order.
func (s *Scheduler) Arm(chatUserID string, generation int64, fireAt time.Time) {
	e := &entry{exp: Expiration{ChatUserID: chatUserID, Generation: generation, FireAt: fireAt}}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if old, ok := s.timers[chatUserID]; ok {
		if old.exp.Generation > generation {
			s.mu.Unlock()
			return
		}
		old.timer.Stop()
	}
	s.timers[chatUserID] = e
	s.mu.Unlock()

	// the callback may run before AfterFunc returns, so it is created
	// outside the lock
	t := s.clock.AfterFunc(fireAt.Sub(s.clock.Now()), func() { s.fire(e) })

	s.mu.Lock()
	if s.timers[chatUserID] == e {
		e.timer = t
	} else {
		t.Stop()
	}
	s.mu.Unlock()

	logger.Debug("expiration armed", zap.String("user", chatUserID), zap.Int64("generation", generation), zap.Time("fire_at", fireAt))
}

// Cancel drops the user's pending expiration, if any.
func (s *Scheduler) Cancel(chatUserID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.timers[chatUserID]; ok {
		e.timer.Stop()
		delete(s.timers, chatUserID)
	}
}

// CancelThrough drops the user's pending expiration only if it was armed
// for generation or earlier.
func (s *Scheduler) CancelThrough(chatUserID string, generation int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.timers[chatUserID]; ok && e.exp.Generation <= generation {
		e.timer.Stop()
		delete(s.timers, chatUserID)
	}
}

// Pending returns the user's armed expiration.
func (s *Scheduler) Pending(chatUserID string) (Expiration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[chatUserID]
	if !ok {
		return Expiration{}, false
	}
	return e.exp, true
}

// Len is the number of armed timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) fire(e *entry) {
	s.mu.Lock()
	if s.stopped || s.timers[e.exp.ChatUserID] != e {
		s.mu.Unlock()
		return
	}
	delete(s.timers, e.exp.ChatUserID)
	s.queue = append(s.queue, e.exp)
	s.mu.Unlock()

	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an expiration is due, ctx ends or the scheduler stops.
func (s *Scheduler) Next(ctx context.Context) (Expiration, error) {
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return Expiration{}, ErrStopped
		}
		if len(s.queue) > 0 {
			exp := s.queue[0]
			s.queue[0] = Expiration{}
			s.queue = s.queue[1:]
			more := len(s.queue) > 0
			s.mu.Unlock()
			if more {
				s.signal()
			}
			return exp, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Expiration{}, ctx.Err()
		case <-s.done:
		case <-s.notify:
		}
	}
}

// Stop cancels every timer and releases blocked Next callers. Queued
// expirations are discarded; they are rebuilt from the store on restart.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	for _, e := range s.timers {
		e.timer.Stop()
	}
	s.timers = make(map[string]*entry)
	s.queue = nil
	close(s.done)
}
