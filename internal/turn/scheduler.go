// Package turn implements the per-emulator FIFO turn scheduler spec.md
// §4.3 describes: bounded exclusive input access, timeout-driven rotation,
// and disconnect-aware fairness. One Scheduler exists per live emulator
// controller and is driven by its own goroutine for the controller's
// entire life.
package turn

import (
	"sync"
	"time"
)

// Member is the minimal shape the scheduler needs from a user record: a
// stable identity to dedupe against. Updating the real User's
// HasTurn/RequestedTurn fields and broadcasting the change is left to the
// onGrant/onRevoke callbacks passed to New. The scheduler itself never
// touches user.User directly, keeping it testable without the rest of the
// server.
type Member interface {
	// Key uniquely identifies this member across AddRequest/Disconnect
	// calls (a WebSocket connection handle, in practice).
	Key() string
}

// Scheduler is one emulator's turn queue plus the goroutine that promotes
// and demotes its holder. Zero value is not usable; construct with New.
type Scheduler struct {
	turnLength time.Duration
	onGrant    func(Member)
	onRevoke   func(Member)

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Member
	holder   Member
	holderAt time.Time
	endEarly chan struct{}
	stopped  bool
}

// New returns a Scheduler for one emulator. onGrant is called (off the
// internal lock) when a member becomes holder; onRevoke when it stops
// being holder, whether by timeout, voluntary end, or disconnect.
func New(turnLength time.Duration, onGrant, onRevoke func(Member)) *Scheduler {
	s := &Scheduler{
		turnLength: turnLength,
		onGrant:    onGrant,
		onRevoke:   onRevoke,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// AddRequest enqueues m if it is not already queued or holding the turn.
// Idempotent: a member whose request is already pending is ignored,
// matching spec.md §4.3 ("A user whose requestedTurn is already set is
// ignored on re-request").
func (s *Scheduler) AddRequest(m Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.holder != nil && s.holder.Key() == m.Key() {
		return
	}
	for _, q := range s.queue {
		if q.Key() == m.Key() {
			return
		}
	}
	s.queue = append(s.queue, m)
	s.cond.Signal()
}

// Disconnect removes m from the queue wherever it sits. If m is the
// current holder, its turn is cut short immediately, per spec.md §4.3
// ("A disconnect removes the user from the queue wherever it sits; if it
// was the holder, the sleep is cut short").
func (s *Scheduler) Disconnect(m Member) {
	s.mu.Lock()
	wasHolder := s.holder != nil && s.holder.Key() == m.Key()
	if !wasHolder {
		for i, q := range s.queue {
			if q.Key() == m.Key() {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
	}
	endEarly := s.endEarly
	s.mu.Unlock()

	if wasHolder && endEarly != nil {
		select {
		case endEarly <- struct{}{}:
		default:
		}
	}
}

// EndTurn voluntarily ends the current holder's turn early, the same early
// end Disconnect triggers for a holder but without naming a member.
func (s *Scheduler) EndTurn() {
	s.mu.Lock()
	endEarly := s.endEarly
	s.mu.Unlock()
	if endEarly != nil {
		select {
		case endEarly <- struct{}{}:
		default:
		}
	}
}

// Holder returns the current turn holder, or nil if none.
func (s *Scheduler) Holder() Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holder
}

// Len returns the number of queued (non-holding) members, for tests and
// status reporting.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Run drives the scheduler loop until ctx-equivalent Stop is called. It
// implements spec.md §4.3's condition-variable loop: wait for a
// non-empty queue, promote the head, sleep up to turnLength (or until cut
// short), demote, and repeat. Run blocks; callers run it in its own
// goroutine for the controller's lifetime.
func (s *Scheduler) Run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}

		m := s.queue[0]
		s.queue = s.queue[1:]
		s.holder = m
		s.holderAt = time.Now()
		s.endEarly = make(chan struct{}, 1)
		endEarly := s.endEarly
		s.mu.Unlock()

		if s.onGrant != nil {
			s.onGrant(m)
		}

		timer := time.NewTimer(s.turnLength)
		select {
		case <-timer.C:
		case <-endEarly:
			timer.Stop()
		}

		s.mu.Lock()
		s.holder = nil
		s.endEarly = nil
		s.mu.Unlock()

		if s.onRevoke != nil {
			s.onRevoke(m)
		}
	}
}

// Stop ends the Run loop, demoting and revoking the current holder (if
// any) first. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	endEarly := s.endEarly
	s.mu.Unlock()
	if endEarly != nil {
		select {
		case endEarly <- struct{}{}:
		default:
		}
	}
	s.cond.Broadcast()
}
