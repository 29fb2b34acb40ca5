// Package deferred schedules delayed follow-ups (menu re-prompts, idle
// closers) keyed by (sender, generation). Every inbound message bumps the
// sender's generation; a task whose generation is no longer current when
// its timer fires is dropped instead of sending a stale message.
package deferred

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/wa-commerce-bot/internal/chat/port"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/observability"

	"go.uber.org/zap"
)

// Scheduler implements port.Scheduler on top of time.AfterFunc. Tasks run
// through the sender's lane so they never race with message handling.
//
// A sender is tracked only while it has a timer pending or a task queued on
// its lane. Once the last one settles the entry is dropped, so the map holds
// active senders only; an untracked sender reads as generation zero.
type Scheduler struct {
	mu      sync.Mutex
	senders map[string]*entry

	lanes   port.Lanes
	metrics *observability.Metrics
	logger  *zap.Logger
}

type entry struct {
	gen    uint64
	timers []*time.Timer
	queued int // fired tasks waiting on or running in the lane
}

func (e *entry) idle() bool { return len(e.timers) == 0 && e.queued == 0 }

// New creates a scheduler that runs due tasks on lanes.
func New(lanes port.Lanes, metrics *observability.Metrics, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		senders: make(map[string]*entry),
		lanes:   lanes,
		metrics: metrics,
		logger:  logger,
	}
}

// Generation returns the sender's current generation.
func (s *Scheduler) Generation(senderID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.senders[senderID]; ok {
		return e.gen
	}
	return 0
}

// Bump stops the sender's pending timers and invalidates tasks already
// queued on its lane.
func (s *Scheduler) Bump(senderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.senders[senderID]
	if !ok {
		return
	}
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = nil
	e.gen++
	s.prune(senderID, e)
}

// Schedule runs fn after delay unless the sender's generation moves on.
func (s *Scheduler) Schedule(senderID string, delay time.Duration, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.senders[senderID]
	if !ok {
		e = &entry{}
		s.senders[senderID] = e
	}
	gen := e.gen
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		if !s.fired(senderID, &t) {
			return
		}
		err := s.lanes.Submit(context.Background(), senderID, func(ctx context.Context) {
			defer s.settle(senderID)
			if s.Generation(senderID) != gen {
				s.metrics.IncrDeferred("stale")
				return
			}
			s.metrics.IncrDeferred("fired")
			fn(ctx)
		})
		if err != nil {
			s.settle(senderID)
			s.logger.Warn("deferred task not queued", observability.Sender(senderID), zap.Error(err))
		}
	})
	e.timers = append(e.timers, t)
}

// Pending counts timers not yet fired or stopped.
func (s *Scheduler) Pending(senderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.senders[senderID]; ok {
		return len(e.timers)
	}
	return 0
}

// Tracked counts senders with a pending timer or a queued task.
func (s *Scheduler) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.senders)
}

// Stop cancels every pending timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.senders {
		for _, t := range e.timers {
			t.Stop()
		}
		e.timers = nil
		s.prune(id, e)
	}
}

// fired moves a timer from pending to queued. It takes the timer's address
// because the callback can start before Schedule has stored it; the lock
// orders both. It reports false when the timer was already cancelled.
func (s *Scheduler) fired(senderID string, tp **time.Timer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.senders[senderID]
	if !ok {
		return false
	}
	t := *tp
	for i, cur := range e.timers {
		if cur == t {
			e.timers = append(e.timers[:i], e.timers[i+1:]...)
			e.queued++
			return true
		}
	}
	return false
}

// settle marks a queued task as done.
func (s *Scheduler) settle(senderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.senders[senderID]; ok {
		e.queued--
		s.prune(senderID, e)
	}
}

func (s *Scheduler) prune(senderID string, e *entry) {
	if e.idle() {
		delete(s.senders, senderID)
	}
}
