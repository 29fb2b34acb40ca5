// Package lanes serializes work per sender. Each sender gets a FIFO lane
// drained by its own goroutine, so two messages from the same sender never
// interleave their store reads and writes. A weighted semaphore caps how
// many lanes run a job at the same time.
package lanes

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boddenberg/wa-commerce-bot/internal/infra/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("lanes: dispatcher stopped")

const (
	defaultBuffer  = 64
	defaultIdleTTL = 2 * time.Minute
)

type lane struct {
	jobs chan queued
}

// queued is a job plus the span that was active when it was submitted.
type queued struct {
	job  func(ctx context.Context)
	link trace.SpanContext
}

// Dispatcher owns the per-sender lanes.
type Dispatcher struct {
	mu      sync.Mutex
	lanes   map[string]*lane
	sem     *semaphore.Weighted
	pending atomic.Int64
	stopped bool

	buffer  int
	idleTTL time.Duration
	logger  *zap.Logger
	tracer  trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithBuffer sets the per-sender queue capacity.
func WithBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.buffer = n
		}
	}
}

// WithIdleTTL sets how long an empty lane lingers before its goroutine exits.
func WithIdleTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.idleTTL = ttl
		}
	}
}

// New creates a dispatcher allowing maxConcurrent jobs across all senders.
func New(ctx context.Context, maxConcurrent int64, logger *zap.Logger, opts ...Option) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	d := &Dispatcher{
		lanes:   make(map[string]*lane),
		sem:     semaphore.NewWeighted(maxConcurrent),
		buffer:  defaultBuffer,
		idleTTL: defaultIdleTTL,
		logger:  logger,
		tracer:  otel.Tracer("lanes"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	return d
}

// Submit queues job on the sender's lane, creating the lane on first use.
// It fails when the lane is full or the dispatcher is stopped. The job runs
// on the dispatcher's context in a span linked to the one active in ctx.
func (d *Dispatcher) Submit(ctx context.Context, senderID string, job func(ctx context.Context)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}

	l, ok := d.lanes[senderID]
	if !ok {
		l = &lane{jobs: make(chan queued, d.buffer)}
		d.lanes[senderID] = l
		d.wg.Add(1)
		go d.drain(senderID, l)
	}

	select {
	case l.jobs <- queued{job: job, link: trace.SpanContextFromContext(ctx)}:
		d.pending.Add(1)
		return nil
	default:
		return fmt.Errorf("lanes: queue full for sender %s", senderID)
	}
}

// drain runs the lane's jobs in order, one at a time. The goroutine exits
// after idleTTL without work.
func (d *Dispatcher) drain(senderID string, l *lane) {
	defer d.wg.Done()

	idle := time.NewTimer(d.idleTTL)
	defer idle.Stop()

	for {
		select {
		case q := <-l.jobs:
			d.run(senderID, q)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(d.idleTTL)

		case <-idle.C:
			d.mu.Lock()
			if len(l.jobs) == 0 {
				delete(d.lanes, senderID)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			idle.Reset(d.idleTTL)

		case <-d.ctx.Done():
			// Drop what is still queued so WaitIdle does not hang.
			for {
				select {
				case <-l.jobs:
					d.pending.Add(-1)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) run(senderID string, q queued) {
	defer d.pending.Add(-1)

	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		return
	}
	defer d.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("lane job panicked",
				zap.String("sender", senderID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	opts := []trace.SpanStartOption{trace.WithAttributes(attribute.String("sender", observability.MaskSender(senderID)))}
	if q.link.IsValid() {
		opts = append(opts, trace.WithLinks(trace.Link{SpanContext: q.link}))
	}
	ctx, span := d.tracer.Start(d.ctx, "lanes.run", opts...)
	defer span.End()

	q.job(ctx)
}

// Pending reports queued plus running jobs.
func (d *Dispatcher) Pending() int64 {
	return d.pending.Load()
}

// WaitIdle blocks until no job is queued or running, or the timeout
// expires. Returns true if idle.
func (d *Dispatcher) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if d.pending.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Stop rejects new jobs, cancels running ones and waits for the lane
// goroutines to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}
