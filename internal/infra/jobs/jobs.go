// Package jobs runs the bot's periodic background work on a cron ticker.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Func is one unit of periodic work. The context is cancelled after the
// job's timeout or when the runner stops.
type Func func(ctx context.Context) error

// cronParser accepts standard 5-field expressions, an optional seconds
// field and descriptors such as "@every 30m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Runner owns the cron ticker and the jobs registered on it.
type Runner struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a runner. Each job run is bounded by timeout.
func New(timeout time.Duration, logger *zap.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		// SkipIfStillRunning keeps a slow refresh from piling up runs.
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
		logger:  logger,
	}
}

// Add registers fn under schedule. A failing run is logged and retried at
// the next tick.
func (r *Runner) Add(name, schedule string, fn Func) error {
	_, err := r.cron.AddFunc(schedule, func() { r.run(name, fn) })
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, schedule, err)
	}
	r.logger.Info("job scheduled", zap.String("job", name), zap.String("schedule", schedule))
	return nil
}

// Every registers fn to run at a fixed interval.
func (r *Runner) Every(name string, interval time.Duration, fn Func) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", name)
	}
	return r.Add(name, "@every "+interval.String(), fn)
}

func (r *Runner) run(name string, fn Func) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	start := time.Now()
	if err := fn(ctx); err != nil {
		r.logger.Warn("job failed",
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("job done", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
}

// Len reports how many jobs are registered.
func (r *Runner) Len() int { return len(r.cron.Entries()) }

// Start starts the ticker in its own goroutine.
func (r *Runner) Start() { r.cron.Start() }

// Stop halts the ticker, cancels running jobs and waits for them to return.
func (r *Runner) Stop() {
	stopped := r.cron.Stop()
	r.cancel()
	<-stopped.Done()
}

// Refresher reloads data that can go stale while the process runs.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// ScheduleRefresh registers a refresh of target every interval.
func ScheduleRefresh(r *Runner, name string, interval time.Duration, target Refresher) error {
	return r.Every(name, interval, target.Refresh)
}
