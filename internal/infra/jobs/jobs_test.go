package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (c *countingRefresher) Refresh(context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestRunner_Add_InvalidSchedule(t *testing.T) {
	r := New(time.Second, zap.NewNop())
	err := r.Add("broken", "not a schedule", func(context.Context) error { return nil })
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestRunner_Every_RejectsNonPositive(t *testing.T) {
	r := New(time.Second, zap.NewNop())
	assert.Error(t, r.Every("zero", 0, func(context.Context) error { return nil }))
}

func TestRunner_RunsScheduledRefresh(t *testing.T) {
	r := New(time.Second, zap.NewNop())
	target := &countingRefresher{err: errors.New("catalog down")}

	require.NoError(t, ScheduleRefresh(r, "guided-product", time.Second, target))
	assert.Equal(t, 1, r.Len())

	r.Start()
	defer r.Stop()

	// A failing run does not unschedule the job.
	assert.Eventually(t, func() bool { return target.calls.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
}

func TestRunner_RunBoundsContext(t *testing.T) {
	r := New(20*time.Millisecond, zap.NewNop())
	var deadline atomic.Bool

	r.run("slow", func(ctx context.Context) error {
		<-ctx.Done()
		deadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	})
	assert.True(t, deadline.Load())
}

func TestRunner_StopCancelsRunningJobs(t *testing.T) {
	r := New(time.Minute, zap.NewNop())
	done := make(chan struct{})

	go r.run("long", func(ctx context.Context) error {
		<-ctx.Done()
		close(done)
		return nil
	})

	time.Sleep(10 * time.Millisecond)
	r.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job context not cancelled on Stop")
	}
}
