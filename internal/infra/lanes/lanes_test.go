package lanes_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/wa-commerce-bot/internal/infra/lanes"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func TestDispatcher_SerializesPerSender(t *testing.T) {
	d := lanes.New(context.Background(), 8, zap.NewNop())
	defer d.Stop()

	var mu sync.Mutex
	var order []int
	var inFlight, maxInFlight atomic.Int32

	for i := 0; i < 20; i++ {
		i := i
		err := d.Submit(context.Background(), "51999000111", func(ctx context.Context) {
			n := inFlight.Add(1)
			if n > maxInFlight.Load() {
				maxInFlight.Store(n)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			inFlight.Add(-1)
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	if !d.WaitIdle(2 * time.Second) {
		t.Fatal("dispatcher did not go idle")
	}
	if maxInFlight.Load() != 1 {
		t.Errorf("expected one job at a time per sender, saw %d", maxInFlight.Load())
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("jobs ran out of order: %v", order)
		}
	}
}

func TestDispatcher_SendersRunConcurrently(t *testing.T) {
	d := lanes.New(context.Background(), 4, zap.NewNop())
	defer d.Stop()

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)

	for _, sender := range []string{"a", "b"} {
		if err := d.Submit(context.Background(), sender, func(ctx context.Context) {
			started.Done()
			<-release
		}); err != nil {
			t.Fatal(err)
		}
	}

	done := make(chan struct{})
	go func() {
		started.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second sender was blocked by the first")
	}
	close(release)
	d.WaitIdle(time.Second)
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	d := lanes.New(context.Background(), 1, zap.NewNop())
	defer d.Stop()

	var ran atomic.Bool
	_ = d.Submit(context.Background(), "s", func(ctx context.Context) { panic("boom") })
	_ = d.Submit(context.Background(), "s", func(ctx context.Context) { ran.Store(true) })

	if !d.WaitIdle(time.Second) {
		t.Fatal("dispatcher did not go idle")
	}
	if !ran.Load() {
		t.Error("job after a panic should still run")
	}
}

func TestDispatcher_QueueFull(t *testing.T) {
	d := lanes.New(context.Background(), 1, zap.NewNop(), lanes.WithBuffer(1))
	defer d.Stop()

	block := make(chan struct{})
	_ = d.Submit(context.Background(), "s", func(ctx context.Context) { <-block })
	time.Sleep(20 * time.Millisecond) // let the first job start

	if err := d.Submit(context.Background(), "s", func(ctx context.Context) {}); err != nil {
		t.Fatalf("second job should fit the buffer: %v", err)
	}
	if err := d.Submit(context.Background(), "s", func(ctx context.Context) {}); err == nil {
		t.Error("expected queue full error")
	}
	close(block)
	d.WaitIdle(time.Second)
}

func TestDispatcher_SubmitAfterStop(t *testing.T) {
	d := lanes.New(context.Background(), 1, zap.NewNop())
	d.Stop()

	if err := d.Submit(context.Background(), "s", func(ctx context.Context) {}); err != lanes.ErrStopped {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestDispatcher_LinksSubmitterSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	d := lanes.New(context.Background(), 2, zap.NewNop())
	defer d.Stop()

	ctx, webhook := tp.Tracer("test").Start(context.Background(), "POST /webhook/events")
	var inner trace.SpanContext
	if err := d.Submit(ctx, "s", func(ctx context.Context) {
		_, span := otel.Tracer("test").Start(ctx, "Router.Handle")
		inner = span.SpanContext()
		span.End()
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	webhook.End()
	if !d.WaitIdle(time.Second) {
		t.Fatal("job did not finish")
	}

	var laneSpan, handleSpan sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		switch s.Name() {
		case "lanes.run":
			laneSpan = s
		case "Router.Handle":
			handleSpan = s
		}
	}
	if laneSpan == nil || handleSpan == nil {
		t.Fatalf("missing spans: lane=%v handle=%v", laneSpan != nil, handleSpan != nil)
	}
	if handleSpan.Parent().SpanID() != laneSpan.SpanContext().SpanID() {
		t.Error("job span is not a child of the lane span")
	}
	if handleSpan.SpanContext().SpanID() != inner.SpanID() {
		t.Error("unexpected job span")
	}
	links := laneSpan.Links()
	if len(links) != 1 || links[0].SpanContext.SpanID() != webhook.SpanContext().SpanID() {
		t.Errorf("lane span links = %+v, want the submitter span", links)
	}
}

func TestDispatcher_NoLinkWithoutSubmitterSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	d := lanes.New(context.Background(), 2, zap.NewNop())
	defer d.Stop()

	if err := d.Submit(context.Background(), "s", func(ctx context.Context) {}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	d.WaitIdle(time.Second)

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected one span, got %d", len(ended))
	}
	if n := len(ended[0].Links()); n != 0 {
		t.Errorf("expected no links, got %d", n)
	}
}
