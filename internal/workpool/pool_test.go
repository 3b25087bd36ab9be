package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startPool(t *testing.T, workers, queue int) *Pool {
	t.Helper()
	p := New(workers, queue)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Stop(ctx) //nolint:errcheck // test cleanup
	})
	return p
}

func TestPool_RunsJobs(t *testing.T) {
	p := startPool(t, 3, 16)

	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if _, err := p.Submit(func(context.Context) {
			defer wg.Done()
			ran.Add(1)
		}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	wg.Wait()

	if got := ran.Load(); got != 10 {
		t.Errorf("ran = %d, want 10", got)
	}
	if s := p.Stats(); s.Submitted != 10 || s.Workers != 3 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	p := startPool(t, 1, 4)

	done := make(chan struct{})
	if _, err := p.Submit(func(context.Context) { panic("boom") }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := p.Submit(func(context.Context) { close(done) }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job after panic never ran")
	}
	if p.Stats().Panics != 1 {
		t.Errorf("Panics = %d, want 1", p.Stats().Panics)
	}
}

func TestPool_QueueFull(t *testing.T) {
	p := startPool(t, 1, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	if _, err := p.Submit(func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started

	// Fills the single slot.
	if _, err := p.Submit(func(context.Context) {}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := p.Submit(func(context.Context) {}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit() error = %v, want ErrQueueFull", err)
	}
	close(release)
}

func TestPool_CancelRunningJob(t *testing.T) {
	p := startPool(t, 1, 1)

	started := make(chan struct{})
	finished := make(chan error, 1)
	cancel, err := p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started
	cancel()

	select {
	case err := <-finished:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("job ctx error = %v, want Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled job did not observe cancellation")
	}
}

func TestPool_CancelQueuedJobSkipsIt(t *testing.T) {
	p := startPool(t, 1, 2)

	release := make(chan struct{})
	started := make(chan struct{})
	if _, err := p.Submit(func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started

	var ran atomic.Bool
	cancel, err := p.Submit(func(context.Context) { ran.Store(true) })
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	cancel()

	after := make(chan struct{})
	if _, err := p.Submit(func(context.Context) { close(after) }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	close(release)
	<-after

	if ran.Load() {
		t.Error("cancelled queued job ran")
	}
}

func TestPool_StopDrainsAndRejects(t *testing.T) {
	p := New(2, 8)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		if _, err := p.Submit(func(context.Context) {
			time.Sleep(5 * time.Millisecond)
			ran.Add(1)
		}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if ran.Load() != 5 {
		t.Errorf("ran = %d, want 5 (queued jobs drained)", ran.Load())
	}
	if _, err := p.Submit(func(context.Context) {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit() after Stop = %v, want ErrPoolClosed", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
}

func TestPool_StopDeadlineCancelsJobs(t *testing.T) {
	p := New(1, 1)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	started := make(chan struct{})
	if _, err := p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() = %v, want DeadlineExceeded", err)
	}
}

func TestPool_StopWithoutStart(t *testing.T) {
	p := New(1, 2)
	if _, err := p.Submit(func(context.Context) {}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v", err)
	}
	if err := p.Start(); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Start() after Stop = %v, want ErrPoolClosed", err)
	}
}

func TestPool_DoubleStart(t *testing.T) {
	p := startPool(t, 1, 1)
	if err := p.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Start() = %v, want ErrAlreadyStarted", err)
	}
}

func TestPool_ZeroQueueStillAcceptsJobs(t *testing.T) {
	p := New(1, 0)
	if got := cap(p.queue); got != 1 {
		t.Errorf("queue capacity = %d, want 1", got)
	}

	// Submitted before Start, so no worker is waiting on the queue.
	done := make(chan struct{})
	if _, err := p.Submit(func(context.Context) { close(done) }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queued job never ran")
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
