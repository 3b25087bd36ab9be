package resource

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/config"
)

// recorder collects events in delivery order.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testScanConfig() config.ScanConfig {
	return config.ScanConfig{
		DefaultExpiry:  time.Minute,
		DefaultTimeout: 10 * time.Minute,
		SweepInterval:  10 * time.Millisecond,
		Workers:        2,
		QueueSize:      8,
	}
}

// idleFactory starts nothing and counts cancel invocations.
func idleFactory[R any](cancels *int32mu) WorkFactory[R] {
	return func(*Resource[R], string) (CancelFunc, error) {
		return func() { cancels.inc() }, nil
	}
}

type int32mu struct {
	mu sync.Mutex
	n  int
}

func (c *int32mu) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32mu) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// newTestRegistry returns a registry on a fake clock.
func newTestRegistry(n Notifier) (*Registry[[]string], *fakeClock) {
	reg := NewRegistry[[]string](testScanConfig(), n)
	clock := newFakeClock()
	reg.now = clock.Now
	return reg, clock
}

func mustCreate(reg *Registry[[]string], opts CreateOptions, f WorkFactory[[]string]) *Resource[[]string] {
	res, err := reg.Create(context.Background(), opts, f)
	if err != nil {
		panic(err)
	}
	return res
}
