package resource

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/config"
)

// CreateOptions describes a resource to create. Zero durations fall back
// to the registry defaults.
type CreateOptions struct {
	// Type tags the resource, e.g. "MBUS". Required.
	Type string

	// ID is an explicit id. Empty means generate one.
	ID string

	// OwnerID is the creating user's id.
	OwnerID string

	// Expiry is how long the resource stays in the registry after it finishes.
	Expiry time.Duration

	// Timeout bounds how long the work may run.
	Timeout time.Duration
}

// Registry is the in-memory store of every temporary resource.
// Construct one per process with NewRegistry and share it.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Lock order is registry, then resource.
type Registry[R any] struct {
	cfg      config.ScanConfig
	notifier Notifier
	logger   Logger
	now      func() time.Time
	newID    func() string

	mu        sync.RWMutex
	resources map[string]*Resource[R]
}

// NewRegistry creates an empty registry. A nil notifier drops events.
func NewRegistry[R any](cfg config.ScanConfig, notifier Notifier) *Registry[R] {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Registry[R]{
		cfg:       cfg,
		notifier:  notifier,
		logger:    noopLogger{},
		now:       time.Now,
		newID:     uuid.NewString,
		resources: make(map[string]*Resource[R]),
	}
}

// SetLogger sets the logger for the registry and the resources it creates.
func (g *Registry[R]) SetLogger(logger Logger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logger = logger
}

// Create builds a RUNNING resource, starts its work through factory and
// stores it.
//
// The factory runs synchronously while the new resource is locked, so the
// work cannot report before the resource is registered and its cancel
// callback is in place. If the factory fails nothing is stored.
//
// Returns ErrValidation for bad options, ErrConflict when an explicit id
// belongs to a running resource (a finished one is replaced) and
// ErrLimitReached when MaxResources is exceeded.
func (g *Registry[R]) Create(ctx context.Context, opts CreateOptions, factory WorkFactory[R]) (*Resource[R], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Type == "" {
		return nil, fmt.Errorf("%w: resource type is required", ErrValidation)
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: work factory is required", ErrValidation)
	}
	if opts.Expiry < 0 || opts.Timeout < 0 {
		return nil, fmt.Errorf("%w: expiry and timeout must not be negative", ErrValidation)
	}

	expiry := opts.Expiry
	if expiry == 0 {
		expiry = g.cfg.DefaultExpiry
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = g.cfg.DefaultTimeout
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	id := opts.ID
	var replaced *Resource[R]
	if id == "" {
		for {
			id = g.newID()
			if _, taken := g.resources[id]; !taken {
				break
			}
		}
	} else if existing, ok := g.resources[id]; ok {
		if !existing.Status().Terminal() {
			return nil, fmt.Errorf("%w: resource %s is still running", ErrConflict, id)
		}
		replaced = existing
	}

	if g.cfg.MaxResources > 0 && replaced == nil && len(g.resources) >= g.cfg.MaxResources {
		return nil, fmt.Errorf("%w: %d resources held", ErrLimitReached, len(g.resources))
	}

	res := newResource[R](id, opts.Type, opts.OwnerID, now, expiry, timeout, g.notifier, g.logger, g.now)

	res.mu.Lock()
	defer res.mu.Unlock()

	cancel, err := factory(res, opts.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("starting work: %w", err)
	}
	res.setCancelLocked(cancel)
	g.resources[id] = res

	if replaced != nil {
		replaced.announceRemoved()
	}
	res.notifyLocked(EventCreated)

	g.logger.Debug("resource created",
		"resource_id", id,
		"resource_type", opts.Type,
		"owner_id", opts.OwnerID,
		"timeout", timeout,
	)
	return res, nil
}

// Get returns the resource with id, or ErrNotFound.
//
// Expired resources are evicted and reported as not found; overdue ones
// are timed out before being returned.
func (g *Registry[R]) Get(id string) (*Resource[R], error) {
	g.mu.RLock()
	res, ok := g.resources[id]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	now := g.now()
	if res.expired(now) {
		g.evict(res, now)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if res.overdue(now) && res.timeout() {
		g.logger.Warn("resource timed out", "resource_id", id)
	}
	return res, nil
}

// List returns the resources of typ (all when empty), oldest first.
// It sweeps first so callers never see expired entries.
func (g *Registry[R]) List(typ string) []*Resource[R] {
	g.Sweep(g.now())

	g.mu.RLock()
	out := make([]*Resource[R], 0, len(g.resources))
	for _, res := range g.resources {
		if typ == "" || res.typ == typ {
			out = append(out, res)
		}
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].id < out[j].id
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// Remove detaches a finished resource.
// Returns ErrNotFound for unknown ids and ErrConflict while it is RUNNING.
func (g *Registry[R]) Remove(id string) error {
	g.mu.Lock()
	res, ok := g.resources[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !res.Status().Terminal() {
		g.mu.Unlock()
		return fmt.Errorf("%w: resource %s is still running", ErrConflict, id)
	}
	delete(g.resources, id)
	g.mu.Unlock()

	res.announceRemoved()
	return nil
}

// Sweep times out overdue resources and evicts expired ones, cancelling
// any that are somehow still running. It returns the number evicted.
func (g *Registry[R]) Sweep(now time.Time) int {
	var evicted, overdue []*Resource[R]

	g.mu.Lock()
	for id, res := range g.resources {
		switch {
		case res.expired(now):
			delete(g.resources, id)
			evicted = append(evicted, res)
		case res.overdue(now):
			overdue = append(overdue, res)
		}
	}
	g.mu.Unlock()

	for _, res := range overdue {
		if res.timeout() {
			g.logger.Warn("resource timed out", "resource_id", res.id, "resource_type", res.typ)
		}
	}
	for _, res := range evicted {
		g.finishEvicted(res, now)
	}
	return len(evicted)
}

// Run sweeps every SweepInterval until ctx is cancelled.
func (g *Registry[R]) Run(ctx context.Context) error {
	interval := g.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := g.Sweep(g.now()); n > 0 {
				g.logger.Debug("expired resources evicted", "count", n)
			}
		}
	}
}

// CancelAll cancels every running resource. Used on shutdown.
func (g *Registry[R]) CancelAll() int {
	g.mu.RLock()
	all := make([]*Resource[R], 0, len(g.resources))
	for _, res := range g.resources {
		all = append(all, res)
	}
	g.mu.RUnlock()

	n := 0
	for _, res := range all {
		if res.Cancel() {
			n++
		}
	}
	return n
}

// Count returns the number of resources held.
func (g *Registry[R]) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.resources)
}

// CountByStatus returns the number of resources per status. Every status
// is present, zero or not.
func (g *Registry[R]) CountByStatus() map[Status]int {
	counts := make(map[Status]int, len(AllStatuses))
	for _, s := range AllStatuses {
		counts[s] = 0
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, res := range g.resources {
		counts[res.Status()]++
	}
	return counts
}

func (g *Registry[R]) evict(res *Resource[R], now time.Time) {
	g.mu.Lock()
	if cur, ok := g.resources[res.id]; !ok || cur != res {
		g.mu.Unlock()
		return
	}
	delete(g.resources, res.id)
	g.mu.Unlock()

	g.finishEvicted(res, now)
}

func (g *Registry[R]) finishEvicted(res *Resource[R], now time.Time) {
	if res.overdue(now) {
		res.timeout()
	} else {
		res.Cancel()
	}
	res.announceRemoved()
}
