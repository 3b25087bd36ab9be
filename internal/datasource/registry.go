package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Logger is the logging surface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Registry caches data-source configuration and tracks which sources are
// currently running.
//
// A source counts as running only when it is enabled in configuration and
// the runtime last reported it running. All methods are safe for
// concurrent use.
type Registry struct {
	repo Repository

	mu      sync.RWMutex
	cache   map[string]*DataSource // by XID
	running map[string]bool

	logger Logger
}

// NewRegistry returns a registry over repo with an empty cache.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:    repo,
		cache:   make(map[string]*DataSource),
		running: make(map[string]bool),
		logger:  noopLogger{},
	}
}

// SetLogger sets the registry's logger.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads every data source from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	sources, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading data sources: %w", err)
	}

	r.mu.Lock()
	r.cache = make(map[string]*DataSource, len(sources))
	for i := range sources {
		r.cache[sources[i].XID] = sources[i].Clone()
	}
	r.mu.Unlock()

	r.logger.Info("data source cache refreshed", "count", len(sources))
	return nil
}

// Get returns a copy of the data source with xid, from cache when possible.
func (r *Registry) Get(ctx context.Context, xid string) (*DataSource, error) {
	r.mu.RLock()
	cached, ok := r.cache[xid]
	r.mu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	ds, err := r.repo.GetByXID(ctx, xid)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[xid] = ds.Clone()
	r.mu.Unlock()
	return ds, nil
}

// List returns every data source with its runtime state, ordered by XID.
func (r *Registry) List(ctx context.Context) ([]Status, error) {
	sources, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, len(sources))
	for i := range sources {
		out[i] = Status{DataSource: sources[i], Running: sources[i].Enabled && r.running[sources[i].XID]}
	}
	return out, nil
}

// Create stores a new data source and caches it.
func (r *Registry) Create(ctx context.Context, ds *DataSource) error {
	if err := r.repo.Create(ctx, ds); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[ds.XID] = ds.Clone()
	r.mu.Unlock()
	return nil
}

// SetEnabled persists the enabled flag and updates the cache.
func (r *Registry) SetEnabled(ctx context.Context, xid string, enabled bool) error {
	if err := r.repo.SetEnabled(ctx, xid, enabled); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, xid)
	r.mu.Unlock()
	return nil
}

// SetRunning records the runtime state reported for xid. Reports for
// unknown XIDs are kept; the source may be created later.
func (r *Registry) SetRunning(xid string, running bool) {
	r.mu.Lock()
	was := r.running[xid]
	if running {
		r.running[xid] = true
	} else {
		delete(r.running, xid)
	}
	r.mu.Unlock()

	if was != running {
		r.logger.Debug("data source runtime state changed", "xid", xid, "running", running)
	}
}

// IsRunning reports whether the data source with xid is enabled and
// currently running. An unknown xid is not running.
func (r *Registry) IsRunning(ctx context.Context, xid string) (bool, error) {
	r.mu.RLock()
	reported := r.running[xid]
	r.mu.RUnlock()
	if !reported {
		return false, nil
	}

	ds, err := r.Get(ctx, xid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return ds.Enabled, nil
}
