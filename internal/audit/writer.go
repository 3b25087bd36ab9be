package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the Writer queue length used when none is given.
const DefaultBufferSize = 256

// Logger is the logging surface used by the Writer.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Writer persists entries asynchronously, one at a time.
//
// Record never blocks. When the queue is full the entry is dropped and
// counted. Run drains the queue and returns once ctx is cancelled and
// every queued entry has been written.
type Writer struct {
	repo   Repository
	source string
	ch     chan *Entry
	logger Logger

	dropped atomic.Uint64
	once    sync.Once
	done    chan struct{}
}

// NewWriter returns a Writer that stamps entries with source.
func NewWriter(repo Repository, source string, buffer int) *Writer {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Writer{
		repo:   repo,
		source: source,
		ch:     make(chan *Entry, buffer),
		logger: noopLogger{},
		done:   make(chan struct{}),
	}
}

// SetLogger sets the writer's logger. Call before Run.
func (w *Writer) SetLogger(logger Logger) {
	w.logger = logger
}

// Record enqueues an entry. Safe on a nil Writer.
func (w *Writer) Record(action, entityType, entityID, userID string, details map[string]any) {
	if w == nil {
		return
	}

	entry := &Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Source:     w.source,
		Details:    details,
	}

	select {
	case w.ch <- entry:
	default:
		w.dropped.Add(1)
		w.logger.Warn("audit queue full, dropping entry",
			"action", action,
			"entity_type", entityType,
		)
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Done is closed when Run has returned.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

// Run writes queued entries until ctx is cancelled, then drains the queue.
// Only the first call does anything.
func (w *Writer) Run(ctx context.Context) {
	w.once.Do(func() {
		defer close(w.done)
		for {
			select {
			case entry := <-w.ch:
				w.write(entry)
			case <-ctx.Done():
				for {
					select {
					case entry := <-w.ch:
						w.write(entry)
					default:
						return
					}
				}
			}
		}
	})
}

func (w *Writer) write(entry *Entry) {
	// The request context is gone by now; the write must still happen.
	if err := w.repo.Create(context.Background(), entry); err != nil {
		w.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}
