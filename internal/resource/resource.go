package resource

import (
	"fmt"
	"sync"
	"time"
)

// Resource is one temporary resource. Identity fields are immutable; the
// rest is guarded by mu and only ever exposed through Snapshot.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - While RUNNING, only the owning work should report progress.
type Resource[R any] struct {
	id        string
	typ       string
	ownerID   string
	createdAt time.Time
	timeoutAt time.Time
	expiry    time.Duration
	notifier  Notifier
	logger    Logger
	now       func() time.Time

	mu          sync.Mutex
	status      Status
	progress    Progress
	result      R
	errPayload  *ErrorPayload
	expiresAt   time.Time
	completedAt time.Time
	cancelFn    CancelFunc
	cancelUsed  bool
}

func newResource[R any](id, typ, ownerID string, now time.Time, expiry, timeout time.Duration,
	notifier Notifier, logger Logger, clock func() time.Time,
) *Resource[R] {
	timeoutAt := now.Add(timeout)
	return &Resource[R]{
		id:        id,
		typ:       typ,
		ownerID:   ownerID,
		createdAt: now,
		timeoutAt: timeoutAt,
		expiry:    expiry,
		notifier:  notifier,
		logger:    logger,
		now:       clock,
		status:    StatusRunning,
		// Provisional until the resource finishes.
		expiresAt: timeoutAt.Add(expiry),
	}
}

// ID returns the resource id.
func (r *Resource[R]) ID() string { return r.id }

// Type returns the resource type tag, e.g. "MBUS".
func (r *Resource[R]) Type() string { return r.typ }

// OwnerID returns the id of the user that created the resource.
func (r *Resource[R]) OwnerID() string { return r.ownerID }

// CreatedAt returns the creation time.
func (r *Resource[R]) CreatedAt() time.Time { return r.createdAt }

// TimeoutAt returns the deadline for the work.
func (r *Resource[R]) TimeoutAt() time.Time { return r.timeoutAt }

// Status returns the current status.
func (r *Resource[R]) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// ExpiresAt returns when the registry will evict the resource. While
// RUNNING this is provisional; on finishing it becomes completion + expiry.
func (r *Resource[R]) ExpiresAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expiresAt
}

// Snapshot returns a consistent copy of the resource.
func (r *Resource[R]) Snapshot() Snapshot[R] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// VisibleTo reports whether v may access this resource.
func (r *Resource[R]) VisibleTo(v Viewer) bool {
	return CanView(v, r.ownerID)
}

// ReportProgress records an intermediate result while RUNNING.
//
// Returns ErrTerminal (and changes nothing) once the resource finished,
// and ErrValidation when position/maximum are out of range.
func (r *Resource[R]) ReportProgress(result R, position, maximum int) error {
	if err := checkProgress(position, maximum); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return ErrTerminal
	}
	r.result = result
	r.progress = Progress{Position: position, Maximum: maximum}
	r.notifyLocked(EventProgress)
	return nil
}

// Complete moves RUNNING to SUCCESS with the final result. Progress is
// pinned to (maximum, maximum), using 1 when no maximum was ever reported.
func (r *Resource[R]) Complete(result R) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return ErrTerminal
	}
	r.result = result
	r.completeLocked()
	return nil
}

// ProgressOrSuccess reports progress and completes once position reaches
// maximum. Prefer ReportProgress plus Complete in new work.
func (r *Resource[R]) ProgressOrSuccess(result R, position, maximum int) error {
	if err := checkProgress(position, maximum); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return ErrTerminal
	}
	r.result = result
	r.progress = Progress{Position: position, Maximum: maximum}
	if maximum > 0 && position >= maximum {
		r.completeLocked()
		return nil
	}
	r.notifyLocked(EventProgress)
	return nil
}

// Fail moves RUNNING to ERROR with a payload built from err.
func (r *Resource[R]) Fail(err error) error {
	if err == nil {
		err = fmt.Errorf("%w: work failed without an error", ErrInternal)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return ErrTerminal
	}
	r.errPayload = payloadFor(err)
	r.finishLocked(StatusError)
	return nil
}

// Cancel moves RUNNING to CANCELLED and invokes the cancel callback.
// It reports whether this call performed the transition; cancelling a
// finished resource is a no-op.
func (r *Resource[R]) Cancel() bool {
	return r.stop(StatusCancelled, nil)
}

// timeout moves RUNNING to TIMED_OUT and invokes the cancel callback.
func (r *Resource[R]) timeout() bool {
	return r.stop(StatusTimedOut, &ErrorPayload{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("timed out at %s", r.timeoutAt.UTC().Format(time.RFC3339)),
	})
}

func (r *Resource[R]) stop(status Status, payload *ErrorPayload) bool {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return false
	}
	r.errPayload = payload
	r.finishLocked(status)
	fn := r.takeCancelLocked()
	r.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

// completeCurrent completes with whatever result was last reported.
func (r *Resource[R]) completeCurrent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return false
	}
	r.completeLocked()
	return true
}

// setCancelLocked stores the work's cancel callback. Called by the registry
// while it holds mu.
func (r *Resource[R]) setCancelLocked(fn CancelFunc) {
	r.cancelFn = fn
}

func (r *Resource[R]) takeCancelLocked() CancelFunc {
	if r.cancelUsed {
		return nil
	}
	r.cancelUsed = true
	return r.cancelFn
}

func (r *Resource[R]) completeLocked() {
	maximum := r.progress.Maximum
	if maximum <= 0 {
		maximum = 1
	}
	r.progress = Progress{Position: maximum, Maximum: maximum}
	r.finishLocked(StatusSuccess)
}

func (r *Resource[R]) finishLocked(status Status) {
	now := r.now()
	r.status = status
	r.completedAt = now
	r.expiresAt = now.Add(r.expiry)
	r.notifyLocked(EventFinished)
}

func (r *Resource[R]) snapshotLocked() Snapshot[R] {
	s := Snapshot[R]{
		ID:           r.id,
		ResourceType: r.typ,
		OwnerID:      r.ownerID,
		Status:       r.status,
		Progress:     r.progress,
		Result:       r.result,
		CreatedAt:    r.createdAt,
		ExpiresAt:    r.expiresAt,
		TimeoutAt:    r.timeoutAt,
	}
	if r.errPayload != nil {
		p := *r.errPayload
		s.Error = &p
	}
	if !r.completedAt.IsZero() {
		t := r.completedAt
		s.CompletedAt = &t
	}
	return s
}

func (r *Resource[R]) notifyLocked(kind EventKind) {
	r.emitLocked(kind, r.snapshotLocked())
}

func (r *Resource[R]) emitLocked(kind EventKind, snap Snapshot[R]) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("resource notifier panic recovered",
				"resource_id", r.id,
				"event", string(kind),
				"panic", p,
			)
		}
	}()

	r.notifier.Notify(Event{
		Kind:         kind,
		ResourceType: r.typ,
		ResourceID:   r.id,
		OwnerID:      r.ownerID,
		Status:       snap.Status,
		CreatedAt:    r.createdAt,
		CompletedAt:  r.completedAt,
		Snapshot:     snap,
	})
}

func checkProgress(position, maximum int) error {
	if position < 0 || maximum < 0 {
		return fmt.Errorf("%w: negative progress (%d, %d)", ErrValidation, position, maximum)
	}
	if maximum > 0 && position > maximum {
		return fmt.Errorf("%w: position %d exceeds maximum %d", ErrValidation, position, maximum)
	}
	return nil
}

// expired reports whether the registry should evict the resource at now.
func (r *Resource[R]) expired(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !now.Before(r.expiresAt)
}

// overdue reports whether the resource is RUNNING past its timeout.
func (r *Resource[R]) overdue(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status == StatusRunning && !now.Before(r.timeoutAt)
}

// announceRemoved emits the removal event.
func (r *Resource[R]) announceRemoved() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifyLocked(EventRemoved)
}
