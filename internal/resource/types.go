package resource

import (
	"context"
	"sync/atomic"
	"time"
)

// Status is the lifecycle state of a resource.
type Status string

// Resource statuses. Everything except StatusRunning is terminal.
const (
	StatusRunning   Status = "RUNNING"
	StatusSuccess   Status = "SUCCESS"
	StatusError     Status = "ERROR"
	StatusCancelled Status = "CANCELLED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusRunning, StatusSuccess, StatusError, StatusCancelled, StatusTimedOut}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Progress is a (position, maximum) pair. Maximum is 0 until work reports one.
type Progress struct {
	Position int `json:"position"`
	Maximum  int `json:"maximum"`
}

// Percent returns progress as 0..100, or 0 when no maximum is known.
func (p Progress) Percent() int {
	if p.Maximum <= 0 {
		return 0
	}
	return p.Position * 100 / p.Maximum
}

// Snapshot is an immutable copy of a resource handed to every reader.
type Snapshot[R any] struct {
	ID           string        `json:"id"`
	ResourceType string        `json:"resource_type"`
	OwnerID      string        `json:"owner_id"`
	Status       Status        `json:"status"`
	Progress     Progress      `json:"progress"`
	Result       R             `json:"result"`
	Error        *ErrorPayload `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
	TimeoutAt    time.Time     `json:"timeout_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// CancelFunc stops the work behind a resource. The resource calls it at
// most once, on the transition to CANCELLED or TIMED_OUT.
type CancelFunc func()

// WorkFactory starts the work for a freshly created resource and returns
// the callback that cancels it. It runs synchronously inside
// Registry.Create and must not block or call back into the registry.
type WorkFactory[R any] func(res *Resource[R], ownerID string) (CancelFunc, error)

// Sink is the reporting side of a resource as seen by work.
type Sink[R any] interface {
	ReportProgress(result R, position, maximum int) error
	Complete(result R) error
	Fail(err error) error
}

// Work is a unit of background work run by a Runner.
//
// Run should poll token.Cancelled at natural boundaries and return promptly
// once it is set. A nil return while the resource is still RUNNING
// completes it with the last reported result.
type Work[R any] interface {
	Run(ctx context.Context, sink Sink[R], token *Token) error
}

// WorkFunc adapts a function to Work.
type WorkFunc[R any] func(ctx context.Context, sink Sink[R], token *Token) error

// Run calls f.
func (f WorkFunc[R]) Run(ctx context.Context, sink Sink[R], token *Token) error {
	return f(ctx, sink, token)
}

// Token is the cancellation flag shared between a resource and its work.
type Token struct {
	cancelled atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewToken returns an unset token.
func NewToken() *Token {
	ctx, cancel := context.WithCancel(context.Background())
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancelled reports whether cancellation was requested.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// Done is closed once cancellation was requested.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Cancel sets the flag. Safe to call repeatedly.
func (t *Token) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// Viewer identifies the caller for authorisation checks.
type Viewer struct {
	UserID string
	Admin  bool
}

// CanView reports whether v may see, cancel or remove a resource owned by ownerID.
func CanView(v Viewer, ownerID string) bool {
	return v.Admin || (v.UserID != "" && v.UserID == ownerID)
}

// Logger is the logging surface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
