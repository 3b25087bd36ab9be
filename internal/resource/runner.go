package resource

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// Executor runs jobs asynchronously. workpool.Pool satisfies it.
//
// Submit must not block; the returned func cancels the job best-effort.
// A Submit error surfaces from Create wrapped in ErrUnavailable.
type Executor interface {
	Submit(job func(ctx context.Context)) (context.CancelFunc, error)
}

// Runner bridges Work and Resource: it submits work to an Executor, hands
// it a cancellation token and turns whatever the work does into resource
// transitions.
type Runner[R any] struct {
	exec   Executor
	logger Logger
}

// NewRunner creates a runner that submits to exec.
func NewRunner[R any](exec Executor) *Runner[R] {
	return &Runner[R]{exec: exec, logger: noopLogger{}}
}

// SetLogger sets the logger used for work failures and panics.
func (r *Runner[R]) SetLogger(logger Logger) {
	r.logger = logger
}

// Factory returns a WorkFactory that runs work for each created resource.
//
// The cancel callback it hands back sets the work's Token and cancels the
// submitted job. The job context carries the resource's timeout as its
// deadline; hitting it moves the resource to TIMED_OUT immediately, even if
// the work is stuck in I/O.
func (r *Runner[R]) Factory(work Work[R]) WorkFactory[R] {
	return func(res *Resource[R], _ string) (CancelFunc, error) {
		if work == nil {
			return nil, fmt.Errorf("%w: nil work", ErrValidation)
		}

		token := NewToken()
		stopJob, err := r.exec.Submit(func(jobCtx context.Context) {
			r.run(jobCtx, res, work, token)
		})
		if err != nil {
			token.Cancel()
			return nil, fmt.Errorf("%w: submitting work: %w", ErrUnavailable, err)
		}

		return func() {
			token.Cancel()
			stopJob()
		}, nil
	}
}

func (r *Runner[R]) run(jobCtx context.Context, res *Resource[R], work Work[R], token *Token) {
	ctx, cancel := context.WithDeadline(jobCtx, res.TimeoutAt())
	defer cancel()

	stopOnToken := context.AfterFunc(token.ctx, cancel)
	defer stopOnToken()

	stopOnDeadline := context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && res.timeout() {
			r.logger.Warn("resource timed out", "resource_id", res.ID(), "resource_type", res.Type())
		}
	})
	defer stopOnDeadline()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("resource work panic recovered",
				"resource_id", res.ID(),
				"panic", p,
				"stack", string(debug.Stack()),
			)
			_ = res.Fail(fmt.Errorf("%w: panic: %v", ErrInternal, p)) //nolint:errcheck // ErrTerminal is fine here
		}
	}()

	if token.Cancelled() {
		return
	}

	err := work.Run(ctx, res, token)

	switch {
	case token.Cancelled():
		// CANCELLED or TIMED_OUT already recorded.
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.timeout()
	case jobCtx.Err() != nil:
		// Executor shut down underneath the work.
		res.Cancel()
	case err != nil:
		if res.Fail(err) == nil {
			r.logger.Warn("resource work failed",
				"resource_id", res.ID(),
				"resource_type", res.Type(),
				"error", err,
			)
		}
	default:
		res.completeCurrent()
	}
}
