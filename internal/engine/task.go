package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/metrics"
)

// RetryPolicy bounds task attempts with a fixed pause between them.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// TaskOptions configures one task invocation.
type TaskOptions struct {
	Retry RetryPolicy
	// Timeout bounds a single attempt. Zero disables it.
	Timeout time.Duration
	// HeartbeatTimeout is the maximum silence between Beat calls before the
	// attempt is cancelled as stalled. Zero disables the watchdog.
	HeartbeatTimeout time.Duration
}

// TaskFunc is the body of a task invocation.
type TaskFunc[T any] func(ctx context.Context) (T, error)

// InvokeTask runs fn under the retry policy. Fatal errors short-circuit the
// loop; cancellation of ctx is never retried. The returned error carries the
// attempt count once the ceiling is exhausted.
func InvokeTask[T any](ctx context.Context, rt *Runtime, name string, opts TaskOptions, fn TaskFunc[T]) (T, error) {
	var zero T
	attempts := opts.Retry.attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		value, err := runAttempt(ctx, name, opts, fn)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if IsFatal(err) {
			rt.logger.Error("task failed fatally",
				zap.String("task", name), zap.Int("attempt", attempt), zap.Error(err))
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, lastErr
		}
		if attempt < attempts {
			rt.logger.Warn("task attempt failed",
				zap.String("task", name), zap.Int("attempt", attempt), zap.Error(err))
			metrics.ObserveTaskRetry(name)
			if err := sleep(ctx, opts.Retry.Interval); err != nil {
				return zero, lastErr
			}
		}
	}
	return zero, fmt.Errorf("task %s failed after %d attempts: %w", name, attempts, lastErr)
}

func runAttempt[T any](ctx context.Context, name string, opts TaskOptions, fn TaskFunc[T]) (value T, err error) {
	var cancel context.CancelFunc
	attemptCtx := ctx
	if opts.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var hb *heartbeat
	if opts.HeartbeatTimeout > 0 {
		hb = newHeartbeat(opts.HeartbeatTimeout, cancel)
		attemptCtx = withBeat(attemptCtx, hb)
		defer hb.stop()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task %s panicked: %v", name, rec)
		}
	}()

	value, err = fn(attemptCtx)
	if err != nil && hb != nil && hb.expired() {
		err = fmt.Errorf("%w: %v", ErrHeartbeatExpired, err)
	}
	return value, err
}

// heartbeat cancels a task attempt that has gone silent longer than timeout.
type heartbeat struct {
	timeout time.Duration
	cancel  context.CancelFunc
	last    atomic.Int64
	tripped atomic.Bool
	stopCh  chan struct{}
	once    sync.Once
}

func newHeartbeat(timeout time.Duration, cancel context.CancelFunc) *heartbeat {
	hb := &heartbeat{timeout: timeout, cancel: cancel, stopCh: make(chan struct{})}
	hb.last.Store(time.Now().UnixNano())
	go hb.watch()
	return hb
}

func (h *heartbeat) watch() {
	interval := h.timeout / 4
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			last := time.Unix(0, h.last.Load())
			if time.Since(last) > h.timeout {
				h.tripped.Store(true)
				h.cancel()
				return
			}
		}
	}
}

func (h *heartbeat) beat()         { h.last.Store(time.Now().UnixNano()) }
func (h *heartbeat) expired() bool { return h.tripped.Load() }
func (h *heartbeat) stop()         { h.once.Do(func() { close(h.stopCh) }) }

type beatKey struct{}

func withBeat(ctx context.Context, hb *heartbeat) context.Context {
	return context.WithValue(ctx, beatKey{}, hb)
}

// Beat records liveness for the enclosing task invocation. It is a no-op
// when the invocation carries no heartbeat watchdog, so long loops can call
// it unconditionally.
func Beat(ctx context.Context) {
	if hb, ok := ctx.Value(beatKey{}).(*heartbeat); ok {
		hb.beat()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
