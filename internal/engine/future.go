package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RunFunc is the body of a spawned run.
type RunFunc[T any] func(ctx context.Context) (T, error)

// Future is the awaitable handle for a spawned run.
type Future[T any] struct {
	id    string
	name  string
	done  chan struct{}
	value T
	err   error
}

// ID returns the run identifier the future was spawned with.
func (f *Future[T]) ID() string { return f.id }

// Name returns the run name the future was spawned with.
func (f *Future[T]) Name() string { return f.name }

// Done is closed when the run finishes.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the run finishes or ctx ends.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Spawn launches fn as a child run and returns its handle. The child's
// context derives from ctx, so cancelling the caller cancels the child.
// Panics inside fn surface as run errors.
func Spawn[T any](ctx context.Context, rt *Runtime, name, id string, fn RunFunc[T]) *Future[T] {
	f := &Future[T]{id: id, name: name, done: make(chan struct{})}
	runCtx, cancel := runContext(ctx, rt)
	go func() {
		defer close(f.done)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				f.err = fmt.Errorf("run %s panicked: %v", name, rec)
				rt.logger.Error("run panicked",
					zap.String("run", name), zap.String("run_id", id), zap.Any("panic", rec))
			}
		}()
		f.value, f.err = execute(runCtx, rt, name, id, fn)
	}()
	return f
}

// SpawnDetached launches fn decoupled from the caller: ctx cancellation does
// not reach it and its result is dropped. Failures are logged, never
// propagated. The run still inherits ctx values (trace linkage included).
func SpawnDetached[T any](ctx context.Context, rt *Runtime, name, id string, fn RunFunc[T]) {
	base := context.WithoutCancel(ctx)
	rt.detached.Add(1)
	go func() {
		defer rt.detached.Done()
		runCtx, cancel := runContext(base, rt)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				rt.logger.Error("detached run panicked",
					zap.String("run", name), zap.String("run_id", id), zap.Any("panic", rec))
			}
		}()
		if _, err := execute(runCtx, rt, name, id, fn); err != nil {
			rt.logger.Warn("detached run failed",
				zap.String("run", name), zap.String("run_id", id), zap.Error(err))
		}
	}()
}

// AwaitEach drains futures in completion order, calling handle once per
// future as it finishes. It returns ctx.Err() if the context ends before
// every future does.
func AwaitEach[T any](ctx context.Context, futures []*Future[T], handle func(f *Future[T], value T, err error)) error {
	ready := make(chan *Future[T], len(futures))
	for _, f := range futures {
		f := f
		go func() {
			<-f.done
			ready <- f
		}()
	}
	for range futures {
		select {
		case f := <-ready:
			handle(f, f.value, f.err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func runContext(ctx context.Context, rt *Runtime) (context.Context, context.CancelFunc) {
	if rt.runTimeout > 0 {
		return context.WithTimeout(ctx, rt.runTimeout)
	}
	return context.WithCancel(ctx)
}

func execute[T any](ctx context.Context, rt *Runtime, name, id string, fn RunFunc[T]) (T, error) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attribute.String("run.id", id)))
	defer span.End()

	started := time.Now()
	rt.logger.Debug("run started", zap.String("run", name), zap.String("run_id", id))
	value, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		rt.logger.Warn("run failed",
			zap.String("run", name),
			zap.String("run_id", id),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return value, err
	}
	rt.logger.Debug("run finished",
		zap.String("run", name),
		zap.String("run_id", id),
		zap.Duration("elapsed", time.Since(started)))
	return value, nil
}
