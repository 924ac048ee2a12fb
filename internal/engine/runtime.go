package engine

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("feedmill/engine")

// Options configures a Runtime.
type Options struct {
	Logger *zap.Logger
	// RunTimeout bounds each spawned run including all of its children.
	// Zero disables the budget.
	RunTimeout time.Duration
}

// Runtime carries the shared pieces every spawned run needs: the logger and
// the per-run execution budget. It also tracks detached runs so a shutdown
// can drain them.
type Runtime struct {
	logger     *zap.Logger
	runTimeout time.Duration
	detached   sync.WaitGroup
}

// New creates a Runtime.
func New(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		logger:     logger,
		runTimeout: opts.RunTimeout,
	}
}

// WaitDetached blocks until every detached run spawned through this Runtime
// has finished. Intended for graceful shutdown and tests.
func (r *Runtime) WaitDetached() {
	r.detached.Wait()
}
