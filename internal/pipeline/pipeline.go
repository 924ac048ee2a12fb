// Package pipeline implements the orchestration layer: a coordinator run
// fanning out to per-feed ingestion runs, which fan out to per-host fetch
// runs and detach distillation runs as batches fill. Orchestrators own all
// state transitions; collaborators only return results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	clocksys "github.com/feedmill/feedmill/internal/clock/system"
	"github.com/feedmill/feedmill/internal/engine"
	"github.com/feedmill/feedmill/internal/ingest"
	"github.com/feedmill/feedmill/internal/policy/ratelimit"
	"github.com/feedmill/feedmill/internal/progress"
)

// Config tunes fan-out widths, pacing, batching, and task budgets.
type Config struct {
	MaxConcurrentFeeds int
	BatchSize          int
	DomainDelay        time.Duration
	HeartbeatEvery     int
	InlineDistill      bool
	EvalEnabled        bool
	EvalSampleSize     int
	MaxEntries         int
	Retry              engine.RetryPolicy
	TaskTimeout        time.Duration
	DistillTimeout     time.Duration
	HeartbeatTimeout   time.Duration
	BlobPrefix         string
	BlobContentType    string
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentFeeds <= 0 {
		c.MaxConcurrentFeeds = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = 10
	}
	if c.EvalSampleSize <= 0 {
		c.EvalSampleSize = 5
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 2
	}
	if c.BlobPrefix == "" {
		c.BlobPrefix = "raw"
	}
	if c.BlobContentType == "" {
		c.BlobContentType = "text/html; charset=utf-8"
	}
	return c
}

// Deps carries the pipeline's collaborators. Feeds, Crawler, Entries, Blobs,
// and Distiller are required; the remaining services are optional and their
// stages are skipped when nil.
type Deps struct {
	Feeds     ingest.FeedDirectory
	Crawler   ingest.FeedCrawler
	Fetcher   ingest.ContentFetcher
	Entries   ingest.EntryStore
	Blobs     ingest.BlobStore
	Distiller ingest.Distiller
	Embedder  ingest.Embedder
	Evaluator ingest.Evaluator
	Indexer   ingest.SearchIndexer
	Graph     ingest.GraphWriter

	Registry *progress.Registry
	Emitter  progress.Emitter
	Runtime  *engine.Runtime
	Logger   *zap.Logger
	Clock    ingest.Clock
}

// Pipeline wires the orchestrators to their collaborators.
type Pipeline struct {
	cfg     Config
	deps    Deps
	rt      *engine.Runtime
	logger  *zap.Logger
	clock   ingest.Clock
	limiter *ratelimit.Limiter
}

// New validates deps and builds a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Feeds == nil:
		return nil, fmt.Errorf("feed directory is required")
	case deps.Crawler == nil:
		return nil, fmt.Errorf("feed crawler is required")
	case deps.Entries == nil:
		return nil, fmt.Errorf("entry store is required")
	case deps.Blobs == nil:
		return nil, fmt.Errorf("blob store is required")
	case deps.Distiller == nil:
		return nil, fmt.Errorf("distiller is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Runtime == nil {
		deps.Runtime = engine.New(engine.Options{Logger: deps.Logger})
	}
	if deps.Registry == nil {
		deps.Registry = progress.NewRegistry(deps.Logger)
	}
	if deps.Clock == nil {
		deps.Clock = clocksys.New()
	}
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:     cfg,
		deps:    deps,
		rt:      deps.Runtime,
		logger:  deps.Logger,
		clock:   deps.Clock,
		limiter: ratelimit.New(cfg.DomainDelay),
	}, nil
}

// Registry exposes the run registry for snapshot queries.
func (p *Pipeline) Registry() *progress.Registry { return p.deps.Registry }

// Launch starts a full pipeline run in the background and returns its root
// run ID immediately. The run outlives the caller's context.
func (p *Pipeline) Launch(ctx context.Context) string {
	rootID := engine.NewRunID()
	tracker := p.newTracker(rootID, "pipeline", "")
	engine.SpawnDetached(ctx, p.rt, "pipeline", rootID, func(ctx context.Context) (ingest.AggregateResult, error) {
		return p.run(ctx, tracker)
	})
	return rootID
}

// Run executes a full pipeline run synchronously.
func (p *Pipeline) Run(ctx context.Context) (ingest.AggregateResult, error) {
	rootID := engine.NewRunID()
	tracker := p.newTracker(rootID, "pipeline", "")
	return p.run(ctx, tracker)
}

// LaunchSweep starts a standalone distillation sweep in the background and
// returns its root run ID.
func (p *Pipeline) LaunchSweep(ctx context.Context) string {
	rootID := engine.NewRunID()
	tracker := p.newTracker(rootID, "distill-sweep", "")
	engine.SpawnDetached(ctx, p.rt, "distill-sweep", rootID, func(ctx context.Context) (ingest.DistillationResult, error) {
		return p.runDistillation(ctx, tracker, rootID, nil, "sweep")
	})
	return rootID
}

// Sweep distills entries that still lack a summary, synchronously.
func (p *Pipeline) Sweep(ctx context.Context) (ingest.DistillationResult, error) {
	rootID := engine.NewRunID()
	tracker := p.newTracker(rootID, "distill-sweep", "")
	return p.runDistillation(ctx, tracker, rootID, nil, "sweep")
}

func (p *Pipeline) newTracker(rootID, name, label string) *progress.Tracker {
	opts := []progress.Option{}
	if p.deps.Emitter != nil {
		opts = append(opts, progress.WithEmitter(p.deps.Emitter))
	}
	tracker := progress.NewTracker(rootID, name, label, opts...)
	p.deps.Registry.Add(tracker)
	return tracker
}

// endRun finishes a child run node from its body's outcome. Failing an
// already-finished run is a no-op, so awaiting parents can safety-net panics
// without double-writing.
func endRun(tracker *progress.Tracker, runID, message string, err error) {
	if err != nil {
		tracker.FailRun(runID, err.Error())
		return
	}
	tracker.CompleteRun(runID, message)
}

// failReason renders a run failure for snapshots, labeling cancellation
// distinctly from real faults.
func failReason(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled: " + err.Error()
	}
	return err.Error()
}

func (p *Pipeline) taskOpts() engine.TaskOptions {
	return engine.TaskOptions{Retry: p.cfg.Retry, Timeout: p.cfg.TaskTimeout}
}

// transition records an entry state change. Progress is observability, never
// control flow: rejected writes are logged and the pipeline moves on.
func (p *Pipeline) transition(tracker *progress.Tracker, runID, entryID, stage string, state progress.EntryState, note string) {
	if err := tracker.Transition(runID, entryID, stage, state, note); err != nil {
		p.logger.Debug("entry transition rejected",
			zap.String("entry_id", entryID),
			zap.String("state", string(state)),
			zap.Error(err))
	}
}
