package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/engine"
	"github.com/feedmill/feedmill/internal/ingest"
	"github.com/feedmill/feedmill/internal/metrics"
	"github.com/feedmill/feedmill/internal/progress"
)

// runDistillation is the body of one distillation run. With explicit IDs it
// serves a dispatched batch or an inline entry; with none it sweeps entries
// that have content but no summary yet. Distillation and persistence decide
// success per entry; the enrichment stages behind it (embeddings, search
// index, graph, evaluation) are best-effort and degrade to warnings.
func (p *Pipeline) runDistillation(ctx context.Context, tracker *progress.Tracker, runID string, entryIDs []string, mode string) (ingest.DistillationResult, error) {
	res := ingest.DistillationResult{Status: ingest.DistillationCompleted}
	logger := p.logger.With(zap.String("run_id", runID), zap.String("mode", mode))
	started := time.Now()

	var (
		entries []ingest.Entry
		err     error
	)
	if len(entryIDs) > 0 {
		entries, err = engine.InvokeTask(ctx, p.rt, "load-entries", p.taskOpts(), func(ctx context.Context) ([]ingest.Entry, error) {
			return p.deps.Entries.Entries(ctx, entryIDs)
		})
	} else {
		entries, err = engine.InvokeTask(ctx, p.rt, "load-undistilled", p.taskOpts(), func(ctx context.Context) ([]ingest.Entry, error) {
			return p.deps.Entries.ListUndistilled(ctx, p.cfg.BatchSize)
		})
	}
	if err != nil {
		endRun(tracker, runID, "", err)
		return res, fmt.Errorf("load entries: %w", err)
	}
	if len(entries) == 0 {
		res.Status = ingest.DistillationNoEntries
		logger.Info("no entries to distill")
		endRun(tracker, runID, "no entries to distill", nil)
		return res, nil
	}

	inputs := make([]ingest.DistillInput, 0, len(entries))
	for _, entry := range entries {
		tracker.Track(runID, entry.ID, entry.Title, "distill")
		p.transition(tracker, runID, entry.ID, "distill", progress.EntryDistilling, "")
		content := entry.Content
		if content == "" {
			content = entry.Inline
		}
		inputs = append(inputs, ingest.DistillInput{EntryID: entry.ID, Title: entry.Title, Content: content})
	}

	outputs, err := engine.InvokeTask(ctx, p.rt, "distill", engine.TaskOptions{Retry: p.cfg.Retry, Timeout: p.cfg.DistillTimeout}, func(ctx context.Context) ([]ingest.DistillOutput, error) {
		return p.deps.Distiller.Distill(ctx, inputs)
	})
	if err != nil {
		for _, entry := range entries {
			p.transition(tracker, runID, entry.ID, "distill", progress.EntryError, "distillation failed")
		}
		res.Failed = len(entries)
		endRun(tracker, runID, "", err)
		return res, fmt.Errorf("distill %d entries: %w", len(entries), err)
	}

	byEntry := make(map[string]ingest.DistillOutput, len(outputs))
	for _, out := range outputs {
		byEntry[out.EntryID] = out
	}

	docs := make([]ingest.DistillOutput, 0, len(entries))
	distilledIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		out, ok := byEntry[entry.ID]
		if !ok || out.Summary == "" {
			res.Failed++
			p.transition(tracker, runID, entry.ID, "distill", progress.EntryError, "no summary produced")
			continue
		}
		_, err := engine.InvokeTask(ctx, p.rt, "save-distillation", p.taskOpts(), func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.deps.Entries.SaveDistillation(ctx, out)
		})
		if err != nil {
			res.Failed++
			p.transition(tracker, runID, entry.ID, "distill", progress.EntryError, failReason(err))
			logger.Warn("distillation save failed", zap.String("entry_id", entry.ID), zap.Error(err))
			continue
		}
		res.Distilled++
		distilledIDs = append(distilledIDs, entry.ID)
		docs = append(docs, out)
		p.transition(tracker, runID, entry.ID, "distill", progress.EntryCompleted, "")
	}

	if len(distilledIDs) > 0 {
		p.enrich(ctx, tracker, logger, runID, distilledIDs, docs, &res)
	}

	metrics.ObserveDistillBatch(mode, time.Since(started))
	logger.Info("distillation run finished",
		zap.Int("distilled", res.Distilled),
		zap.Int("failed", res.Failed),
		zap.Int("embedded", res.Embedded))
	endRun(tracker, runID, fmt.Sprintf("%d distilled, %d failed", res.Distilled, res.Failed), nil)
	return res, nil
}

// enrich runs the optional post-distillation stages over the entries that
// made it through. Every stage is independent: a failure warns and the rest
// still run.
func (p *Pipeline) enrich(ctx context.Context, tracker *progress.Tracker, logger *zap.Logger, runID string, entryIDs []string, docs []ingest.DistillOutput, res *ingest.DistillationResult) {
	if p.deps.Embedder != nil {
		counts, err := engine.InvokeTask(ctx, p.rt, "compute-embeddings", p.taskOpts(), func(ctx context.Context) (ingest.EmbedCounts, error) {
			return p.deps.Embedder.ComputeEmbeddings(ctx, entryIDs)
		})
		if err != nil {
			logger.Warn("embedding computation failed", zap.Error(err))
		} else {
			res.Embedded = counts.Computed
		}
	}

	if p.deps.Indexer != nil {
		_, err := engine.InvokeTask(ctx, p.rt, "index-entries", p.taskOpts(), func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.deps.Indexer.IndexEntries(ctx, docs)
		})
		if err != nil {
			logger.Warn("search indexing failed", zap.Error(err))
		} else {
			res.Indexed = len(docs)
		}
	}

	if p.deps.Graph != nil {
		stats, err := engine.InvokeTask(ctx, p.rt, "graph-add", p.taskOpts(), func(ctx context.Context) (ingest.GraphStats, error) {
			return p.deps.Graph.AddToGraph(ctx, docs)
		})
		if err != nil {
			logger.Warn("graph write failed", zap.Error(err))
		} else {
			res.Graph = stats
		}
	}

	if p.cfg.EvalEnabled && p.deps.Evaluator != nil {
		res.Evaluated = p.spawnEvaluations(ctx, tracker, runID, docs)
	}
}

// spawnEvaluations launches detached evaluation runs for a bounded sample of
// distilled entries. The run ID doubles as the trace ID handed to the
// evaluation service, so scores can be joined back to this run later.
func (p *Pipeline) spawnEvaluations(ctx context.Context, tracker *progress.Tracker, runID string, docs []ingest.DistillOutput) int {
	sample := len(docs)
	if sample > p.cfg.EvalSampleSize {
		sample = p.cfg.EvalSampleSize
	}
	for _, doc := range docs[:sample] {
		entryID := doc.EntryID
		evalID := engine.DeriveID(runID, "eval:"+entryID)
		tracker.StartRun(evalID, runID, "evaluation", entryID)
		engine.SpawnDetached(ctx, p.rt, "evaluation", evalID, func(ctx context.Context) (ingest.EvalScores, error) {
			scores, err := p.deps.Evaluator.Evaluate(ctx, entryID, evalID)
			endRun(tracker, evalID, "scored", err)
			return scores, err
		})
	}
	return sample
}
