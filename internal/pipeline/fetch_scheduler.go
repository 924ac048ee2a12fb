package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/engine"
	"github.com/feedmill/feedmill/internal/ingest"
	"github.com/feedmill/feedmill/internal/progress"
)

// runFetchScheduler is the body of one feed's fetch-scheduling run: drop
// entries whose media carries its payload out of band, partition the rest by
// host, fetch all hosts concurrently, and cut distillation batches from
// fetched IDs as hosts report back. Batches run detached; only their count
// enters the result.
func (p *Pipeline) runFetchScheduler(ctx context.Context, tracker *progress.Tracker, runID string, feed ingest.Feed, rules ingest.ExtractionRules, entries []ingest.Entry) (ingest.ScheduleResult, error) {
	res := ingest.ScheduleResult{}
	logger := p.logger.With(zap.String("run_id", runID), zap.String("feed_id", feed.ID))

	fetchable := make([]ingest.Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Media.Fetchable() {
			fetchable = append(fetchable, entry)
			continue
		}
		res.Skipped++
		p.transition(tracker, runID, entry.ID, "fetch", progress.EntrySkipped, "media not fetchable")
	}

	dispatch := func(ids []string) {
		batchID := engine.DeriveID(runID, fmt.Sprintf("batch:%d", res.BatchesDispatched))
		tracker.StartRun(batchID, runID, "distillation", fmt.Sprintf("batch %d", res.BatchesDispatched+1))
		engine.SpawnDetached(ctx, p.rt, "distillation", batchID, func(ctx context.Context) (ingest.DistillationResult, error) {
			return p.runDistillation(ctx, tracker, batchID, ids, "batch")
		})
		res.BatchesDispatched++
	}

	groups := partitionByHost(fetchable)
	futures := make([]*engine.Future[ingest.DomainResult], 0, len(groups))
	byRun := make(map[string]domainGroup, len(groups))
	for _, group := range groups {
		group := group
		childID := engine.DeriveID(runID, "domain:"+group.Host)
		byRun[childID] = group
		tracker.StartRun(childID, runID, "domain-fetch", group.Host)
		futures = append(futures, engine.Spawn(ctx, p.rt, "domain-fetch", childID, func(ctx context.Context) (ingest.DomainResult, error) {
			return p.runDomainFetch(ctx, tracker, childID, feed.ID, group, rules)
		}))
	}

	acc := newBatcher(p.cfg.BatchSize)
	awaitErr := engine.AwaitEach(ctx, futures, func(f *engine.Future[ingest.DomainResult], dr ingest.DomainResult, err error) {
		if err != nil {
			group := byRun[f.ID()]
			res.Failed += len(group.Entries)
			tracker.FailRun(f.ID(), failReason(err))
			for _, entry := range group.Entries {
				p.transition(tracker, runID, entry.ID, "fetch", progress.EntryError, "host fetch aborted")
			}
			logger.Warn("host fetch failed",
				zap.String("host", group.Host),
				zap.Int("entries", len(group.Entries)),
				zap.Error(err))
			return
		}
		res.Fetched += dr.Fetched
		res.Failed += dr.Failed
		res.FetchedIDs = append(res.FetchedIDs, dr.FetchedIDs...)
		for _, batch := range acc.add(dr.FetchedIDs...) {
			dispatch(batch)
		}
	})
	if awaitErr != nil {
		endRun(tracker, runID, "", awaitErr)
		return res, fmt.Errorf("await host fetches: %w", awaitErr)
	}

	if rest := acc.flush(); len(rest) > 0 {
		dispatch(rest)
	}

	endRun(tracker, runID, fmt.Sprintf("%d fetched, %d failed, %d batches", res.Fetched, res.Failed, res.BatchesDispatched), nil)
	return res, nil
}
