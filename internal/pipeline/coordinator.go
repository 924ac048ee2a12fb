package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/engine"
	"github.com/feedmill/feedmill/internal/ingest"
	"github.com/feedmill/feedmill/internal/metrics"
	"github.com/feedmill/feedmill/internal/progress"
)

// run is the coordinator body: list feeds, fan out ingestion runs in groups
// of at most MaxConcurrentFeeds, and fold each feed's result into the
// aggregate. One failed feed never fails the run; only a coordinator-level
// fault (listing feeds, cancellation) does.
func (p *Pipeline) run(ctx context.Context, tracker *progress.Tracker) (ingest.AggregateResult, error) {
	rootID := tracker.RootRunID()
	res := ingest.AggregateResult{RunID: rootID, Status: ingest.PipelineCompleted}
	logger := p.logger.With(zap.String("run_id", rootID))

	feeds, err := engine.InvokeTask(ctx, p.rt, "list-feeds", p.taskOpts(), func(ctx context.Context) ([]ingest.Feed, error) {
		return p.deps.Feeds.ListFeeds(ctx)
	})
	if err != nil {
		res.Status = ingest.PipelineError
		tracker.Fail(failReason(err))
		return res, fmt.Errorf("list feeds: %w", err)
	}
	if len(feeds) == 0 {
		res.Status = ingest.PipelineNoFeeds
		logger.Info("no active feeds, nothing to do")
		tracker.Complete("no active feeds")
		return res, nil
	}

	logger.Info("pipeline run started",
		zap.Int("feeds", len(feeds)),
		zap.Int("max_concurrent", p.cfg.MaxConcurrentFeeds))

	for _, group := range chunkFeeds(feeds, p.cfg.MaxConcurrentFeeds) {
		futures := make([]*engine.Future[ingest.FeedResult], 0, len(group))
		byRun := make(map[string]ingest.Feed, len(group))
		for _, feed := range group {
			feed := feed
			childID := engine.DeriveID(rootID, "feed:"+feed.ID)
			byRun[childID] = feed
			tracker.StartRun(childID, rootID, "feed-ingest", feed.Title)
			futures = append(futures, engine.Spawn(ctx, p.rt, "feed-ingest", childID, func(ctx context.Context) (ingest.FeedResult, error) {
				return p.runFeed(ctx, tracker, childID, feed)
			}))
		}

		awaitErr := engine.AwaitEach(ctx, futures, func(f *engine.Future[ingest.FeedResult], fr ingest.FeedResult, err error) {
			res.EntriesCreated += fr.EntriesCreated
			res.ContentsFetched += fr.ContentsFetched
			res.EntriesDistilled += fr.EntriesDistilled
			if err != nil {
				res.FeedsFailed++
				metrics.ObserveFeed("error")
				tracker.FailRun(f.ID(), failReason(err))
				logger.Warn("feed ingestion failed",
					zap.String("feed_id", byRun[f.ID()].ID), zap.Error(err))
				return
			}
			metrics.ObserveFeed(string(fr.Status))
			switch fr.Status {
			case ingest.FeedSkipped:
				res.FeedsSkipped++
			case ingest.FeedError:
				res.FeedsFailed++
			default:
				res.FeedsProcessed++
			}
		})
		if awaitErr != nil {
			res.Status = ingest.PipelineError
			tracker.Fail(failReason(awaitErr))
			return res, fmt.Errorf("await feed runs: %w", awaitErr)
		}
	}

	summary := fmt.Sprintf("%d feeds processed, %d skipped, %d failed",
		res.FeedsProcessed, res.FeedsSkipped, res.FeedsFailed)
	logger.Info("pipeline run finished",
		zap.Int("feeds_processed", res.FeedsProcessed),
		zap.Int("feeds_skipped", res.FeedsSkipped),
		zap.Int("feeds_failed", res.FeedsFailed),
		zap.Int("entries_created", res.EntriesCreated),
		zap.Int("contents_fetched", res.ContentsFetched))
	tracker.Complete(summary)
	return res, nil
}
