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

// runFeed is the body of one feed's ingestion run: read crawl options fresh,
// crawl the feed document honoring cache-validators, persist new entries, and
// hand the crawled entries to the fetch scheduler or straight to inline
// distillation. The run node is finished here; the coordinator only
// safety-nets panics.
func (p *Pipeline) runFeed(ctx context.Context, tracker *progress.Tracker, runID string, feed ingest.Feed) (ingest.FeedResult, error) {
	res := ingest.FeedResult{FeedID: feed.ID, Status: ingest.FeedCompleted}
	logger := p.logger.With(zap.String("run_id", runID), zap.String("feed_id", feed.ID))

	fail := func(stage string, err error) (ingest.FeedResult, error) {
		res.Status = ingest.FeedError
		res.Error = err.Error()
		endRun(tracker, runID, "", err)
		return res, fmt.Errorf("%s for feed %s: %w", stage, feed.ID, err)
	}

	opts, err := engine.InvokeTask(ctx, p.rt, "feed-options", p.taskOpts(), func(ctx context.Context) (ingest.FeedOptions, error) {
		return p.deps.Feeds.FeedOptions(ctx, feed.ID)
	})
	if err != nil {
		return fail("read options", err)
	}

	limit := opts.FetchLimit
	if limit <= 0 {
		limit = p.cfg.MaxEntries
	}

	crawl, err := engine.InvokeTask(ctx, p.rt, "crawl-feed", p.taskOpts(), func(ctx context.Context) (ingest.CrawlResult, error) {
		return p.deps.Crawler.Crawl(ctx, ingest.CrawlRequest{
			URL:          feed.URL,
			ETag:         feed.ETag,
			LastModified: feed.LastModified,
			Limit:        limit,
		})
	})
	if err != nil {
		return fail("crawl", err)
	}

	if crawl.NotModified {
		p.updateCacheInfo(ctx, logger, feed, crawl)
		res.Status = ingest.FeedSkipped
		logger.Info("feed not modified")
		endRun(tracker, runID, "feed not modified", nil)
		return res, nil
	}

	entries := buildEntries(feed, crawl.Items, p.clock.Now())
	if len(entries) > 0 {
		created, err := engine.InvokeTask(ctx, p.rt, "insert-entries", p.taskOpts(), func(ctx context.Context) (int, error) {
			return p.deps.Entries.InsertEntries(ctx, entries)
		})
		if err != nil {
			return fail("insert entries", err)
		}
		res.EntriesCreated = created
		metrics.AddEntriesCreated(created)
	}
	p.updateCacheInfo(ctx, logger, feed, crawl)

	if len(entries) == 0 {
		logger.Info("feed has no entries")
		endRun(tracker, runID, "no entries in feed", nil)
		return res, nil
	}

	for _, entry := range entries {
		tracker.Track(runID, entry.ID, entry.Title, "fetch")
	}

	logger.Info("feed crawled",
		zap.Int("entries", len(entries)),
		zap.Int("created", res.EntriesCreated),
		zap.Bool("fetch_content", feed.FetchContent))

	if feed.FetchContent {
		schedID := engine.DeriveID(runID, "fetch-scheduler")
		tracker.StartRun(schedID, runID, "fetch-scheduler", feed.Title)
		fut := engine.Spawn(ctx, p.rt, "fetch-scheduler", schedID, func(ctx context.Context) (ingest.ScheduleResult, error) {
			return p.runFetchScheduler(ctx, tracker, schedID, feed, opts.Rules, entries)
		})
		sched, err := fut.Await(ctx)
		if err != nil {
			tracker.FailRun(schedID, failReason(err))
			return fail("schedule fetches", err)
		}
		res.ContentsFetched = sched.Fetched
		res.FetchFailed = sched.Failed
		res.EntriesSkipped = sched.Skipped
	} else {
		// The feed document itself carries the content, so the fetch stage
		// collapses to a state change.
		for _, entry := range entries {
			p.transition(tracker, runID, entry.ID, "fetch", progress.EntryFetched, "inline content")
		}
		if p.cfg.InlineDistill {
			for _, entry := range entries {
				ids := []string{entry.ID}
				distillID := engine.DeriveID(runID, "distill:"+entry.ID)
				tracker.StartRun(distillID, runID, "distillation", entry.Title)
				engine.SpawnDetached(ctx, p.rt, "distillation", distillID, func(ctx context.Context) (ingest.DistillationResult, error) {
					return p.runDistillation(ctx, tracker, distillID, ids, "inline")
				})
			}
		}
	}

	endRun(tracker, runID, fmt.Sprintf("%d created, %d fetched", res.EntriesCreated, res.ContentsFetched), nil)
	return res, nil
}

// updateCacheInfo stores the latest cache-validators and refresh stamp.
// Failures degrade the next crawl to a full fetch, so they only warn.
func (p *Pipeline) updateCacheInfo(ctx context.Context, logger *zap.Logger, feed ingest.Feed, crawl ingest.CrawlResult) {
	etag, lastModified := crawl.ETag, crawl.LastModified
	if etag == "" {
		etag = feed.ETag
	}
	if lastModified == "" {
		lastModified = feed.LastModified
	}
	if err := p.deps.Feeds.UpdateCacheInfo(ctx, feed.ID, etag, lastModified, p.clock.Now()); err != nil {
		logger.Warn("cache info update failed", zap.Error(err))
	}
}

// buildEntries turns crawled items into entry records. IDs derive from the
// feed ID and the item GUID, so the same item maps to the same entry across
// runs and the insert's conflict clause can drop revisits.
func buildEntries(feed ingest.Feed, items []ingest.FeedItem, now time.Time) []ingest.Entry {
	entries := make([]ingest.Entry, 0, len(items))
	for _, item := range items {
		guid := item.GUID
		if guid == "" {
			guid = item.URL
		}
		entries = append(entries, ingest.Entry{
			ID:        engine.DeriveID(feed.ID, guid),
			FeedID:    feed.ID,
			Title:     item.Title,
			URL:       item.URL,
			GUID:      guid,
			Media:     item.Media,
			Published: item.Published,
			Inline:    item.Inline,
			Thumbnail: item.Thumbnail,
			CreatedAt: now,
		})
	}
	return entries
}
