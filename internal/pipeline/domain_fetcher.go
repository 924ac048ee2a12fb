package pipeline

import (
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/engine"
	"github.com/feedmill/feedmill/internal/ingest"
	"github.com/feedmill/feedmill/internal/metrics"
	"github.com/feedmill/feedmill/internal/progress"
)

// runDomainFetch is the body of one host's fetch run. Entries are fetched
// strictly in order with the per-host delay before every request after the
// first; hosts never share a rate budget. One entry's failure is recorded
// and the loop moves on, so a single dead URL cannot starve its host.
//
// The loop runs under a single watchdog-guarded attempt: a beat is recorded
// every few entries, and prolonged silence cancels the whole host run. Saved
// content from a run that dies mid-loop is picked up by a later sweep.
func (p *Pipeline) runDomainFetch(ctx context.Context, tracker *progress.Tracker, runID, feedID string, group domainGroup, rules ingest.ExtractionRules) (ingest.DomainResult, error) {
	res := ingest.DomainResult{Domain: group.Host}

	_, err := engine.InvokeTask(ctx, p.rt, "domain-fetch", engine.TaskOptions{
		Retry:            engine.RetryPolicy{MaxAttempts: 1},
		HeartbeatTimeout: p.cfg.HeartbeatTimeout,
	}, func(ctx context.Context) (struct{}, error) {
		for i, entry := range group.Entries {
			if err := p.limiter.Wait(ctx, group.Host); err != nil {
				return struct{}{}, err
			}
			p.fetchEntry(ctx, tracker, runID, feedID, entry, rules, &res)
			if (i+1)%p.cfg.HeartbeatEvery == 0 {
				engine.Beat(ctx)
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		endRun(tracker, runID, "", err)
		return res, fmt.Errorf("fetch host %s: %w", group.Host, err)
	}

	endRun(tracker, runID, fmt.Sprintf("%d fetched, %d failed", res.Fetched, res.Failed), nil)
	return res, nil
}

// fetchEntry retrieves one entry's document, archives the raw bytes, and
// persists the extracted content. The fetch, archive, and save steps form
// one retryable unit so a partial failure reruns from the fetch.
func (p *Pipeline) fetchEntry(ctx context.Context, tracker *progress.Tracker, runID, feedID string, entry ingest.Entry, rules ingest.ExtractionRules, res *ingest.DomainResult) {
	p.transition(tracker, runID, entry.ID, "fetch", progress.EntryFetching, "")

	doc, err := engine.InvokeTask(ctx, p.rt, "fetch-content", p.taskOpts(), func(ctx context.Context) (ingest.ContentResult, error) {
		doc, err := p.deps.Fetcher.FetchContent(ctx, ingest.ContentRequest{URL: entry.URL, Rules: rules})
		if err != nil {
			return doc, err
		}
		rawURI := ""
		if len(doc.Raw) > 0 {
			rawURI, err = p.deps.Blobs.PutObject(ctx, blobPath(p.cfg.BlobPrefix, feedID, entry.ID), p.cfg.BlobContentType, doc.Raw)
			if err != nil {
				return doc, fmt.Errorf("archive raw document: %w", err)
			}
		}
		if err := p.deps.Entries.SaveContent(ctx, entry.ID, doc.Content, rawURI); err != nil {
			return doc, fmt.Errorf("save content: %w", err)
		}
		return doc, nil
	})
	if err != nil {
		res.Failed++
		metrics.ObserveFetch(entry.URL, "error", 0, 0)
		p.transition(tracker, runID, entry.ID, "fetch", progress.EntryError, failReason(err))
		p.logger.Warn("content fetch failed",
			zap.String("entry_id", entry.ID),
			zap.String("url", entry.URL),
			zap.Error(err))
		return
	}

	res.Fetched++
	res.FetchedIDs = append(res.FetchedIDs, entry.ID)
	metrics.ObserveFetch(entry.URL, "ok", len(doc.Raw), doc.Duration)
	p.transition(tracker, runID, entry.ID, "fetch", progress.EntryFetched, "")
	if doc.Title != "" && doc.Title != entry.Title {
		p.logger.Debug("extracted title differs from feed title",
			zap.String("entry_id", entry.ID),
			zap.String("extracted_title", doc.Title))
	}
}

func blobPath(prefix, feedID, entryID string) string {
	return path.Join(prefix, feedID, entryID+".html")
}
