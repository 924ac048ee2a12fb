package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/feedmill/feedmill/internal/ingest"
	"github.com/feedmill/feedmill/internal/metrics"
)

// fakeCrawler serves canned crawl results keyed by feed URL.
type fakeCrawler struct {
	mu      sync.Mutex
	results map[string]ingest.CrawlResult
	errs    map[string]error
	calls   []ingest.CrawlRequest
}

func newFakeCrawler() *fakeCrawler {
	return &fakeCrawler{
		results: make(map[string]ingest.CrawlResult),
		errs:    make(map[string]error),
	}
}

func (c *fakeCrawler) set(url string, result ingest.CrawlResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[url] = result
}

func (c *fakeCrawler) fail(url string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[url] = err
}

func (c *fakeCrawler) Crawl(_ context.Context, req ingest.CrawlRequest) (ingest.CrawlResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	if err := c.errs[req.URL]; err != nil {
		return ingest.CrawlResult{}, err
	}
	res, ok := c.results[req.URL]
	if !ok {
		return ingest.CrawlResult{}, fmt.Errorf("no canned crawl result for %s", req.URL)
	}
	if req.Limit > 0 && len(res.Items) > req.Limit {
		res.Items = res.Items[:req.Limit]
	}
	return res, nil
}

func (c *fakeCrawler) requests() []ingest.CrawlRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ingest.CrawlRequest, len(c.calls))
	copy(out, c.calls)
	return out
}

// fakeFetcher serves synthetic documents with optional scripted failures and
// latency. It records per-host fetch order and concurrency so tests can prove
// hosts run in parallel while each host stays sequential.
type fakeFetcher struct {
	mu        sync.Mutex
	latency   time.Duration
	failures  map[string]int
	attempts  map[string]int
	order     map[string][]string
	active    map[string]int
	inFlight  int
	globalMax int
	hostMax   map[string]int
}

func newFakeFetcher(latency time.Duration) *fakeFetcher {
	return &fakeFetcher{
		latency:  latency,
		failures: make(map[string]int),
		attempts: make(map[string]int),
		order:    make(map[string][]string),
		active:   make(map[string]int),
		hostMax:  make(map[string]int),
	}
}

// failTimes makes the next n fetches of url fail before it succeeds.
func (f *fakeFetcher) failTimes(url string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[url] = n
}

func (f *fakeFetcher) FetchContent(ctx context.Context, req ingest.ContentRequest) (ingest.ContentResult, error) {
	host := metrics.SanitizeHost(req.URL)

	f.mu.Lock()
	f.attempts[req.URL]++
	f.order[host] = append(f.order[host], req.URL)
	f.active[host]++
	f.inFlight++
	if f.active[host] > f.hostMax[host] {
		f.hostMax[host] = f.active[host]
	}
	if f.inFlight > f.globalMax {
		f.globalMax = f.inFlight
	}
	failing := f.failures[req.URL] > 0
	if failing {
		f.failures[req.URL]--
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active[host]--
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return ingest.ContentResult{}, ctx.Err()
		}
	}

	if failing {
		return ingest.ContentResult{StatusCode: 503}, fmt.Errorf("fetch %s: status 503", req.URL)
	}
	return ingest.ContentResult{
		Content:    "extracted content of " + req.URL,
		Raw:        []byte("<html>" + req.URL + "</html>"),
		StatusCode: 200,
		Duration:   f.latency,
	}, nil
}

func (f *fakeFetcher) attemptsFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[url]
}

func (f *fakeFetcher) totalAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.attempts {
		total += n
	}
	return total
}

func (f *fakeFetcher) maxGlobal() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.globalMax
}

func (f *fakeFetcher) maxForHost(host string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hostMax[host]
}

func (f *fakeFetcher) fetchedOrder(host string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.order[host]))
	copy(out, f.order[host])
	return out
}

// fakeDistiller summarizes every input unless told to filter it out. A gate
// channel, when set, holds every call open until the channel closes.
type fakeDistiller struct {
	mu       sync.Mutex
	batches  [][]string
	filtered map[string]bool
	err      error
	gate     chan struct{}
}

func newFakeDistiller() *fakeDistiller {
	return &fakeDistiller{filtered: make(map[string]bool)}
}

func (d *fakeDistiller) filterOut(entryID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filtered[entryID] = true
}

func (d *fakeDistiller) Distill(ctx context.Context, inputs []ingest.DistillInput) ([]ingest.DistillOutput, error) {
	d.mu.Lock()
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.EntryID)
	}
	d.batches = append(d.batches, ids)
	gate := d.gate
	err := d.err
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	outs := make([]ingest.DistillOutput, 0, len(inputs))
	for _, in := range inputs {
		out := ingest.DistillOutput{EntryID: in.EntryID}
		d.mu.Lock()
		filtered := d.filtered[in.EntryID]
		d.mu.Unlock()
		if !filtered {
			out.Summary = "summary of " + in.EntryID
			out.FilteredContent = in.Content
		}
		outs = append(outs, out)
	}
	return outs, nil
}

func (d *fakeDistiller) batchSizes() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	sizes := make([]int, 0, len(d.batches))
	for _, b := range d.batches {
		sizes = append(sizes, len(b))
	}
	return sizes
}

func (d *fakeDistiller) batchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.batches)
}

func (d *fakeDistiller) distilledIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for _, b := range d.batches {
		ids = append(ids, b...)
	}
	return ids
}

// fakeEmbedder counts embedding requests.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (e *fakeEmbedder) ComputeEmbeddings(_ context.Context, entryIDs []string) (ingest.EmbedCounts, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return ingest.EmbedCounts{}, e.err
	}
	ids := make([]string, len(entryIDs))
	copy(ids, entryIDs)
	e.calls = append(e.calls, ids)
	return ingest.EmbedCounts{Computed: len(entryIDs)}, nil
}

func (e *fakeEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// fakeIndexer counts indexed documents.
type fakeIndexer struct {
	mu   sync.Mutex
	docs int
	err  error
}

func (i *fakeIndexer) IndexEntries(_ context.Context, docs []ingest.DistillOutput) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	i.docs += len(docs)
	return nil
}

func (i *fakeIndexer) indexed() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.docs
}

// fakeGraph counts graph writes.
type fakeGraph struct {
	mu   sync.Mutex
	docs int
}

func (g *fakeGraph) AddToGraph(_ context.Context, docs []ingest.DistillOutput) (ingest.GraphStats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.docs += len(docs)
	return ingest.GraphStats{Succeeded: len(docs)}, nil
}

// fakeEvaluator records evaluation requests.
type fakeEvaluator struct {
	mu    sync.Mutex
	calls []evalCall
}

type evalCall struct {
	entryID string
	traceID string
}

func (e *fakeEvaluator) Evaluate(_ context.Context, entryID, traceID string) (ingest.EvalScores, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, evalCall{entryID: entryID, traceID: traceID})
	return ingest.EvalScores{EntryID: entryID, TraceID: traceID, Scores: map[string]float64{"relevance": 0.9}}, nil
}

func (e *fakeEvaluator) evaluated() []evalCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]evalCall, len(e.calls))
	copy(out, e.calls)
	return out
}
