package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/engine"
	"github.com/feedmill/feedmill/internal/ingest"
	"github.com/feedmill/feedmill/internal/pipeline"
	"github.com/feedmill/feedmill/internal/progress"
	"github.com/feedmill/feedmill/internal/storage/memory"
)

type stubCrawler struct {
	items []ingest.FeedItem
	err   error
}

func (c stubCrawler) Crawl(_ context.Context, req ingest.CrawlRequest) (ingest.CrawlResult, error) {
	if c.err != nil {
		return ingest.CrawlResult{}, c.err
	}
	items := c.items
	if req.Limit > 0 && len(items) > req.Limit {
		items = items[:req.Limit]
	}
	return ingest.CrawlResult{Items: items, ETag: `"stub-etag"`}, nil
}

type stubFetcher struct{}

func (stubFetcher) FetchContent(_ context.Context, req ingest.ContentRequest) (ingest.ContentResult, error) {
	return ingest.ContentResult{
		Content:    "body of " + req.URL,
		Raw:        []byte("<html>" + req.URL + "</html>"),
		StatusCode: http.StatusOK,
	}, nil
}

type stubDistiller struct{}

func (stubDistiller) Distill(_ context.Context, inputs []ingest.DistillInput) ([]ingest.DistillOutput, error) {
	out := make([]ingest.DistillOutput, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, ingest.DistillOutput{
			EntryID:         in.EntryID,
			Summary:         "summary of " + in.EntryID,
			FilteredContent: in.Content,
		})
	}
	return out, nil
}

func articleItems(n int) []ingest.FeedItem {
	items := make([]ingest.FeedItem, 0, n)
	for i := 1; i <= n; i++ {
		url := fmt.Sprintf("https://example.com/post-%d", i)
		items = append(items, ingest.FeedItem{
			Title: fmt.Sprintf("Post %d", i),
			URL:   url,
			GUID:  url,
			Media: ingest.MediaArticle,
		})
	}
	return items
}

type apiHarness struct {
	feeds   *memory.FeedStore
	entries *memory.EntryStore
	rt      *engine.Runtime
	pipe    *pipeline.Pipeline
	server  *Server
}

func newHarness(t *testing.T, opts ...Option) *apiHarness {
	t.Helper()
	h := &apiHarness{
		feeds:   memory.NewFeedStore(),
		entries: memory.NewEntryStore(),
		rt:      engine.New(engine.Options{}),
	}
	pipe, err := pipeline.New(pipeline.Config{BatchSize: 5}, pipeline.Deps{
		Feeds:     h.feeds,
		Crawler:   stubCrawler{items: articleItems(2)},
		Fetcher:   stubFetcher{},
		Entries:   h.entries,
		Blobs:     memory.NewBlobStore(),
		Distiller: stubDistiller{},
		Runtime:   h.rt,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	h.pipe = pipe
	h.server = NewServer(pipe, zap.NewNop(), opts...)
	t.Cleanup(h.rt.WaitDetached)
	return h
}

func (h *apiHarness) seedFeed(id string) {
	h.feeds.AddFeed(ingest.Feed{
		ID:           id,
		Title:        "Feed " + id,
		URL:          "https://feeds.example.com/" + id + ".xml",
		FetchContent: true,
		Active:       true,
	}, ingest.FeedOptions{})
}

func (h *apiHarness) do(t *testing.T, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthzAndReadyz(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	decodeBody(t, rec, &body)
	require.Equal(t, "ok", body["status"])
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = h.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &body)
	require.Equal(t, "ready", body["status"])
}

func TestReadyzReportsFailingCheck(t *testing.T) {
	t.Parallel()
	h := newHarness(t, WithReadyCheck(func(context.Context) error {
		return errors.New("store unreachable")
	}))

	rec := h.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	decodeBody(t, rec, &body)
	require.Equal(t, "not ready", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "# HELP")
}

func TestLaunchRunModes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		target   string
		body     string
		wantCode int
		wantMode string
	}{
		{name: "defaults to pipeline", target: "/v1/runs", wantCode: http.StatusAccepted, wantMode: "pipeline"},
		{name: "pipeline in body", target: "/v1/runs", body: `{"mode":"pipeline"}`, wantCode: http.StatusAccepted, wantMode: "pipeline"},
		{name: "sweep in body", target: "/v1/runs", body: `{"mode":"sweep"}`, wantCode: http.StatusAccepted, wantMode: "sweep"},
		{name: "sweep in query", target: "/v1/runs?mode=sweep", wantCode: http.StatusAccepted, wantMode: "sweep"},
		{name: "body overrides query", target: "/v1/runs?mode=pipeline", body: `{"mode":"sweep"}`, wantCode: http.StatusAccepted, wantMode: "sweep"},
		{name: "unknown mode", target: "/v1/runs?mode=replay", wantCode: http.StatusBadRequest},
		{name: "malformed body", target: "/v1/runs", body: `{"mode":`, wantCode: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			var body io.Reader
			if tc.body != "" {
				body = strings.NewReader(tc.body)
			}
			rec := h.do(t, http.MethodPost, tc.target, body)
			require.Equal(t, tc.wantCode, rec.Code)

			var resp map[string]string
			decodeBody(t, rec, &resp)
			if tc.wantCode == http.StatusAccepted {
				require.Equal(t, tc.wantMode, resp["mode"])
				_, err := uuid.Parse(resp["run_id"])
				require.NoError(t, err)
			} else {
				require.NotEmpty(t, resp["error"])
			}
		})
	}
}

func TestLaunchRunCompletesInBackground(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seedFeed("feed-1")

	rec := h.do(t, http.MethodPost, "/v1/runs", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)
	runID := resp["run_id"]

	require.Eventually(t, func() bool {
		tracker, ok := h.pipe.Registry().Get(runID)
		return ok && tracker.Snapshot().Status == progress.RunCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGetRunReturnsTree(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seedFeed("feed-1")
	res, err := h.pipe.Run(context.Background())
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/v1/runs/"+res.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Run progress.Snapshot `json:"run"`
	}
	decodeBody(t, rec, &body)
	require.Equal(t, res.RunID, body.Run.RootRunID)
	require.Equal(t, progress.RunCompleted, body.Run.Status)
	require.NotEmpty(t, body.Run.Runs)
	require.Len(t, body.Run.Entries, 2)
}

func TestGetRunRejectsBadIDs(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/v1/runs/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	decodeBody(t, rec, &body)
	require.Equal(t, "invalid run_id", body["error"])

	rec = h.do(t, http.MethodGet, "/v1/runs/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	decodeBody(t, rec, &body)
	require.Equal(t, "run not found", body["error"])
}

func TestListRunsFiltersAndPages(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seedFeed("feed-1")
	ctx := context.Background()

	first, err := h.pipe.Run(ctx)
	require.NoError(t, err)
	second, err := h.pipe.Run(ctx)
	require.NoError(t, err)
	h.rt.WaitDetached()

	type listResponse struct {
		Runs  []runSummaryDTO `json:"runs"`
		Total int             `json:"total"`
	}

	rec := h.do(t, http.MethodGet, "/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body listResponse
	decodeBody(t, rec, &body)
	require.Equal(t, 2, body.Total)
	require.Len(t, body.Runs, 2)
	require.Equal(t, second.RunID, body.Runs[0].RunID)
	require.Equal(t, first.RunID, body.Runs[1].RunID)
	require.Equal(t, "completed", body.Runs[0].Status)
	require.NotZero(t, body.Runs[0].Entries)

	rec = h.do(t, http.MethodGet, "/v1/runs?limit=1", nil)
	decodeBody(t, rec, &body)
	require.Equal(t, 2, body.Total)
	require.Len(t, body.Runs, 1)
	require.Equal(t, second.RunID, body.Runs[0].RunID)

	rec = h.do(t, http.MethodGet, "/v1/runs?limit=1&offset=5", nil)
	decodeBody(t, rec, &body)
	require.Equal(t, 2, body.Total)
	require.Empty(t, body.Runs)

	rec = h.do(t, http.MethodGet, "/v1/runs?status=completed", nil)
	decodeBody(t, rec, &body)
	require.Equal(t, 2, body.Total)

	rec = h.do(t, http.MethodGet, "/v1/runs?status=running", nil)
	decodeBody(t, rec, &body)
	require.Zero(t, body.Total)
	require.Empty(t, body.Runs)
}

func TestListRunsRejectsBadParams(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	cases := []struct {
		name   string
		target string
	}{
		{name: "non-numeric limit", target: "/v1/runs?limit=abc"},
		{name: "zero limit", target: "/v1/runs?limit=0"},
		{name: "negative offset", target: "/v1/runs?offset=-1"},
		{name: "unknown status", target: "/v1/runs?status=paused"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, http.MethodGet, tc.target, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListRunEntriesFiltersAndPages(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seedFeed("feed-1")

	res, err := h.pipe.Run(context.Background())
	require.NoError(t, err)
	h.rt.WaitDetached()

	type entriesResponse struct {
		Entries []progress.EntryTask `json:"entries"`
		Total   int                  `json:"total"`
	}

	rec := h.do(t, http.MethodGet, "/v1/runs/"+res.RunID+"/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body entriesResponse
	decodeBody(t, rec, &body)
	require.Equal(t, 2, body.Total)
	for _, entry := range body.Entries {
		require.Equal(t, progress.EntryCompleted, entry.State)
	}

	rec = h.do(t, http.MethodGet, "/v1/runs/"+res.RunID+"/entries?state=completed", nil)
	decodeBody(t, rec, &body)
	require.Equal(t, 2, body.Total)

	rec = h.do(t, http.MethodGet, "/v1/runs/"+res.RunID+"/entries?state=error", nil)
	decodeBody(t, rec, &body)
	require.Zero(t, body.Total)
	require.Empty(t, body.Entries)

	rec = h.do(t, http.MethodGet, "/v1/runs/"+res.RunID+"/entries?limit=1&offset=1", nil)
	decodeBody(t, rec, &body)
	require.Equal(t, 2, body.Total)
	require.Len(t, body.Entries, 1)

	rec = h.do(t, http.MethodGet, "/v1/runs/"+res.RunID+"/entries?state=stalled", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/runs/"+uuid.NewString()+"/entries", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSweepModeDistillsBacklog(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.entries.InsertEntries(context.Background(), []ingest.Entry{
		{ID: "e1", FeedID: "feed-1", Title: "One", URL: "https://example.com/1", Content: "stored body"},
	})
	require.NoError(t, err)

	rec := h.do(t, http.MethodPost, "/v1/runs?mode=sweep", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)

	require.Eventually(t, func() bool {
		tracker, ok := h.pipe.Registry().Get(resp["run_id"])
		return ok && tracker.Snapshot().Status == progress.RunCompleted
	}, 5*time.Second, 10*time.Millisecond)

	entry, ok := h.entries.Entry("e1")
	require.True(t, ok)
	require.NotNil(t, entry.DistilledAt)
	require.Equal(t, "summary of e1", entry.Summary)
}
