// Package gofeedcrawler implements FeedCrawler using gofeed over a pooled
// HTTP transport with conditional requests.
package gofeedcrawler

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/ingest"
)

// Config controls feed retrieval behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Crawler retrieves feed documents and parses them into items.
type Crawler struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Crawler.
func New(cfg Config, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Crawler{
		cfg: cfg,
		client: &http.Client{
			Timeout:   timeout,
			Transport: newHTTPTransport(),
		},
		logger: logger,
	}
}

// Crawl retrieves the feed document. When the server confirms the cached
// validators with a 304, the result carries NotModified and no items.
func (c *Crawler) Crawl(ctx context.Context, req ingest.CrawlRequest) (ingest.CrawlResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return ingest.CrawlResult{}, fmt.Errorf("build feed request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if req.ETag != "" {
		httpReq.Header.Set("If-None-Match", req.ETag)
	}
	if req.LastModified != "" {
		httpReq.Header.Set("If-Modified-Since", req.LastModified)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return ingest.CrawlResult{}, fmt.Errorf("fetch feed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotModified {
		c.logger.Debug("feed not modified", zap.String("url", req.URL))
		return ingest.CrawlResult{NotModified: true, ETag: req.ETag, LastModified: req.LastModified}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return ingest.CrawlResult{}, fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if c.cfg.MaxBodyBytes > 0 {
		body = io.LimitReader(resp.Body, c.cfg.MaxBodyBytes)
	}
	feed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return ingest.CrawlResult{}, fmt.Errorf("parse feed: %w", err)
	}

	result := ingest.CrawlResult{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	for _, item := range feed.Items {
		if req.Limit > 0 && len(result.Items) >= req.Limit {
			break
		}
		mapped, ok := mapItem(item)
		if !ok {
			continue
		}
		result.Items = append(result.Items, mapped)
	}
	return result, nil
}

// mapItem converts one parsed item, skipping items without a usable link.
func mapItem(item *gofeed.Item) (ingest.FeedItem, bool) {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		return ingest.FeedItem{}, false
	}
	out := ingest.FeedItem{
		Title:     strings.TrimSpace(item.Title),
		URL:       link,
		GUID:      strings.TrimSpace(item.GUID),
		Media:     classify(item),
		Inline:    inlineContent(item),
		Thumbnail: thumbnail(item),
	}
	if item.PublishedParsed != nil {
		out.Published = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		out.Published = item.UpdatedParsed.UTC()
	}
	if out.GUID == "" {
		out.GUID = link
	}
	return out, true
}

func classify(item *gofeed.Item) ingest.MediaKind {
	for _, enc := range item.Enclosures {
		switch {
		case strings.HasPrefix(enc.Type, "audio/"):
			return ingest.MediaAudio
		case strings.HasPrefix(enc.Type, "video/"):
			return ingest.MediaVideo
		}
	}
	if item.ITunesExt != nil {
		return ingest.MediaAudio
	}
	return ingest.MediaArticle
}

func inlineContent(item *gofeed.Item) string {
	if c := strings.TrimSpace(item.Content); c != "" {
		return c
	}
	return strings.TrimSpace(item.Description)
}

func thumbnail(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
