// Package collyfetch implements ContentFetcher using gocolly with
// goquery-based content extraction.
package collyfetch

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/ingest"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Fetcher retrieves entry documents and extracts their readable content.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Revisits stay allowed: retried fetches hit the same URL and clones
	// share the visit store.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		logger:        logger,
	}
}

// FetchContent executes a single HTTP GET and extracts content according to
// the request's rules.
func (f *Fetcher) FetchContent(ctx context.Context, req ingest.ContentRequest) (ingest.ContentResult, error) {
	var (
		status   int
		body     []byte
		fetchErr error
	)
	start := time.Now()

	collector := f.buildCollector(&status, &body, &fetchErr)
	if err := f.runCollector(ctx, collector, req.URL, &fetchErr); err != nil {
		return ingest.ContentResult{StatusCode: status, Duration: time.Since(start)}, err
	}

	content, title, thumbnail, err := extract(body, req.Rules)
	if err != nil {
		return ingest.ContentResult{StatusCode: status, Duration: time.Since(start)}, err
	}
	if content == "" {
		return ingest.ContentResult{StatusCode: status, Duration: time.Since(start)},
			fmt.Errorf("no content extracted from %s", req.URL)
	}

	return ingest.ContentResult{
		Content:    content,
		Title:      title,
		Raw:        body,
		Thumbnail:  thumbnail,
		StatusCode: status,
		Duration:   time.Since(start),
	}, nil
}

func (f *Fetcher) buildCollector(status *int, body *[]byte, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	if f.cfg.MaxBodyBytes > 0 {
		collector.MaxBodySize = int(f.cfg.MaxBodyBytes)
	}
	collector.WithTransport(f.transport)

	collector.OnResponse(func(r *colly.Response) {
		*status = r.StatusCode
		*body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("content fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("content visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("content response failed: %w", *fetchErr)
		}
		return nil
	}
}

// extract pulls readable text out of the document. Excluded selectors are
// removed first; when the body selector matches nothing the common article
// containers are tried in order.
func extract(body []byte, rules ingest.ExtractionRules) (content, title, thumbnail string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", "", fmt.Errorf("parse document: %w", err)
	}

	for _, sel := range rules.ExcludeSelectors {
		doc.Find(sel).Remove()
	}

	if rules.TitleSelector != "" {
		title = strings.TrimSpace(doc.Find(rules.TitleSelector).First().Text())
	}
	thumbnail, _ = doc.Find(`meta[property="og:image"]`).Attr("content")

	if rules.BodySelector != "" {
		content = collectText(doc.Find(rules.BodySelector))
	}
	if content == "" {
		for _, candidate := range []string{"article", "main", "body"} {
			if content = collectText(doc.Find(candidate)); content != "" {
				break
			}
		}
	}
	return content, title, thumbnail, nil
}

func collectText(sel *goquery.Selection) string {
	var parts []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return normalizeWhitespace(strings.Join(parts, "\n"))
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
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
