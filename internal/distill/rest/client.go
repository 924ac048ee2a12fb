// Package rest implements HTTP/JSON clients for the downstream content
// services: distiller, embedder, evaluator, search indexer, and graph writer.
// The services are private HTTP APIs with no published SDK, so each client is
// a thin wrapper over one shared JSON caller.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/feedmill/feedmill/internal/engine"
)

const defaultTimeout = 60 * time.Second

// Config carries the connection settings shared by every service client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// caller posts JSON requests and decodes JSON responses against one base URL.
type caller struct {
	base   string
	client *http.Client
	logger *zap.Logger
}

func newCaller(cfg Config) (*caller, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &caller{
		base:   strings.TrimSuffix(cfg.BaseURL, "/"),
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// postJSON sends in to path and decodes the response into out when out is
// non-nil. Responses in the 4xx range (except 429) are marked fatal so task
// retries skip them; 5xx and transport failures stay retryable.
func (c *caller) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return engine.Fatal(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return engine.Fatal(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("service call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return engine.Fatal(err)
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
