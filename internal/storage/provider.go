// Package storage selects a blob store implementation from configuration.
// Providers are independent of each other so deployments can run against
// Google Cloud Storage, the local filesystem, or an in-memory store.
package storage

import (
	"context"
	"fmt"

	"github.com/feedmill/feedmill/internal/config"
	"github.com/feedmill/feedmill/internal/ingest"
	"github.com/feedmill/feedmill/internal/storage/gcs"
	"github.com/feedmill/feedmill/internal/storage/local"
	"github.com/feedmill/feedmill/internal/storage/memory"
)

// NewBlobStore builds the blob store named by cfg.Provider. An empty provider
// falls back to the in-memory store, which keeps local development free of
// credentials.
func NewBlobStore(ctx context.Context, cfg config.BlobConfig) (ingest.BlobStore, error) {
	switch cfg.Provider {
	case "", "memory":
		return memory.NewBlobStore(), nil
	case "local":
		return local.New(cfg.LocalDir)
	case "gcs":
		return gcs.Connect(ctx, cfg.GCSBucket)
	default:
		return nil, fmt.Errorf("unknown blob provider %q", cfg.Provider)
	}
}
