package rest

import (
	"context"
	"fmt"

	"github.com/feedmill/feedmill/internal/ingest"
)

// Distiller filters and summarizes entry batches via the distillation
// service.
type Distiller struct {
	c *caller
}

// NewDistiller builds a client against the distillation service.
func NewDistiller(cfg Config) (*Distiller, error) {
	c, err := newCaller(cfg)
	if err != nil {
		return nil, fmt.Errorf("distiller: %w", err)
	}
	return &Distiller{c: c}, nil
}

type distillRequest struct {
	Entries []ingest.DistillInput `json:"entries"`
}

type distillResponse struct {
	Results []ingest.DistillOutput `json:"results"`
}

// Distill submits the batch and returns one output per surviving entry. An
// entry filtered out by the service comes back with an empty summary.
func (d *Distiller) Distill(ctx context.Context, inputs []ingest.DistillInput) ([]ingest.DistillOutput, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	var resp distillResponse
	if err := d.c.postJSON(ctx, "/v1/distill", distillRequest{Entries: inputs}, &resp); err != nil {
		return nil, fmt.Errorf("distill %d entries: %w", len(inputs), err)
	}
	return resp.Results, nil
}
