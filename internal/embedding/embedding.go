// Package embedding implements the embedding provider adapters: a remote API
// backend and a local in-process model with a construction cache.
package embedding

import (
	"context"

	"modelgate/internal/models"
)

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, model string, texts []string, phase models.EmbeddingPhase) (*models.EmbeddingResult, error)
}
