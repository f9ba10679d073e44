package embedding

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"modelgate/internal/models"
)

// Local runs an in-process embedding model, reconciling the model's native
// dimension to the configured target width so the downstream storage schema
// stays stable across model swaps.
type Local struct {
	cache     *Cache
	cacheDir  string
	targetDim int
	addPrefix bool
}

// NewLocal creates the local provider adapter.
func NewLocal(cache *Cache, cacheDir string, targetDim int, addPrefix bool) *Local {
	return &Local{
		cache:     cache,
		cacheDir:  cacheDir,
		targetDim: targetDim,
		addPrefix: addPrefix,
	}
}

// Embed loads (or reuses) the model and computes reconciled vectors.
// Inference is CPU-bound and runs on its own goroutine so a cancelled caller
// is released immediately.
func (l *Local) Embed(ctx context.Context, model string, texts []string, phase models.EmbeddingPhase) (*models.EmbeddingResult, error) {
	m, err := l.cache.Get(model, l.cacheDir)
	if err != nil {
		return nil, err
	}

	input := l.maybeAddPrefix(texts, phase)

	start := time.Now()
	done := make(chan [][]float32, 1)
	go func() {
		done <- m.Embed(input)
	}()

	var raw [][]float32
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case raw = <-done:
	}

	vectors := reconcile(raw, m.Dimension(), l.targetDim)

	logrus.WithFields(logrus.Fields{
		"model":       model,
		"phase":       phase,
		"batch":       len(texts),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("local embedding")

	// no tokenizer contract locally, token usage stays zero
	return &models.EmbeddingResult{
		Vectors: vectors,
		Model:   model,
	}, nil
}

func (l *Local) maybeAddPrefix(texts []string, phase models.EmbeddingPhase) []string {
	if !l.addPrefix {
		return texts
	}
	prefix := "passage: "
	if phase == models.PhaseQuery {
		prefix = "query: "
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = prefix + t
	}
	return out
}

// reconcile forces every vector to exactly target components: equal widths
// pass through, wider vectors lose their trailing components, narrower ones
// are right-padded with zeros.
func reconcile(raw [][]float32, native, target int) [][]float32 {
	if native == target {
		return raw
	}

	out := make([][]float32, len(raw))
	for i, v := range raw {
		if len(v) >= target {
			out[i] = v[:target]
			continue
		}
		padded := make([]float32, target)
		copy(padded, v)
		out[i] = padded
	}
	return out
}
