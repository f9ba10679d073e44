package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"modelgate/internal/config"
	"modelgate/internal/embedding"
	"modelgate/internal/models"
	"modelgate/internal/result"
)

const (
	// ProviderRemote is the remote embedding API backend.
	ProviderRemote = "openai"
	// ProviderLocal is the in-process model backend.
	ProviderLocal = "local"

	// DefaultLocalModel is substituted when the local fallback engages and the
	// caller did not name a local-style model id.
	DefaultLocalModel = "BAAI/bge-small-en-v1.5"

	sanityCheckText = "Hello, world!"
)

// ErrDimensionMismatch is returned by SanityCheck when the configured target
// dimension does not match what the gateway produces. Fatal: the gateway must
// not serve traffic in that state.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedding selects an effective provider for each batch, dispatches to its
// adapter, and wraps the outcome in a Result. Errors never escape this
// boundary.
type Embedding struct {
	cfg      config.EmbeddingConfig
	llmKey   string
	adapters map[string]embedding.Embedder
}

// NewEmbedding constructs the embedding gateway over the two adapters.
func NewEmbedding(cfg config.Config, remote, local embedding.Embedder) *Embedding {
	return &Embedding{
		cfg:    cfg.Embedding,
		llmKey: cfg.LLM.APIKey,
		adapters: map[string]embedding.Embedder{
			ProviderRemote: remote,
			ProviderLocal:  local,
		},
	}
}

// Embed produces aligned vectors for the batch. providerName and model may be
// empty to use configuration. Provider substitution is re-evaluated on every
// call, never cached.
func (g *Embedding) Embed(ctx context.Context, texts []string, phase models.EmbeddingPhase, providerName, model string) result.Result[models.EmbeddingResult] {
	if phase == "" {
		phase = models.PhaseDocument
	}

	requestedProvider := providerName
	if requestedProvider == "" {
		requestedProvider = g.cfg.Provider
	}
	requestedModel := model
	if requestedModel == "" {
		requestedModel = g.cfg.Model
	}

	effectiveProvider, effectiveModel := g.resolveEffective(requestedProvider, requestedModel, model)

	adapter, ok := g.adapters[effectiveProvider]
	if !ok || adapter == nil {
		return result.Reject[models.EmbeddingResult](fmt.Sprintf("unsupported embedding provider: %s", effectiveProvider))
	}

	res, err := adapter.Embed(ctx, effectiveModel, texts, phase)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"provider": effectiveProvider,
			"model":    effectiveModel,
		}).WithError(err).Error("embedding failed")
		return result.Reject[models.EmbeddingResult](fmt.Sprintf("embedding failed (%s/%s): %v", effectiveProvider, effectiveModel, err))
	}

	out := *res
	out.Provider = effectiveProvider
	out.Model = effectiveModel
	return result.Resolve(out)
}

// resolveEffective applies the no-key fallback: when the remote provider is
// requested but neither a dedicated embedding key nor the general LLM key is
// configured, embeddings would fail, so the local backend is substituted. The
// default local model steps in unless the caller explicitly named a
// local-style (namespaced) model id.
func (g *Embedding) resolveEffective(requestedProvider, requestedModel, explicitModel string) (string, string) {
	if requestedProvider != ProviderRemote {
		return requestedProvider, requestedModel
	}

	hasKey := strings.TrimSpace(g.cfg.APIKey) != "" || strings.TrimSpace(g.llmKey) != ""
	if hasKey {
		return requestedProvider, requestedModel
	}

	effectiveModel := requestedModel
	if explicitModel == "" || !strings.Contains(explicitModel, "/") {
		effectiveModel = DefaultLocalModel
	}

	logrus.WithFields(logrus.Fields{
		"requested_model": requestedModel,
		"effective_model": effectiveModel,
	}).Info("no embedding API key configured for the remote provider; falling back to local embeddings")

	return ProviderLocal, effectiveModel
}

// SanityCheck embeds one fixed sentence and verifies the output width. Run
// once at startup, before the gateway is advertised as ready; a failure here
// is not recoverable.
func (g *Embedding) SanityCheck(ctx context.Context) error {
	r := g.Embed(ctx, []string{sanityCheckText}, models.PhaseDocument, "", "")
	if !r.OK() {
		return fmt.Errorf("embedding sanity check failed: %s", r.Message())
	}

	vectors := r.Data().Vectors
	if len(vectors) != 1 {
		return fmt.Errorf("embedding sanity check returned %d vectors", len(vectors))
	}
	if got := len(vectors[0]); got != g.cfg.Dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, g.cfg.Dim, got)
	}

	logrus.WithField("dim", g.cfg.Dim).Info("embedding dimension matches configuration")
	return nil
}
