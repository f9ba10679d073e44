// Package gateway holds the two entry points of the system: completion and
// embedding. Both accept normalized inputs and dispatch to provider adapters.
package gateway

import (
	"context"
	"fmt"

	"modelgate/internal/models"
	"modelgate/internal/provider"
)

// Completion dispatches normalized completion requests to exactly one
// provider adapter and returns the normalized result. Upstream failures are
// propagated; this layer never retries.
type Completion struct {
	registry        *provider.Registry
	defaultProvider string
}

// NewCompletion constructs the completion gateway.
func NewCompletion(registry *provider.Registry, defaultProvider string) *Completion {
	return &Completion{
		registry:        registry,
		defaultProvider: defaultProvider,
	}
}

// Complete validates, dispatches, and normalizes one completion call.
// providerName may be empty to use the configured default.
func (g *Completion) Complete(ctx context.Context, providerName string, req models.CompletionRequest) (*models.CompletionResult, error) {
	name := providerName
	if name == "" {
		name = g.defaultProvider
	}

	// reject before any network call
	if len(req.AssembleMessages()) == 0 {
		return nil, provider.ErrNoMessages
	}

	adapter, err := g.registry.Adapter(name)
	if err != nil {
		return nil, err
	}

	res, err := adapter.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("provider %s completion: %w", adapter.Name(), err)
	}
	return res, nil
}
