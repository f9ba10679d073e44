// Package provider defines the adapter contract for completion upstreams and
// the registry that caches one long-lived client handle per provider family.
package provider

import (
	"context"
	"errors"

	"modelgate/internal/models"
)

// ErrUnknownProvider indicates the requested provider family is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrNoMessages indicates the assembled message list was empty. Rejected
// before any network call.
var ErrNoMessages = errors.New("no messages provided")

// ErrUpstreamTransport wraps network and timeout failures talking to an
// upstream. Surfaced to the caller; this layer never retries.
var ErrUpstreamTransport = errors.New("upstream transport error")

// ErrUpstreamProtocol wraps malformed or unexpected upstream responses,
// including non-success HTTP statuses.
var ErrUpstreamProtocol = errors.New("upstream protocol error")

// Adapter sends a normalized completion request to one provider family and
// returns the normalized result.
type Adapter interface {
	Name() string
	Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResult, error)
}
