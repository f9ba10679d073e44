package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgate/internal/models"
	"modelgate/internal/provider"
)

type stubAdapter struct {
	name     string
	lastReq  models.CompletionRequest
	result   *models.CompletionResult
	err      error
	complete int
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResult, error) {
	s.complete++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newStubRegistry(adapters ...*stubAdapter) *provider.Registry {
	r := provider.NewRegistry()
	for _, a := range adapters {
		a := a
		r.Register(a.name, func() (provider.Adapter, error) { return a, nil })
	}
	return r
}

func TestCompleteUsesDefaultProvider(t *testing.T) {
	stub := &stubAdapter{name: "openai", result: &models.CompletionResult{Role: "assistant", Text: "hi"}}
	g := NewCompletion(newStubRegistry(stub), "openai")

	res, err := g.Complete(context.Background(), "", models.CompletionRequest{UserPrompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Text)
	assert.Equal(t, 1, stub.complete)
}

func TestCompleteExplicitProviderWins(t *testing.T) {
	def := &stubAdapter{name: "openai", result: &models.CompletionResult{Text: "from openai"}}
	alt := &stubAdapter{name: "anthropic", result: &models.CompletionResult{Text: "from anthropic"}}
	g := NewCompletion(newStubRegistry(def, alt), "openai")

	res, err := g.Complete(context.Background(), "anthropic", models.CompletionRequest{UserPrompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "from anthropic", res.Text)
	assert.Zero(t, def.complete)
}

func TestCompleteRejectsEmptyRequest(t *testing.T) {
	stub := &stubAdapter{name: "openai", result: &models.CompletionResult{Text: "never"}}
	g := NewCompletion(newStubRegistry(stub), "openai")

	_, err := g.Complete(context.Background(), "", models.CompletionRequest{})
	assert.ErrorIs(t, err, provider.ErrNoMessages)
	assert.Zero(t, stub.complete)
}

func TestCompleteUnknownProvider(t *testing.T) {
	g := NewCompletion(provider.NewRegistry(), "openai")

	_, err := g.Complete(context.Background(), "", models.CompletionRequest{UserPrompt: "x"})
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestCompleteWrapsAdapterErrors(t *testing.T) {
	stub := &stubAdapter{name: "openai", err: provider.ErrUpstreamTransport}
	g := NewCompletion(newStubRegistry(stub), "openai")

	_, err := g.Complete(context.Background(), "", models.CompletionRequest{UserPrompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrUpstreamTransport)
	assert.Contains(t, err.Error(), "openai")
}
