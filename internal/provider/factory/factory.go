// Package factory wires configured provider families into the registry.
package factory

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"modelgate/internal/config"
	"modelgate/internal/credential"
	"modelgate/internal/provider"
	"modelgate/internal/provider/anthropic"
	"modelgate/internal/provider/openai"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// RegisterConfiguredProviders installs lazy builders for both completion
// provider families. The direct-key-versus-proxy decision for the chat client
// happens inside the builder, once per process lifetime.
func RegisterConfiguredProviders(cfg config.Config, creds *credential.Manager, registry *provider.Registry) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}

	registry.Register("openai", func() (provider.Adapter, error) {
		client := newHTTPClient(cfg.LLM.ResponseTimeout())

		if strings.TrimSpace(cfg.LLM.APIKey) != "" {
			return openai.New(openai.Options{
				BaseURL: cfg.LLM.BaseURL,
				APIKey:  cfg.LLM.APIKey,
				Headers: cfg.LLM.Headers,
			}, client)
		}

		if !cfg.Proxy.Enabled {
			return nil, errors.New("no llm api key configured and proxy is disabled")
		}
		if creds == nil {
			return nil, errors.New("proxy routing requires a credential manager")
		}

		// The static key stays empty: the proxy bearer token is injected per
		// request by the adapter.
		return openai.New(openai.Options{
			BaseURL:     creds.CompletionBaseURL(),
			Headers:     cfg.LLM.Headers,
			Credentials: creds,
		}, client)
	})

	registry.Register("anthropic", func() (provider.Adapter, error) {
		if strings.TrimSpace(cfg.LLM.APIKey) == "" {
			return nil, errors.New("anthropic provider requires llm.api_key")
		}
		return anthropic.New(anthropic.Options{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Headers: cfg.LLM.Headers,
		}, newHTTPClient(cfg.LLM.ResponseTimeout()))
	})

	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
