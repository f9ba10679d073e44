package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"modelgate/internal/config"
	"modelgate/internal/credential"
	"modelgate/internal/embedding"
	"modelgate/internal/gateway"
	"modelgate/internal/provider"
	providerfactory "modelgate/internal/provider/factory"
	"modelgate/internal/server"
)

const serveUsage = `Usage:
  modelgate serve --config <path> [--port <port>]

Flags:
  --config string   Path to YAML configuration file (required)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("serve command requires --config <path>")
	}

	// best effort, secrets may come from a local .env during development
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	var creds *credential.Manager
	if cfg.Proxy.Enabled {
		store := credential.NewStore(cfg.Proxy.TokenStorePath)
		creds = credential.NewManager(store, cfg.Proxy.EnterpriseDomain)
	}

	registry := provider.NewRegistry()
	if err := providerfactory.RegisterConfiguredProviders(cfg, creds, registry); err != nil {
		return err
	}
	completion := gateway.NewCompletion(registry, cfg.LLM.Provider)

	remote, err := embedding.NewRemote("", embeddingKey(cfg), embedding.NewHTTPClient())
	if err != nil {
		return err
	}
	local := embedding.NewLocal(
		embedding.NewCache(embedding.DefaultLoader()),
		cfg.Embedding.CacheDir,
		cfg.Embedding.Dim,
		cfg.Embedding.AddPrefix,
	)
	embeddings := gateway.NewEmbedding(cfg, remote, local)

	if err := embeddings.SanityCheck(ctx); err != nil {
		return err
	}

	srv, err := server.New(cfg, completion, embeddings)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

func embeddingKey(cfg config.Config) string {
	if cfg.Embedding.APIKey != "" {
		return cfg.Embedding.APIKey
	}
	return cfg.LLM.APIKey
}
