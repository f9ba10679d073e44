package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"modelgate/internal/config"
	"modelgate/internal/credential"
)

const loginUsage = `Usage:
  modelgate login --config <path>

Runs the device authorization flow if no credential is stored yet and
persists the result, so that serve starts without interactive prompts.

Flags:
  --config string   Path to YAML configuration file (required)`

func login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, loginUsage)
	}

	var cfgPath string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse login flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("login command requires --config <path>")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if !cfg.Proxy.Enabled {
		return errors.New("login requires proxy.enabled in the configuration")
	}

	store := credential.NewStore(cfg.Proxy.TokenStorePath)
	creds := credential.NewManager(store, cfg.Proxy.EnterpriseDomain)

	if _, err := creds.EnsureCredential(ctx); err != nil {
		return err
	}

	// force one exchange so an expired or revoked grant surfaces now
	if _, err := creds.AccessToken(ctx); err != nil {
		return err
	}

	fmt.Printf("Credential stored at %s\n", cfg.Proxy.TokenStorePath)
	return nil
}
