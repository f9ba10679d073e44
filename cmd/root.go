package cmd

import (
	"context"
	"fmt"
	"strings"
)

const usage = `modelgate is a unified completion and embedding gateway.

Usage:
  modelgate serve [flags]
  modelgate login [flags]

Commands:
  serve    Start the HTTP server
  login    Run the device authorization flow and persist the credential

Flags:
  -h, --help  Show this help message`

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return printUsage()
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "login":
		return login(ctx, args[1:])
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage() error {
	fmt.Println(strings.TrimSpace(usage))
	return nil
}
