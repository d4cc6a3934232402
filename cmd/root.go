package main

import (
	"context"
	"fmt"
	"os"

	"github.com/inngest/mcpedge/cmd/serve"
	"github.com/inngest/mcpedge/cmd/version"
	mcpversion "github.com/inngest/mcpedge/pkg/version"
	isatty "github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"
)

// globalFlags are available on all commands.
var globalFlags = []cli.Flag{
	&cli.BoolFlag{
		Name:  "json",
		Usage: "Output logs as JSON.  Set to true if stdout is not a TTY.",
	},
	&cli.BoolFlag{
		Name:  "verbose",
		Usage: "Enable verbose logging.",
	},
	&cli.StringFlag{
		Name:    "log-level",
		Aliases: []string{"l"},
		Value:   "info",
		Usage:   "Set the log level.  One of: trace, debug, info, warn, error.",
	},
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "mcpedge",
		Usage:   "Stateless MCP sessions over HTTP.",
		Version: mcpversion.Print(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			// The logger reads its handler and level from the environment.
			if cmd.Bool("json") {
				_ = os.Setenv("LOG_HANDLER", "json")
			}
			if os.Getenv("LOG_LEVEL") == "" {
				switch {
				case cmd.IsSet("log-level"):
					_ = os.Setenv("LOG_LEVEL", cmd.String("log-level"))
				case cmd.Bool("verbose"):
					_ = os.Setenv("LOG_LEVEL", "debug")
				default:
					_ = os.Setenv("LOG_LEVEL", "info")
				}
			}
			return ctx, nil
		},
		Flags: globalFlags,
		Commands: []*cli.Command{
			serve.Command(),
			version.Command(),
		},
	}
}

func execute() {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		_ = os.Setenv("LOG_HANDLER", "json")
	}

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
