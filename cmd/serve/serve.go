package serve

import (
	"context"
	"fmt"

	"github.com/inngest/mcpedge/cmd/internal/config"
	"github.com/inngest/mcpedge/pkg/consts"
	"github.com/inngest/mcpedge/pkg/logger"
	"github.com/inngest/mcpedge/pkg/server"
	"github.com/inngest/mcpedge/pkg/service"
	"github.com/urfave/cli/v3"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:        "serve",
		Usage:       "Serve MCP sessions over stateless HTTP.",
		UsageText:   "mcpedge serve [options]",
		Description: "Example: mcpedge serve --session-backend redis --redis-uri redis://localhost:6379",
		Action:      action,

		Flags: []cli.Flag{
			// Base flags
			&cli.StringFlag{
				Name:  config.FlagConfig,
				Usage: "Path to an mcpedge configuration file",
			},
			&cli.StringFlag{
				Name:  "host",
				Value: consts.DefaultHost,
				Usage: "Address to bind to",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   consts.DefaultPort,
				Usage:   "Port to listen on",
			},
			&cli.StringFlag{
				Name:  "endpoint",
				Value: consts.DefaultEndpoint,
				Usage: "Path serving the MCP endpoint",
			},

			// Session flags
			&cli.DurationFlag{
				Name:  "session-ttl",
				Value: consts.DefaultSessionTTL,
				Usage: "How long a session lives after it is created",
			},
			&cli.BoolFlag{
				Name:  "refresh-on-use",
				Usage: "Restart a session's TTL on every request that uses it",
			},
			&cli.StringFlag{
				Name:  "session-backend",
				Value: "memory",
				Usage: "Where session records are kept. One of: memory, redis.",
			},
			&cli.StringFlag{
				Name:  "redis-uri",
				Usage: "Redis URI for the redis session backend, shared by every instance",
			},
			&cli.StringFlag{
				Name:  "redis-prefix",
				Value: consts.DefaultRedisPrefix,
				Usage: "Prefix for session keys in redis",
			},

			// Advanced flags
			&cli.DurationFlag{
				Name:  "response-timeout",
				Value: consts.DefaultResponseTimeout,
				Usage: "How long a request waits for the MCP server to answer",
			},
			&cli.Int64Flag{
				Name:  "registry-size",
				Value: consts.DefaultRegistrySize,
				Usage: "Maximum number of transports held in memory",
			},
			&cli.Int64Flag{
				Name:  "max-body-bytes",
				Value: consts.DefaultMaxBodyBytes,
				Usage: "Maximum request body size",
			},
			&cli.FloatFlag{
				Name:  "rate-limit-rps",
				Usage: "Requests per second allowed per client address. 0 disables limiting.",
			},
			&cli.IntFlag{
				Name:  "rate-limit-burst",
				Usage: "Burst size for rate limiting. Defaults to the per-second rate.",
			},
			&cli.StringSliceFlag{
				Name:  "allowed-origins",
				Usage: "Origins allowed to call the endpoint from a browser",
			},
			&cli.StringFlag{
				Name:  "trace",
				Value: "none",
				Usage: "Span exporter. One of: none, stdout, otlp, otlp-http.",
			},
			&cli.StringFlag{
				Name:  "trace-endpoint",
				Usage: "OTLP collector host:port for the otlp exporters",
			},
		},
	}
}

func action(ctx context.Context, cmd *cli.Command) error {
	l := logger.New()
	ctx = logger.WithStdlib(ctx, l)

	c, err := config.Load(ctx, cmd)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	l.Info("starting mcpedge", "addr", c.Addr(), "endpoint", c.Endpoint)
	return service.StartAll(ctx, server.New(c))
}
