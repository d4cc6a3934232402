package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/inngest/mcpedge/pkg/consts"
	"github.com/inngest/mcpedge/pkg/session"
	"github.com/inngest/mcpedge/pkg/telemetry"
)

// Config represents configuration for running the mcpedge server.
type Config struct {
	// Host is the IP to bind to, eg. "0.0.0.0" or "127.0.0.1"
	Host string `koanf:"host"`
	// Port is the port to listen on, defaulting to 8787.
	Port int `koanf:"port"`
	// Endpoint is the path serving MCP, defaulting to "/mcp".
	Endpoint string `koanf:"endpoint"`

	// SessionTTL is how long a session lives after bootstrap, or after its
	// last request when RefreshOnUse is set.
	SessionTTL time.Duration `koanf:"session-ttl"`
	// SessionBackend is "memory" or "redis".
	SessionBackend string `koanf:"session-backend"`
	RedisURI       string `koanf:"redis-uri"`
	RedisPrefix    string `koanf:"redis-prefix"`
	RefreshOnUse   bool   `koanf:"refresh-on-use"`

	// ResponseTimeout bounds how long a request waits on the engine.
	ResponseTimeout time.Duration `koanf:"response-timeout"`
	// RegistrySize is the maximum number of in-memory transports.
	RegistrySize int64 `koanf:"registry-size"`
	MaxBodyBytes int64 `koanf:"max-body-bytes"`

	// RateLimitRPS limits requests per client address. Zero disables
	// limiting.
	RateLimitRPS   float64 `koanf:"rate-limit-rps"`
	RateLimitBurst int     `koanf:"rate-limit-burst"`

	AllowedOrigins []string `koanf:"allowed-origins"`

	// Trace selects the span exporter: "none", "stdout", "otlp" or
	// "otlp-http".
	Trace string `koanf:"trace"`
	// TraceEndpoint is the OTLP collector's host:port. When empty,
	// OTEL_TRACES_COLLECTOR_ENDPOINT is used.
	TraceEndpoint string `koanf:"trace-endpoint"`

	// Resources are static documents exposed to clients.
	Resources []Resource `koanf:"resources"`
}

// Resource is a static, text resource served to clients.
type Resource struct {
	URI         string `koanf:"uri"`
	Name        string `koanf:"name"`
	Description string `koanf:"description"`
	MIMEType    string `koanf:"mime-type"`
	Text        string `koanf:"text"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Host:            consts.DefaultHost,
		Port:            consts.DefaultPort,
		Endpoint:        consts.DefaultEndpoint,
		SessionTTL:      consts.DefaultSessionTTL,
		SessionBackend:  session.BackendMemory,
		RedisPrefix:     consts.DefaultRedisPrefix,
		ResponseTimeout: consts.DefaultResponseTimeout,
		RegistrySize:    consts.DefaultRegistrySize,
		MaxBodyBytes:    consts.DefaultMaxBodyBytes,
		AllowedOrigins:  []string{"*"},
		Trace:           "none",
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var err error
	if c.Port < 0 || c.Port > 65535 {
		err = multierror.Append(err, fmt.Errorf("port %d out of range", c.Port))
	}
	if !strings.HasPrefix(c.Endpoint, "/") {
		err = multierror.Append(err, fmt.Errorf("endpoint %q must start with /", c.Endpoint))
	}
	if c.SessionTTL <= 0 {
		err = multierror.Append(err, errors.New("session-ttl must be positive"))
	}
	if c.ResponseTimeout <= 0 {
		err = multierror.Append(err, errors.New("response-timeout must be positive"))
	}
	switch c.SessionBackend {
	case session.BackendMemory:
	case session.BackendRedis:
		if c.RedisURI == "" {
			err = multierror.Append(err, session.ErrMissingURI)
		}
	default:
		err = multierror.Append(err, fmt.Errorf("%w: %q", session.ErrUnknownBackend, c.SessionBackend))
	}
	if c.MaxBodyBytes <= 0 {
		err = multierror.Append(err, errors.New("max-body-bytes must be positive"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		err = multierror.Append(err, errors.New("rate limits can't be negative"))
	}
	if _, terr := telemetry.ParseTracerType(c.Trace); terr != nil {
		err = multierror.Append(err, terr)
	}

	seen := map[string]bool{}
	for i, r := range c.Resources {
		if r.URI == "" {
			err = multierror.Append(err, fmt.Errorf("resources[%d] has no uri", i))
			continue
		}
		if seen[r.URI] {
			err = multierror.Append(err, fmt.Errorf("resource %q is defined twice", r.URI))
		}
		seen[r.URI] = true
	}
	return err
}
