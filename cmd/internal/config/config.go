// Package config loads server configuration for CLI commands, layering a
// config file, MCPEDGE_ environment variables and command flags over the
// defaults.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	appconfig "github.com/inngest/mcpedge/pkg/config"
	"github.com/inngest/mcpedge/pkg/logger"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"
)

const (
	EnvPrefix = "MCPEDGE_"
	// FlagConfig names the flag holding an explicit config file path.
	FlagConfig = "config"
)

var configNames = []string{"mcpedge.json", "mcpedge.yaml", "mcpedge.yml"}

// Load returns the configuration for cmd. Sources are applied in increasing
// priority: defaults, the config file, environment variables, then flags
// set explicitly on cmd.
func Load(ctx context.Context, cmd *cli.Command) (appconfig.Config, error) {
	l := logger.From(ctx)
	k := koanf.New(".")

	path := cmd.String(FlagConfig)
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := loadFile(k, path); err != nil {
			return appconfig.Config{}, fmt.Errorf("error reading config file %s: %w", path, err)
		}
		l.Info("using config", "file", path)
	} else if found := search(l); found != "" {
		if err := loadFile(k, found); err != nil {
			return appconfig.Config{}, fmt.Errorf("error reading config file %s: %w", found, err)
		}
		l.Info("using config", "file", found)
	}

	if err := loadEnv(k); err != nil {
		return appconfig.Config{}, fmt.Errorf("error loading environment variables: %w", err)
	}
	if err := loadFlags(k, cmd); err != nil {
		return appconfig.Config{}, fmt.Errorf("error loading flags: %w", err)
	}

	c := appconfig.Default()
	if err := k.Unmarshal("", &c); err != nil {
		return appconfig.Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return c, nil
}

// search walks from the working directory to the root, then checks
// ~/.config/mcpedge, returning the first config file found.
func search(l logger.Logger) string {
	var dirs []string
	if cwd, err := os.Getwd(); err != nil {
		l.Warn("error getting current directory", "error", err)
	} else {
		for dir := cwd; ; dir = filepath.Dir(dir) {
			dirs = append(dirs, dir)
			if filepath.Dir(dir) == dir {
				break
			}
		}
	}
	if home, err := os.UserHomeDir(); err != nil {
		l.Warn("error getting home directory", "error", err)
	} else {
		dirs = append(dirs, filepath.Join(home, ".config", "mcpedge"))
	}

	for _, dir := range dirs {
		for _, name := range configNames {
			p := filepath.Join(dir, name)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

func loadFile(k *koanf.Koanf, path string) error {
	switch ext := filepath.Ext(path); ext {
	case ".json":
		return k.Load(file.Provider(path), json.Parser())
	case ".yaml", ".yml":
		return k.Load(file.Provider(path), yaml.Parser())
	default:
		// YAML is a superset of JSON.
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return fmt.Errorf("config file must be JSON or YAML: %w", err)
		}
		return nil
	}
}

// loadEnv maps MCPEDGE_SESSION_TTL to session-ttl and so on.
func loadEnv(k *koanf.Koanf) error {
	return k.Load(env.ProviderWithValue(EnvPrefix, "", func(key, value string) (string, any) {
		name := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, EnvPrefix), "_", "-"))
		if name == FlagConfig {
			return "", nil
		}
		if name == "allowed-origins" {
			return name, splitList(value)
		}
		return name, value
	}), nil)
}

// loadFlags copies every flag set on the command line.
func loadFlags(k *koanf.Koanf, cmd *cli.Command) error {
	for _, f := range cmd.Flags {
		names := f.Names()
		if len(names) == 0 || names[0] == FlagConfig || !cmd.IsSet(names[0]) {
			continue
		}
		if err := k.Set(names[0], cmd.Value(names[0])); err != nil {
			return err
		}
	}
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
