package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	dconfig "booking-stats/domain/config"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "./config.yml"

// Load parses the YAML configuration file at path on top of the defaults.
func Load(path string) (*dconfig.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := dconfig.Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	slog.Info(fmt.Sprintf("Loaded config: %s", path))
	return c, nil
}

// FromEnv loads the file named by CONFIG_PATH, falling back to ./config.yml.
// A missing file yields the defaults.
func FromEnv() (*dconfig.Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultPath
	}
	c, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("config.default", "path", path)
		return dconfig.Default(), nil
	}
	return c, err
}

// Level maps logging.level to a slog level; unknown values mean info.
func Level(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
