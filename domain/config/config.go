package config

import (
	"fmt"
	"math"
	"strings"

	"booking-stats/domain/weekly"
)

// Config represents the structure of config.yml used by the tool.
type Config struct {
	Input struct {
		SkipRows        int  `yaml:"skip_rows"`
		SkipInvalidRows bool `yaml:"skip_invalid_rows"`
	} `yaml:"input"`
	Weekly struct {
		Anchor          string  `yaml:"anchor"`
		Multiplier      float64 `yaml:"multiplier"`
		ThresholdMethod string  `yaml:"threshold_method"`
		Percentile      float64 `yaml:"percentile"`
	} `yaml:"weekly"`
	Output struct {
		Dir string `yaml:"dir"`
	} `yaml:"output"`
	Database Database `yaml:"database"`
	Web      struct {
		Addr    string `yaml:"addr"`
		DataDir string `yaml:"data_dir"`
		UIDir   string `yaml:"ui_dir"`
	} `yaml:"web"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

type Database struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Schema  string `yaml:"schema"`
	Tag     string `yaml:"tag"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var c Config
	c.Input.SkipRows = 1
	c.Weekly.Anchor = string(weekly.AnchorMonday)
	c.Weekly.Multiplier = weekly.DefaultMultiplier
	c.Weekly.ThresholdMethod = string(weekly.MethodStdDev)
	c.Weekly.Percentile = weekly.DefaultPercentile
	c.Output.Dir = "./data"
	c.Database.Schema = "booking_stats"
	c.Web.Addr = ":8080"
	c.Web.DataDir = "./data"
	c.Web.UIDir = "./ui/dist"
	c.Logging.Level = "info"
	return &c
}

// Validate checks the values that the commands cannot recover from.
func (c *Config) Validate() error {
	if c.Input.SkipRows < 0 {
		return fmt.Errorf("input.skip_rows must not be negative")
	}
	if _, err := weekly.ParseAnchorPolicy(c.Weekly.Anchor); err != nil {
		return fmt.Errorf("weekly.anchor: %w", err)
	}
	if _, err := weekly.ParseThresholdMethod(c.Weekly.ThresholdMethod); err != nil {
		return fmt.Errorf("weekly.threshold_method: %w", err)
	}
	if math.IsNaN(c.Weekly.Multiplier) || math.IsInf(c.Weekly.Multiplier, 0) || c.Weekly.Multiplier < 0 {
		return fmt.Errorf("weekly.multiplier must be a non-negative number")
	}
	if c.Weekly.Percentile < 0 || c.Weekly.Percentile > 100 {
		return fmt.Errorf("weekly.percentile must be between 0 and 100")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	return nil
}

// Aggregator builds the weekly aggregator described by the weekly section.
func (c *Config) Aggregator() (weekly.Aggregator, error) {
	policy, err := weekly.ParseAnchorPolicy(c.Weekly.Anchor)
	if err != nil {
		return weekly.Aggregator{}, err
	}
	method, err := weekly.ParseThresholdMethod(c.Weekly.ThresholdMethod)
	if err != nil {
		return weekly.Aggregator{}, err
	}
	return weekly.Aggregator{
		Policy:     policy,
		K:          c.Weekly.Multiplier,
		Method:     method,
		Percentile: c.Weekly.Percentile,
	}, nil
}
