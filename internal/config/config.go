// Package config loads engine25519 settings from defaults, an optional
// YAML file and ENGINE25519_* environment variables, in increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Prefix is the environment variable prefix.
const Prefix = "ENGINE25519"

// ErrInvalid is returned for settings that load but cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Engine configures the VM.
type Engine struct {
	MicrocodeDepth int    `mapstructure:"microcode_depth"`
	ResetCycles    int    `mapstructure:"reset_cycles"`
	Bypass         bool   `mapstructure:"bypass"`
	MaxCycles      uint64 `mapstructure:"max_cycles"`
}

// Log configures the logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Metrics configures the Prometheus endpoint. An empty Listen disables it.
type Metrics struct {
	Listen string `mapstructure:"listen"`
}

// Vectors configures the test-vector runner.
type Vectors struct {
	Parallelism int `mapstructure:"parallelism"`
}

// TopLevel is the full configuration.
type TopLevel struct {
	Engine  Engine  `mapstructure:"engine"`
	Log     Log     `mapstructure:"log"`
	Metrics Metrics `mapstructure:"metrics"`
	Vectors Vectors `mapstructure:"vectors"`
}

var defaults = map[string]interface{}{
	"engine.microcode_depth": 1024,
	"engine.reset_cycles":    4,
	"engine.bypass":          false,
	"engine.max_cycles":      1000000,
	"log.level":              "info",
	"log.format":             "console",
	"metrics.listen":         "",
	"vectors.parallelism":    4,
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*TopLevel, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(Prefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	var conf TopLevel
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *TopLevel) validate() error {
	switch {
	case c.Engine.MicrocodeDepth <= 0 || c.Engine.MicrocodeDepth > 1<<16:
		return fmt.Errorf("%w: engine.microcode_depth %d", ErrInvalid, c.Engine.MicrocodeDepth)
	case c.Engine.ResetCycles < 0:
		return fmt.Errorf("%w: engine.reset_cycles %d", ErrInvalid, c.Engine.ResetCycles)
	case c.Vectors.Parallelism <= 0:
		return fmt.Errorf("%w: vectors.parallelism %d", ErrInvalid, c.Vectors.Parallelism)
	case c.Log.Format != "console" && c.Log.Format != "json":
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}
