// Package config loads the settings of the symregweb commands.
//
// Values are layered: built-in defaults, then an optional TOML file, then
// SYMREGWEB_* environment variables. Command-line flags are applied last by
// the commands themselves.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/cwbudde/symregweb/internal/protocol"
	"github.com/cwbudde/symregweb/internal/search"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SYMREGWEB_"

// Config holds the server and run defaults.
type Config struct {
	// Addr is the HTTP listen address
	Addr string `toml:"addr" env:"ADDR" validate:"required"`

	// DataDir enables result export when set
	DataDir string `toml:"data_dir" env:"DATA_DIR"`

	LogLevel string `toml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`

	// StepBudget and SnapshotEvery are the Run parameters used for new sessions
	StepBudget    int `toml:"step_budget" env:"STEP_BUDGET" validate:"gte=1"`
	SnapshotEvery int `toml:"snapshot_every" env:"SNAPSHOT_EVERY" validate:"gte=1"`

	// StreamRate caps snapshot deliveries per second to each stream client
	StreamRate  float64 `toml:"stream_rate" env:"STREAM_RATE" validate:"gt=0"`
	StreamBurst int     `toml:"stream_burst" env:"STREAM_BURST" validate:"gte=1"`

	// MaxSessions bounds the number of sessions kept in memory
	MaxSessions int `toml:"max_sessions" env:"MAX_SESSIONS" validate:"gte=1"`

	// Search is the configuration used when a request leaves a field unset
	Search search.Configuration `toml:"search" envPrefix:"SEARCH_"`
}

// Default returns the built-in settings.
func Default() Config {
	run := protocol.DefaultRun()
	return Config{
		Addr:          ":8080",
		LogLevel:      "info",
		StepBudget:    run.StepBudget,
		SnapshotEvery: run.SnapshotEvery,
		StreamRate:    10,
		StreamBurst:   1,
		MaxSessions:   64,
		Search:        search.DefaultConfiguration(),
	}
}

// Run returns the Run command parameters for new sessions.
func (c Config) Run() protocol.Run {
	return protocol.Run{StepBudget: c.StepBudget, SnapshotEvery: c.SnapshotEvery}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds a Config from defaults, the TOML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid config: %s fails %s", f.Namespace(), f.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
