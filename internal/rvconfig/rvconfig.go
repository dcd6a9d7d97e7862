// Package rvconfig holds the optional TOML configuration file the CLI
// front-end accepts via --config, mirrored from the retrieved pack's
// config package: one struct with toml tags, a DefaultConfig
// constructor, and a Load that overlays a file on top of the defaults.
package rvconfig

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config holds CLI defaults; a flag given a non-empty, non-zero or true
// value overrides whatever is set here.
type Config struct {
	Execution struct {
		MemBytes   uint32 `toml:"mem_bytes"`
		Engine     string `toml:"engine"` // "interp" or "jit"
		StepCap    uint64 `toml:"step_cap"`
		EnableTrace bool  `toml:"enable_trace"`
	} `toml:"execution"`

	Logging struct {
		Level string `toml:"level"` // logrus level name
	} `toml:"logging"`
}

// DefaultConfig returns the CLI's built-in defaults, used when no
// --config file is given and as the base a supplied file is overlaid
// onto.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Execution.MemBytes = 1 << 20 // 1 MiB
	cfg.Execution.Engine = "interp"
	cfg.Execution.StepCap = 0 // unbounded
	cfg.Execution.EnableTrace = false
	cfg.Logging.Level = "info"
	return cfg
}

// Load reads a TOML file at path and overlays its fields onto
// DefaultConfig's values; fields the file omits keep their defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("rvconfig: %w", err)
	}
	return cfg, nil
}
