//  Copyright (c) 2023 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config implements the user-facing configuration of contractaway, read from a YAML file,
// and hosts the non-user-configurable constants in const.go.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Solver backends.
const (
	// BackendAuto tries the bit-blasting backend first and falls back to z3 when it is on PATH.
	BackendAuto = "auto"
	// BackendNative uses only the in-process bit-blasting backend.
	BackendNative = "native"
	// BackendZ3 uses only the external z3 binary.
	BackendZ3 = "z3"
)

// ValidBackends lists the accepted solver backends.
var ValidBackends = []string{BackendAuto, BackendNative, BackendZ3}

// ValidIntWidths lists the accepted default integer widths.
var ValidIntWidths = []int{8, 16, 32, 64}

// Config holds all contractaway configuration.
type Config struct {
	Solver SolverConfig `yaml:"solver"`

	// IntWidth is the width of the default integer type.
	IntWidth int `yaml:"int_width"`

	// Strict reports disproved contracts as errors; otherwise they are warnings.
	Strict bool `yaml:"strict"`
	// UnknownAsWarning raises undecided contracts from info to warning.
	UnknownAsWarning bool `yaml:"unknown_as_warning"`
	// CheckOverflow adds verification conditions for signed arithmetic overflow.
	CheckOverflow bool `yaml:"check_overflow"`

	// Workers bounds the number of VCs discharged in parallel; 0 means GOMAXPROCS.
	Workers int `yaml:"workers"`

	Cache CacheConfig `yaml:"cache"`

	// PrettyPrint colors diagnostics on the terminal.
	PrettyPrint bool `yaml:"pretty_print"`

	Logging LoggingConfig `yaml:"logging"`
}

// SolverConfig configures the discharge backends.
type SolverConfig struct {
	Backend     string `yaml:"backend"` // auto, native, z3
	Z3Path      string `yaml:"z3_path"`
	Timeout     string `yaml:"timeout"`
	MaxClauses  int    `yaml:"max_clauses"`
	UnrollLimit int    `yaml:"unroll_limit"`
}

// CacheConfig configures the incremental verification cache.
type CacheConfig struct {
	// Path of the cache file; empty disables caching.
	Path string `yaml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Solver: SolverConfig{
			Backend:     BackendAuto,
			Z3Path:      "z3",
			Timeout:     DefaultSolverTimeout.String(),
			MaxClauses:  DefaultMaxClauses,
			UnrollLimit: DefaultUnrollLimit,
		},
		IntWidth:    32,
		Strict:      true,
		PrettyPrint: true,
		Logging:     LoggingConfig{Level: "info"},
	}
}

// Load reads the configuration from a YAML file on top of the defaults. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Parse decodes YAML configuration on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets the environment pick the solver without a config file.
func (c *Config) applyEnvOverrides() {
	if backend := os.Getenv("CONTRACTAWAY_SOLVER"); backend != "" {
		c.Solver.Backend = backend
	}
	if path := os.Getenv("CONTRACTAWAY_Z3"); path != "" {
		c.Solver.Z3Path = path
	}
}

// SolverTimeout returns the per-VC solver timeout as a duration.
func (c *Config) SolverTimeout() time.Duration {
	d, err := time.ParseDuration(c.Solver.Timeout)
	if err != nil || d <= 0 {
		return DefaultSolverTimeout
	}
	return d
}

// WorkerCount returns the effective size of the discharge pool.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !slices.Contains(ValidBackends, c.Solver.Backend) {
		return fmt.Errorf("invalid solver backend: %q (valid: %v)", c.Solver.Backend, ValidBackends)
	}
	if c.Solver.Timeout != "" {
		if d, err := time.ParseDuration(c.Solver.Timeout); err != nil || d <= 0 {
			return fmt.Errorf("invalid solver timeout: %q", c.Solver.Timeout)
		}
	}
	if c.Solver.MaxClauses < 0 {
		return fmt.Errorf("invalid max_clauses: %d", c.Solver.MaxClauses)
	}
	if c.Solver.UnrollLimit < 0 {
		return fmt.Errorf("invalid unroll_limit: %d", c.Solver.UnrollLimit)
	}
	if !slices.Contains(ValidIntWidths, c.IntWidth) {
		return fmt.Errorf("invalid int_width: %d (valid: %v)", c.IntWidth, ValidIntWidths)
	}
	if c.Workers < 0 {
		return fmt.Errorf("invalid workers: %d", c.Workers)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}
	return nil
}
