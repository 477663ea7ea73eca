// Package config holds the few tunables of the analysis pipeline. The zero
// configuration is usable; a TOML file can override it.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config tunes the reconstruction pipeline.
type Config struct {
	// IdleThreshold is the quiet-time gap after which same-address traffic
	// is split into a new device epoch. Zero disables gap splitting.
	IdleThreshold time.Duration `toml:"idle_threshold"`

	// CommandEndpoint / ResponseEndpoint are the bulk endpoint numbers the
	// correlator pairs as command and response streams.
	CommandEndpoint  uint8 `toml:"command_endpoint"`
	ResponseEndpoint uint8 `toml:"response_endpoint"`

	// OpcodeExtensions are TOML files merged into the decode table.
	OpcodeExtensions []string `toml:"opcode_extensions"`
}

// Default returns the configuration matching ENG-001 units.
func Default() Config {
	return Config{
		CommandEndpoint:  1,
		ResponseEndpoint: 2,
	}
}

// LoadFile reads a TOML config file over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	var raw struct {
		IdleThresholdMS  int64    `toml:"idle_threshold_ms"`
		CommandEndpoint  *uint8   `toml:"command_endpoint"`
		ResponseEndpoint *uint8   `toml:"response_endpoint"`
		OpcodeExtensions []string `toml:"opcode_extensions"`
	}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if raw.IdleThresholdMS > 0 {
		cfg.IdleThreshold = time.Duration(raw.IdleThresholdMS) * time.Millisecond
	}
	if raw.CommandEndpoint != nil {
		cfg.CommandEndpoint = *raw.CommandEndpoint
	}
	if raw.ResponseEndpoint != nil {
		cfg.ResponseEndpoint = *raw.ResponseEndpoint
	}
	cfg.OpcodeExtensions = raw.OpcodeExtensions
	return cfg, nil
}
