// Package config carries the server's startup parameters: built-in defaults,
// ASRD_* environment overrides, and an optional config file on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
type Config struct {
	Addr             string   `json:"addr" yaml:"addr" toml:"addr"`
	DocRoot          string   `json:"doc_root" yaml:"doc_root" toml:"doc_root"`
	LogFile          string   `json:"log_file" yaml:"log_file" toml:"log_file"`
	LogLevel         string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	SampleRate       int      `json:"sample_rate" yaml:"sample_rate" toml:"sample_rate"`
	ChunkFrames      int      `json:"chunk_frames" yaml:"chunk_frames" toml:"chunk_frames"`
	TailPaddingSecs  float64  `json:"tail_padding_secs" yaml:"tail_padding_secs" toml:"tail_padding_secs"`
	ComputeWorkers   int      `json:"compute_workers" yaml:"compute_workers" toml:"compute_workers"`
	MaxActiveStreams int      `json:"max_active_streams" yaml:"max_active_streams" toml:"max_active_streams"`
	CORSEnabled      bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins      []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Default returns the built-in configuration with environment overrides
// (ASRD_ADDR, ASRD_LOG_LEVEL) applied.
func Default() Config {
	cfg := Config{
		Addr:            ":6006",
		LogLevel:        "info",
		SampleRate:      16000,
		ChunkFrames:     32,
		TailPaddingSecs: 0.3,
		ComputeWorkers:  1,
	}
	if v := os.Getenv("ASRD_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("ASRD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}

// decoders maps config file extensions to their unmarshal functions.
var decoders = map[string]func([]byte, any) error{
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
	".json": json.Unmarshal,
	".toml": toml.Unmarshal,
}

// Load decodes the file at path over the defaults, so options the file
// leaves out keep their default (or environment) values.
func Load(path string) (Config, error) {
	cfg := Default()
	dec, ok := decoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return cfg, fmt.Errorf("config %s: unsupported format (want .yaml, .json, or .toml)", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := dec(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
