// Package config loads ~/.memorable/config.yaml over compiled defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all tunables. Zero values are replaced by Defaults on load.
type Config struct {
	// Paths
	DBPath         string   `yaml:"db_path"`
	TranscriptDirs []string `yaml:"transcript_dirs"`

	// Scheduler
	TickSeconds  int `yaml:"tick_seconds"`
	QuietMinutes int `yaml:"quiet_minutes"`
	Workers      int `yaml:"workers"`
	MaxRetries   int `yaml:"max_retries"`

	// Summarization preconditions
	MinMessages     int     `yaml:"min_messages"`
	MinHumanWords   int     `yaml:"min_human_words"`
	MinHumanRatio   float64 `yaml:"min_human_ratio"`
	CompressionRate float64 `yaml:"compression_rate"`

	// Hybrid search
	SemanticWeight    float64 `yaml:"semantic_weight"`
	KeywordBonus      float64 `yaml:"keyword_bonus"`
	DistanceThreshold float64 `yaml:"distance_threshold"`

	// Services
	API APIConfig `yaml:"api"`
}

// APIConfig holds endpoints and the listen address for the HTTP surface.
type APIConfig struct {
	Addr           string `yaml:"addr"`
	NERAddr        string `yaml:"ner_addr"`
	FoundationAddr string `yaml:"foundation_addr"`
}

// Defaults returns the compiled-in configuration.
func Defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DBPath:         filepath.Join(home, ".memorable", "memorable.db"),
		TranscriptDirs: []string{filepath.Join(home, ".claude", "projects")},

		TickSeconds:  30,
		QuietMinutes: 15,
		Workers:      2,
		MaxRetries:   3,

		MinMessages:     15,
		MinHumanWords:   100,
		MinHumanRatio:   0.05,
		CompressionRate: 0.50,

		SemanticWeight:    0.7,
		KeywordBonus:      0.3,
		DistanceThreshold: 1.2,

		API: APIConfig{
			Addr:           ":7777",
			NERAddr:        "http://localhost:8763",
			FoundationAddr: "http://localhost:8764",
		},
	}
}

// DefaultPath is where Load looks when given an empty path.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memorable", "config.yaml")
}

// Load reads the YAML config at path, merged over Defaults. A missing file
// is not an error; a malformed one is.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.fillZero()
	return cfg, nil
}

// fillZero restores defaults for fields a user config set to zero values.
func (c *Config) fillZero() {
	d := Defaults()
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if len(c.TranscriptDirs) == 0 {
		c.TranscriptDirs = d.TranscriptDirs
	}
	if c.TickSeconds <= 0 {
		c.TickSeconds = d.TickSeconds
	}
	if c.QuietMinutes <= 0 {
		c.QuietMinutes = d.QuietMinutes
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MinMessages <= 0 {
		c.MinMessages = d.MinMessages
	}
	if c.MinHumanWords <= 0 {
		c.MinHumanWords = d.MinHumanWords
	}
	if c.MinHumanRatio <= 0 {
		c.MinHumanRatio = d.MinHumanRatio
	}
	if c.CompressionRate <= 0 {
		c.CompressionRate = d.CompressionRate
	}
	if c.SemanticWeight <= 0 {
		c.SemanticWeight = d.SemanticWeight
	}
	if c.KeywordBonus <= 0 {
		c.KeywordBonus = d.KeywordBonus
	}
	if c.DistanceThreshold <= 0 {
		c.DistanceThreshold = d.DistanceThreshold
	}
	if c.API.Addr == "" {
		c.API.Addr = d.API.Addr
	}
	if c.API.NERAddr == "" {
		c.API.NERAddr = d.API.NERAddr
	}
	if c.API.FoundationAddr == "" {
		c.API.FoundationAddr = d.API.FoundationAddr
	}
}
