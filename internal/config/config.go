// Package config provides configuration management for the voicetree core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration loaded from YAML.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Vault   VaultConfig   `yaml:"vault"`
	Echo    EchoConfig    `yaml:"echo"`
	Context ContextConfig `yaml:"context"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// VaultConfig holds the filesystem surface the sync engine watches and
// writes, plus node classification rules.
type VaultConfig struct {
	WatchedDirectory     string                   `yaml:"watched_directory"`
	VaultPaths           []string                 `yaml:"vault_paths"`
	WritePath            string                   `yaml:"write_path"`
	FileCountCeiling     int                      `yaml:"file_count_ceiling"`
	DeniedDirectoryNames []string                 `yaml:"denied_directory_names"`
	NodeClassification   NodeClassificationConfig `yaml:"node_classification"`
}

// EchoConfig holds the TTLs for the content-tolerant echo suppression stores.
type EchoConfig struct {
	RecentActionsTTL    time.Duration `yaml:"recent_actions_ttl"`
	RecentDeltasTTL     time.Duration `yaml:"recent_deltas_ttl"`
	RecentDeltasDiskTTL time.Duration `yaml:"recent_deltas_disk_ttl"`
}

// ContextConfig holds context-node defaults.
type ContextConfig struct {
	DefaultRadius int `yaml:"default_radius"`
}

// StoreConfig holds the sqlite-backed persisted-state location.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds structured logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// NodeClassificationConfig holds node type and classification rule configuration.
type NodeClassificationConfig struct {
	NodeTypes           map[string]NodeTypeConfig  `yaml:"node_types"`
	ClassificationRules []ClassificationRuleConfig `yaml:"classification_rules"`
	DefaultNodeType     string                     `yaml:"default_node_type,omitempty"`
}

// NodeTypeConfig defines the display properties for a node type.
type NodeTypeConfig struct {
	DisplayName    string  `yaml:"display_name"`
	Description    string  `yaml:"description"`
	Color          string  `yaml:"color"`
	SizeMultiplier float64 `yaml:"size_multiplier"`
}

// ClassificationRuleConfig defines a classification rule.
type ClassificationRuleConfig struct {
	Name        string `yaml:"name"`
	Priority    int    `yaml:"priority"`
	Type        string `yaml:"type"` // tag, filename_prefix, filename_suffix, filename_match, path_contains, regex
	Pattern     string `yaml:"pattern"`
	NodeType    string `yaml:"node_type"`
	Description string `yaml:"description,omitempty"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Vault: VaultConfig{
			FileCountCeiling:     20000,
			DeniedDirectoryNames: []string{"node_modules", "target", "build", "dist", ".cache", ".git", ".obsidian"},
			NodeClassification: NodeClassificationConfig{
				NodeTypes:           make(map[string]NodeTypeConfig),
				ClassificationRules: []ClassificationRuleConfig{},
			},
		},
		Echo: EchoConfig{
			RecentActionsTTL:    300 * time.Millisecond,
			RecentDeltasTTL:     300 * time.Millisecond,
			RecentDeltasDiskTTL: 10 * time.Second,
		},
		Context: ContextConfig{
			DefaultRadius: 2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromYAML loads configuration from a YAML file, overlaying it onto
// DefaultConfig, and validates the result.
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is controlled by application
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Vault.WatchedDirectory == "" {
		return fmt.Errorf("vault watched_directory is required")
	}

	if c.Vault.FileCountCeiling <= 0 {
		return fmt.Errorf("vault file_count_ceiling must be positive")
	}

	if len(c.Vault.VaultPaths) == 0 {
		return fmt.Errorf("vault vault_paths must contain at least one path")
	}

	writePathInVaultPaths := false
	for _, p := range c.Vault.VaultPaths {
		rel, err := filepath.Rel(c.Vault.WatchedDirectory, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("vault_paths entry %q is not under watched_directory %q", p, c.Vault.WatchedDirectory)
		}
		if p == c.Vault.WritePath {
			writePathInVaultPaths = true
		}
	}
	if c.Vault.WritePath == "" {
		return fmt.Errorf("vault write_path is required")
	}
	if !writePathInVaultPaths {
		return fmt.Errorf("write_path %q must be one of vault_paths", c.Vault.WritePath)
	}

	if c.Context.DefaultRadius <= 0 {
		return fmt.Errorf("context default_radius must be positive")
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}

	// Classification rule validation lives in internal/vault
	// (NewNodeClassifierFromConfig) to avoid an import cycle back into
	// this package.

	return nil
}
