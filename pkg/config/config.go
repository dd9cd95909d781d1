// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/framesmith/framesmith/pkg/types"
	"gopkg.in/yaml.v3"
)

// LoggingConfig controls log output
type LoggingConfig struct {
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	File  string `json:"file,omitempty" yaml:"file,omitempty"`
}

// NotificationConfig controls desktop notifications
type NotificationConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	SuccessSound string `json:"successSound,omitempty" yaml:"successSound,omitempty"`
	FailureSound string `json:"failureSound,omitempty" yaml:"failureSound,omitempty"`
}

// ProjectConfig is the top-level framesmith configuration document
type ProjectConfig struct {
	Version       string                 `json:"version" yaml:"version"`
	SpecFile      string                 `json:"specFile,omitempty" yaml:"specFile,omitempty"`
	Rendering     *types.RenderingConfig `json:"rendering,omitempty" yaml:"rendering,omitempty"`
	Worker        *types.WorkerConfig    `json:"worker,omitempty" yaml:"worker,omitempty"`
	Logging       LoggingConfig          `json:"logging,omitempty" yaml:"logging,omitempty"`
	Notifications NotificationConfig     `json:"notifications,omitempty" yaml:"notifications,omitempty"`
	MetricsAddr   string                 `json:"metricsAddr,omitempty" yaml:"metricsAddr,omitempty"`
}

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// LoadConfig loads configuration from a file, trying JSON first and
// falling back to YAML
func (m *Manager) LoadConfig(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ProjectConfig

	if err := json.Unmarshal(data, &cfg); err == nil {
		return m.finish(&cfg)
	}

	if err := yaml.Unmarshal(data, &cfg); err == nil {
		return m.finish(&cfg)
	}

	return nil, fmt.Errorf("failed to parse config as JSON or YAML")
}

// Default returns a fully-populated config with production defaults
func (m *Manager) Default() *ProjectConfig {
	return &ProjectConfig{
		Version:   "1.0",
		Rendering: types.DefaultRenderingConfig(),
		Worker:    &types.WorkerConfig{OutputDir: "frames"},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(cfg *ProjectConfig) error {
	if cfg.Version != "1.0" {
		return fmt.Errorf("unsupported config version: %s", cfg.Version)
	}
	if cfg.Rendering == nil {
		return fmt.Errorf("no rendering section defined")
	}
	if err := cfg.Rendering.Validate(); err != nil {
		return fmt.Errorf("rendering: %w", err)
	}
	if cfg.Worker == nil {
		return fmt.Errorf("no worker section defined")
	}
	if cfg.Worker.OutputDir == "" {
		return fmt.Errorf("worker: outputDir is required")
	}
	return nil
}

// SaveConfig writes the configuration to a file as indented JSON
func (m *Manager) SaveConfig(cfg *ProjectConfig, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// finish applies defaults for omitted sections and validates
func (m *Manager) finish(cfg *ProjectConfig) (*ProjectConfig, error) {
	defaults := types.DefaultRenderingConfig()
	if cfg.Rendering == nil {
		cfg.Rendering = defaults
	} else {
		applyRenderingDefaults(cfg.Rendering, defaults)
	}
	if cfg.Worker == nil {
		cfg.Worker = &types.WorkerConfig{OutputDir: "frames"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyRenderingDefaults(cfg, defaults *types.RenderingConfig) {
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = defaults.MaxWorkers
	}
	if cfg.BackpressureMultiplier == 0 {
		cfg.BackpressureMultiplier = defaults.BackpressureMultiplier
	}
	if cfg.ProgressUpdateInterval == 0 {
		cfg.ProgressUpdateInterval = defaults.ProgressUpdateInterval
	}
	if cfg.GracefulShutdownTimeout == 0 {
		cfg.GracefulShutdownTimeout = defaults.GracefulShutdownTimeout
	}
	if cfg.MaxWorkerFailures == 0 {
		cfg.MaxWorkerFailures = defaults.MaxWorkerFailures
	}
	if cfg.SaveCompletionManifest && cfg.ManifestPath == "" {
		cfg.ManifestPath = defaults.ManifestPath
	}
}
