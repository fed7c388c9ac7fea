package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileLoggingConfig represents file-based logging configuration
type FileLoggingConfig struct {
	Enabled    bool   `json:"enabled"`      // Whether file logging is enabled
	Filename   string `json:"filename"`     // Log file path (empty = XDG cache path)
	MaxSizeMB  int    `json:"max_size_mb"`  // Max file size in MB before rotation
	MaxBackups int    `json:"max_backups"`  // Max number of backup files to keep
	MaxAgeDays int    `json:"max_age_days"` // Max age in days before deletion
	Compress   bool   `json:"compress"`     // Whether to compress rotated files
}

// Config represents tapedeck configuration
type Config struct {
	Volume            float64                `json:"volume"`              // Playback volume (0.0 to 1.0)
	Pan               float64                `json:"pan"`                 // Stereo pan (-1.0 to 1.0)
	Speed             float64                `json:"speed"`               // Playback rate (1.0 = normal)
	AudioBackend      string                 `json:"audio_backend"`       // Engine backend (auto, system_command, malgo)
	LogLevel          string                 `json:"log_level"`           // Log level (debug, info, warn, error)
	BlockSize         int                    `json:"block_size"`          // Feed slice size in bytes
	SubscriptionMs    int                    `json:"subscription_ms"`     // Progress update interval in ms (0 = off)
	ResponseTimeoutMs int                    `json:"response_timeout_ms"` // Engine response timeout in ms (0 = wait forever)
	MediaPaths        []string               `json:"media_paths"`         // Additional directories to search for media
	FileLogging       *FileLoggingConfig     `json:"file_logging,omitempty"`
	Tracking          *SessionTrackingConfig `json:"tracking,omitempty"`
}

// XDGInterface defines the interface for XDG directory operations
type XDGInterface interface {
	GetConfigPaths(filename string) []string
	GetCachePath(purpose string) string
	GetDataPath(purpose string) string
	CreateCacheDir(purpose string) error
	FindMediaFile(relativePath string) string
}

// ConfigManager handles loading, saving, and validating configuration
type ConfigManager struct {
	xdg XDGInterface
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	slog.Debug("creating new config manager")
	return &ConfigManager{
		xdg: NewXDGDirs(),
	}
}

// GetDefaultConfig returns the default configuration
func (cm *ConfigManager) GetDefaultConfig() *Config {
	defaultConfig := &Config{
		Volume:            1.0,
		Pan:               0.0,
		Speed:             1.0,
		AudioBackend:      "auto",
		LogLevel:          "warn",
		BlockSize:         8192,
		SubscriptionMs:    0,
		ResponseTimeoutMs: 0,
		MediaPaths:        []string{}, // XDG paths will be used
		FileLogging: &FileLoggingConfig{
			Enabled:    true,
			Filename:   "", // Empty = XDG cache path
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Tracking: GetDefaultSessionTrackingConfig(),
	}

	slog.Debug("generated default config",
		"volume", defaultConfig.Volume,
		"audio_backend", defaultConfig.AudioBackend,
		"log_level", defaultConfig.LogLevel,
		"block_size", defaultConfig.BlockSize,
		"file_logging_enabled", defaultConfig.FileLogging.Enabled)

	return defaultConfig
}

// LoadFromFile loads configuration from a specific file
func (cm *ConfigManager) LoadFromFile(filePath string) (*Config, error) {
	slog.Debug("loading config from file", "file_path", filePath)

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Error("failed to read config file", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = json.Unmarshal(data, &config)
	if err != nil {
		slog.Error("failed to parse config JSON", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	err = cm.ValidateConfig(&config)
	if err != nil {
		slog.Error("config validation failed", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	slog.Debug("config loaded successfully",
		"file_path", filePath,
		"volume", config.Volume,
		"audio_backend", config.AudioBackend)

	return &config, nil
}

// SaveToFile saves configuration to a specific file
func (cm *ConfigManager) SaveToFile(config *Config, filePath string) error {
	slog.Debug("saving config to file", "file_path", filePath)

	err := cm.ValidateConfig(config)
	if err != nil {
		slog.Error("cannot save invalid config", "error", err)
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	dir := filepath.Dir(filePath)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		slog.Error("failed to create config directory", "directory", dir, "error", err)
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		slog.Error("failed to marshal config", "error", err)
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(filePath, data, 0644)
	if err != nil {
		slog.Error("failed to write config file", "file_path", filePath, "error", err)
		return fmt.Errorf("failed to write config file: %w", err)
	}

	slog.Info("config saved successfully", "file_path", filePath)
	return nil
}

// LoadConfig loads configuration using XDG path discovery
func (cm *ConfigManager) LoadConfig() (*Config, error) {
	slog.Debug("loading config using XDG path discovery")

	configPaths := cm.xdg.GetConfigPaths("config.json")

	for i, configPath := range configPaths {
		slog.Debug("checking config path", "path_index", i, "path", configPath)

		if _, err := os.Stat(configPath); err == nil {
			slog.Debug("found config file", "path", configPath)
			return cm.LoadFromFile(configPath)
		}
	}

	slog.Debug("no config file found, using defaults")
	return cm.GetDefaultConfig(), nil
}

// ValidateConfig validates configuration values
func (cm *ConfigManager) ValidateConfig(config *Config) error {
	var errors []string

	if config.Volume < 0.0 || config.Volume > 1.0 {
		errors = append(errors, fmt.Sprintf("volume must be between 0.0 and 1.0, got %f", config.Volume))
	}

	if config.Pan < -1.0 || config.Pan > 1.0 {
		errors = append(errors, fmt.Sprintf("pan must be between -1.0 and 1.0, got %f", config.Pan))
	}

	if config.Speed < 0.0 {
		errors = append(errors, fmt.Sprintf("speed must be >= 0.0, got %f", config.Speed))
	}

	if config.BlockSize < 0 {
		errors = append(errors, fmt.Sprintf("block_size must be >= 0, got %d", config.BlockSize))
	}

	if config.SubscriptionMs < 0 {
		errors = append(errors, fmt.Sprintf("subscription_ms must be >= 0, got %d", config.SubscriptionMs))
	}

	if config.ResponseTimeoutMs < 0 {
		errors = append(errors, fmt.Sprintf("response_timeout_ms must be >= 0, got %d", config.ResponseTimeoutMs))
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if config.LogLevel != "" {
		valid := false
		for _, level := range validLogLevels {
			if config.LogLevel == level {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, fmt.Sprintf("invalid log level '%s', must be one of: %s",
				config.LogLevel, strings.Join(validLogLevels, ", ")))
		}
	}

	if !cm.IsValidAudioBackend(config.AudioBackend) {
		supportedBackends := cm.GetSupportedAudioBackends()
		errors = append(errors, fmt.Sprintf("invalid audio backend '%s', must be one of: %s",
			config.AudioBackend, strings.Join(supportedBackends, ", ")))
	}

	if config.FileLogging != nil {
		fileLogging := config.FileLogging

		if fileLogging.MaxSizeMB < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_size_mb must be >= 0, got %d", fileLogging.MaxSizeMB))
		}
		if fileLogging.MaxBackups < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_backups must be >= 0, got %d", fileLogging.MaxBackups))
		}
		if fileLogging.MaxAgeDays < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_age_days must be >= 0, got %d", fileLogging.MaxAgeDays))
		}
	}

	if len(errors) > 0 {
		errMsg := strings.Join(errors, "; ")
		slog.Error("config validation failed", "errors", errMsg)
		return fmt.Errorf("config validation failed: %s", errMsg)
	}

	slog.Debug("config validation passed")
	return nil
}

// MergeConfigs merges two configurations, with override taking precedence
func (cm *ConfigManager) MergeConfigs(base, override *Config) *Config {
	slog.Debug("merging configurations")

	merged := *base

	if override.Volume != 0.0 {
		merged.Volume = override.Volume
	}
	if override.Pan != 0.0 {
		merged.Pan = override.Pan
	}
	if override.Speed != 0.0 {
		merged.Speed = override.Speed
	}
	if override.AudioBackend != "" {
		merged.AudioBackend = override.AudioBackend
	}
	if override.LogLevel != "" {
		merged.LogLevel = override.LogLevel
	}
	if override.BlockSize != 0 {
		merged.BlockSize = override.BlockSize
	}
	if override.SubscriptionMs != 0 {
		merged.SubscriptionMs = override.SubscriptionMs
	}
	if override.ResponseTimeoutMs != 0 {
		merged.ResponseTimeoutMs = override.ResponseTimeoutMs
	}
	if len(override.MediaPaths) > 0 {
		merged.MediaPaths = override.MediaPaths
	}

	slog.Debug("configurations merged successfully")
	return &merged
}

// ApplyEnvironmentOverrides applies environment variable overrides to config
func (cm *ConfigManager) ApplyEnvironmentOverrides(config *Config) *Config {
	slog.Debug("applying environment variable overrides")

	result := *config

	if volStr := os.Getenv("TAPEDECK_VOLUME"); volStr != "" {
		if vol, err := strconv.ParseFloat(volStr, 64); err == nil {
			result.Volume = vol
			slog.Debug("applied volume override from environment", "value", vol)
		} else {
			slog.Warn("invalid TAPEDECK_VOLUME environment variable", "value", volStr, "error", err)
		}
	}

	if speedStr := os.Getenv("TAPEDECK_SPEED"); speedStr != "" {
		if speed, err := strconv.ParseFloat(speedStr, 64); err == nil {
			result.Speed = speed
			slog.Debug("applied speed override from environment", "value", speed)
		} else {
			slog.Warn("invalid TAPEDECK_SPEED environment variable", "value", speedStr, "error", err)
		}
	}

	if logLevel := os.Getenv("TAPEDECK_LOG_LEVEL"); logLevel != "" {
		result.LogLevel = logLevel
		slog.Debug("applied log level override from environment", "value", logLevel)
	}

	if audioBackend := os.Getenv("TAPEDECK_AUDIO_BACKEND"); audioBackend != "" {
		if cm.IsValidAudioBackend(audioBackend) {
			result.AudioBackend = audioBackend
			slog.Debug("applied audio backend override from environment", "value", audioBackend)
		} else {
			slog.Warn("invalid TAPEDECK_AUDIO_BACKEND environment variable", "value", audioBackend)
		}
	}

	if blockStr := os.Getenv("TAPEDECK_BLOCK_SIZE"); blockStr != "" {
		if block, err := strconv.Atoi(blockStr); err == nil && block > 0 {
			result.BlockSize = block
			slog.Debug("applied block size override from environment", "value", block)
		} else {
			slog.Warn("invalid TAPEDECK_BLOCK_SIZE environment variable", "value", blockStr)
		}
	}

	if result.Tracking != nil {
		result.Tracking = ApplySessionTrackingEnvironmentOverrides(result.Tracking)
	}

	slog.Debug("environment overrides applied")
	return &result
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(logLevel string) (slog.Level, error) {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", logLevel)
	}
}

// ApplyLogLevel configures slog with the specified log level
func (cm *ConfigManager) ApplyLogLevel(logLevel string) error {
	return cm.ApplyLogLevelWithWriter(logLevel, os.Stderr)
}

// ApplyLogLevelWithWriter configures slog with the specified log level and
// custom writer (for testing)
func (cm *ConfigManager) ApplyLogLevelWithWriter(logLevel string, writer io.Writer) error {
	if logLevel == "" {
		slog.Debug("no log level specified, keeping current slog configuration")
		return nil
	}

	level, err := ParseLogLevel(logLevel)
	if err != nil {
		slog.Error("invalid log level for slog configuration", "log_level", logLevel, "error", err)
		return err
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))

	slog.Debug("slog configured successfully", "log_level", logLevel, "slog_level", level)
	return nil
}

// ResolveLogFilePath resolves the log file path using the XDG cache
// directory when filename is empty
func (cm *ConfigManager) ResolveLogFilePath(filename string) string {
	if filename != "" {
		return filename
	}
	return filepath.Join(cm.xdg.GetCachePath("logs"), "tapedeck.log")
}

// GetSupportedAudioBackends returns a list of all supported backend types
func (cm *ConfigManager) GetSupportedAudioBackends() []string {
	return []string{"auto", "system_command", "malgo"}
}

// IsValidAudioBackend checks if an audio backend type is supported
func (cm *ConfigManager) IsValidAudioBackend(backend string) bool {
	// Empty string is valid (defaults to auto)
	if backend == "" {
		return true
	}

	for _, supportedBackend := range cm.GetSupportedAudioBackends() {
		if backend == supportedBackend {
			return true
		}
	}
	return false
}
