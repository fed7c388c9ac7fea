package config

import (
	"log/slog"
	"os"
	"strconv"
)

// SessionTrackingConfig represents playback session tracking configuration
type SessionTrackingConfig struct {
	Enabled      bool   `json:"enabled"`       // Whether session tracking is enabled
	DatabasePath string `json:"database_path"` // Custom database path (empty = XDG data path)
}

// GetDefaultSessionTrackingConfig returns the default session tracking
// configuration
func GetDefaultSessionTrackingConfig() *SessionTrackingConfig {
	return &SessionTrackingConfig{
		Enabled:      true, // Default enabled to surface swallowed stop failures
		DatabasePath: "",   // Empty = XDG data path
	}
}

// ApplySessionTrackingEnvironmentOverrides applies environment variable
// overrides to session tracking config
func ApplySessionTrackingEnvironmentOverrides(config *SessionTrackingConfig) *SessionTrackingConfig {
	result := *config

	if trackingStr := os.Getenv("TAPEDECK_SESSION_TRACKING"); trackingStr != "" {
		if enabled, err := strconv.ParseBool(trackingStr); err == nil {
			result.Enabled = enabled
			slog.Debug("applied session tracking override from environment", "value", enabled)
		} else {
			slog.Warn("invalid TAPEDECK_SESSION_TRACKING environment variable", "value", trackingStr, "error", err)
		}
	}

	if dbPath := os.Getenv("TAPEDECK_TRACKING_DB"); dbPath != "" {
		result.DatabasePath = dbPath
		slog.Debug("applied tracking database override from environment", "value", dbPath)
	}

	return &result
}
