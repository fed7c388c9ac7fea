package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// XDGDirs provides XDG Base Directory compliant paths for tapedeck
type XDGDirs struct{}

// NewXDGDirs creates a new XDG directory manager
func NewXDGDirs() *XDGDirs {
	slog.Debug("creating new XDG directory manager")
	return &XDGDirs{}
}

// GetConfigPaths returns prioritized paths where config files can be found.
// Returns paths in search order: user config dir, then system config dirs.
func (x *XDGDirs) GetConfigPaths(filename string) []string {
	var paths []string

	baseDir := "tapedeck"

	userConfigPath := filepath.Join(xdg.ConfigHome, baseDir)
	if filename != "" {
		userConfigPath = filepath.Join(userConfigPath, filename)
	}
	paths = append(paths, userConfigPath)

	for _, configDir := range xdg.ConfigDirs {
		systemConfigPath := filepath.Join(configDir, baseDir)
		if filename != "" {
			systemConfigPath = filepath.Join(systemConfigPath, filename)
		}
		paths = append(paths, systemConfigPath)
	}

	slog.Debug("generated config paths",
		"filename", filename,
		"total_paths", len(paths),
		"user_path", userConfigPath)

	return paths
}

// GetCachePath returns the cache directory path for a specific purpose
func (x *XDGDirs) GetCachePath(purpose string) string {
	baseDir := "tapedeck"
	if purpose != "" {
		baseDir = filepath.Join(baseDir, purpose)
	}
	cachePath := filepath.Join(xdg.CacheHome, baseDir)

	slog.Debug("generated cache path", "purpose", purpose, "cache_path", cachePath)
	return cachePath
}

// GetDataPath returns the user data directory path for a specific purpose
func (x *XDGDirs) GetDataPath(purpose string) string {
	baseDir := "tapedeck"
	if purpose != "" {
		baseDir = filepath.Join(baseDir, purpose)
	}
	dataPath := filepath.Join(xdg.DataHome, baseDir)

	slog.Debug("generated data path", "purpose", purpose, "data_path", dataPath)
	return dataPath
}

// GetMediaPaths returns prioritized directories where media files can be
// found: user data dir first, then system data dirs.
func (x *XDGDirs) GetMediaPaths() []string {
	var paths []string

	baseDir := filepath.Join("tapedeck", "media")
	paths = append(paths, filepath.Join(xdg.DataHome, baseDir))
	for _, dataDir := range xdg.DataDirs {
		paths = append(paths, filepath.Join(dataDir, baseDir))
	}

	slog.Debug("generated media paths", "total_paths", len(paths))
	return paths
}

// CreateCacheDir creates the cache directory for a specific purpose
func (x *XDGDirs) CreateCacheDir(purpose string) error {
	cachePath := x.GetCachePath(purpose)

	slog.Debug("creating cache directory", "path", cachePath)

	err := os.MkdirAll(cachePath, 0755)
	if err != nil {
		slog.Error("failed to create cache directory", "path", cachePath, "error", err)
		return err
	}
	return nil
}

// FindMediaFile searches for a media file in the media directories. Returns
// the full path of the first existing file, or empty string if not found.
func (x *XDGDirs) FindMediaFile(relativePath string) string {
	if relativePath == "" {
		return ""
	}

	relativePath = sanitizePath(relativePath)
	if relativePath == "" {
		slog.Warn("relative path was empty after sanitization")
		return ""
	}

	for i, basePath := range x.GetMediaPaths() {
		fullPath := filepath.Join(basePath, relativePath)
		if _, err := os.Stat(fullPath); err == nil {
			slog.Debug("media file found", "full_path", fullPath, "path_index", i)
			return fullPath
		}
	}

	slog.Debug("media file not found in any path", "relative_path", relativePath)
	return ""
}

// sanitizePath removes dangerous path components and normalizes the path
func sanitizePath(path string) string {
	path = strings.ReplaceAll(path, "\x00", "")
	path = strings.ReplaceAll(path, "\n", "")
	path = strings.ReplaceAll(path, "\r", "")

	path = filepath.Clean(path)

	// Prevent directory traversal.
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "..") || strings.Contains(path, "../") {
		slog.Warn("rejecting potentially dangerous path", "path", path)
		return ""
	}

	return path
}
