package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"tapedeck.dev/internal/codec"
)

// FileNotFoundError represents a media file not found error
type FileNotFoundError struct {
	MediaPath string
	Paths     []string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("media file not found: %s (searched in: %s)", e.MediaPath, strings.Join(e.Paths, ", "))
}

// IsFileNotFoundError checks if an error is a FileNotFoundError
func IsFileNotFoundError(err error) bool {
	_, ok := err.(*FileNotFoundError)
	return ok
}

// MediaLoader resolves media references to playable sources. Absolute and
// explicitly relative paths are used as-is; bare names are searched in the
// configured media directories.
type MediaLoader struct {
	fs         afero.Fs
	mediaPaths []string
}

// NewMediaLoader creates a media loader searching the given directories
func NewMediaLoader(fs afero.Fs, mediaPaths []string) *MediaLoader {
	slog.Debug("creating new media loader", "media_paths", mediaPaths)
	return &MediaLoader{fs: fs, mediaPaths: mediaPaths}
}

// LoadedMedia is a resolved media reference with its detected codec
type LoadedMedia struct {
	Path  string
	Data  []byte
	Codec codec.Codec
}

// Load resolves a media reference, reads it and detects its codec
func (ml *MediaLoader) Load(mediaPath string) (*LoadedMedia, error) {
	fullPath, err := ml.Resolve(mediaPath)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(ml.fs, fullPath)
	if err != nil {
		slog.Error("failed to read media file", "path", fullPath, "error", err)
		return nil, fmt.Errorf("failed to read media file %s: %w", fullPath, err)
	}

	c := codec.Detect(data)
	if c == codec.CodecDefault {
		c = codec.DetectFromName(fullPath)
	}

	slog.Debug("media loaded",
		"media_path", mediaPath,
		"full_path", fullPath,
		"size", len(data),
		"codec", c.String())

	return &LoadedMedia{Path: fullPath, Data: data, Codec: c}, nil
}

// Resolve resolves a media reference to a full file path without reading it
func (ml *MediaLoader) Resolve(mediaPath string) (string, error) {
	if mediaPath == "" {
		err := fmt.Errorf("media path cannot be empty")
		slog.Error("resolve media path failed", "error", err)
		return "", err
	}

	// Explicit paths bypass the search directories.
	if filepath.IsAbs(mediaPath) || strings.HasPrefix(mediaPath, "./") || strings.HasPrefix(mediaPath, "../") {
		if _, err := ml.fs.Stat(mediaPath); err != nil {
			slog.Warn("explicit media path not found", "path", mediaPath, "error", err)
			return "", &FileNotFoundError{MediaPath: mediaPath, Paths: []string{mediaPath}}
		}
		return mediaPath, nil
	}

	var searchedPaths []string
	for i, basePath := range ml.mediaPaths {
		fullPath := filepath.Join(basePath, mediaPath)
		searchedPaths = append(searchedPaths, fullPath)

		slog.Debug("checking media file", "attempt", i+1, "full_path", fullPath)

		if _, err := ml.fs.Stat(fullPath); os.IsNotExist(err) {
			continue
		} else if err != nil {
			slog.Error("error checking media file", "path", fullPath, "error", err)
			continue
		}

		slog.Debug("media path resolved", "media_path", mediaPath, "full_path", fullPath)
		return fullPath, nil
	}

	// A bare name that also exists relative to the working directory wins
	// over a not-found error.
	searchedPaths = append(searchedPaths, mediaPath)
	if _, err := ml.fs.Stat(mediaPath); err == nil {
		return mediaPath, nil
	}

	slog.Warn("media file not found in any path",
		"media_path", mediaPath,
		"searched_paths", searchedPaths)

	return "", &FileNotFoundError{MediaPath: mediaPath, Paths: searchedPaths}
}
