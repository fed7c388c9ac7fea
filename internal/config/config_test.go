package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetDefaultConfig(t *testing.T) {
	cm := NewConfigManager()
	cfg := cm.GetDefaultConfig()

	if cfg.Volume != 1.0 {
		t.Errorf("default volume = %v, want 1.0", cfg.Volume)
	}
	if cfg.Speed != 1.0 {
		t.Errorf("default speed = %v, want 1.0", cfg.Speed)
	}
	if cfg.AudioBackend != "auto" {
		t.Errorf("default backend = %q, want auto", cfg.AudioBackend)
	}
	if cfg.BlockSize != 8192 {
		t.Errorf("default block size = %d, want 8192", cfg.BlockSize)
	}
	if cfg.FileLogging == nil || !cfg.FileLogging.Enabled {
		t.Error("file logging not enabled by default")
	}
	if cfg.Tracking == nil || !cfg.Tracking.Enabled {
		t.Error("session tracking not enabled by default")
	}
	if err := cm.ValidateConfig(cfg); err != nil {
		t.Errorf("default config fails validation: %v", err)
	}
}

func TestValidateConfigRejectsBadValues(t *testing.T) {
	cm := NewConfigManager()

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"volume too high", func(c *Config) { c.Volume = 1.5 }, "volume"},
		{"volume negative", func(c *Config) { c.Volume = -0.1 }, "volume"},
		{"pan out of range", func(c *Config) { c.Pan = 2.0 }, "pan"},
		{"negative speed", func(c *Config) { c.Speed = -1.0 }, "speed"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log level"},
		{"bad backend", func(c *Config) { c.AudioBackend = "pulse" }, "audio backend"},
		{"negative block size", func(c *Config) { c.BlockSize = -1 }, "block_size"},
		{"negative subscription", func(c *Config) { c.SubscriptionMs = -5 }, "subscription_ms"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := cm.GetDefaultConfig()
			tc.mutate(cfg)
			err := cm.ValidateConfig(cfg)
			if err == nil {
				t.Fatal("invalid config passed validation")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	cm := NewConfigManager()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := cm.GetDefaultConfig()
	cfg.Volume = 0.25
	cfg.AudioBackend = "malgo"
	cfg.SubscriptionMs = 200

	if err := cm.SaveToFile(cfg, path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := cm.LoadFromFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Volume != 0.25 || loaded.AudioBackend != "malgo" || loaded.SubscriptionMs != 200 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestLoadFromFileRejectsBadJSON(t *testing.T) {
	cm := NewConfigManager()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := cm.LoadFromFile(path); err == nil {
		t.Fatal("malformed JSON accepted")
	}
}

func TestMergeConfigs(t *testing.T) {
	cm := NewConfigManager()
	base := cm.GetDefaultConfig()
	override := &Config{Volume: 0.5, AudioBackend: "system_command", BlockSize: 4096}

	merged := cm.MergeConfigs(base, override)
	if merged.Volume != 0.5 {
		t.Errorf("merged volume = %v, want 0.5", merged.Volume)
	}
	if merged.AudioBackend != "system_command" {
		t.Errorf("merged backend = %q, want system_command", merged.AudioBackend)
	}
	if merged.BlockSize != 4096 {
		t.Errorf("merged block size = %d, want 4096", merged.BlockSize)
	}
	// Untouched fields come from base.
	if merged.LogLevel != base.LogLevel {
		t.Errorf("merged log level = %q, want %q", merged.LogLevel, base.LogLevel)
	}
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	cm := NewConfigManager()

	t.Setenv("TAPEDECK_VOLUME", "0.3")
	t.Setenv("TAPEDECK_AUDIO_BACKEND", "malgo")
	t.Setenv("TAPEDECK_LOG_LEVEL", "debug")
	t.Setenv("TAPEDECK_BLOCK_SIZE", "2048")
	t.Setenv("TAPEDECK_SESSION_TRACKING", "false")

	cfg := cm.ApplyEnvironmentOverrides(cm.GetDefaultConfig())
	if cfg.Volume != 0.3 {
		t.Errorf("volume = %v, want 0.3", cfg.Volume)
	}
	if cfg.AudioBackend != "malgo" {
		t.Errorf("backend = %q, want malgo", cfg.AudioBackend)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.LogLevel)
	}
	if cfg.BlockSize != 2048 {
		t.Errorf("block size = %d, want 2048", cfg.BlockSize)
	}
	if cfg.Tracking.Enabled {
		t.Error("tracking still enabled after env override")
	}
}

func TestEnvironmentOverridesIgnoreInvalid(t *testing.T) {
	cm := NewConfigManager()

	t.Setenv("TAPEDECK_VOLUME", "loud")
	t.Setenv("TAPEDECK_AUDIO_BACKEND", "pulse")
	t.Setenv("TAPEDECK_BLOCK_SIZE", "-4")

	base := cm.GetDefaultConfig()
	cfg := cm.ApplyEnvironmentOverrides(base)
	if cfg.Volume != base.Volume {
		t.Errorf("invalid volume override applied: %v", cfg.Volume)
	}
	if cfg.AudioBackend != base.AudioBackend {
		t.Errorf("invalid backend override applied: %q", cfg.AudioBackend)
	}
	if cfg.BlockSize != base.BlockSize {
		t.Errorf("invalid block size override applied: %d", cfg.BlockSize)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, want := range cases {
		got, err := ParseLogLevel(name)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v/%v, want %v", name, got, err, want)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Error("ParseLogLevel accepted an unknown level")
	}
}

func TestResolveLogFilePath(t *testing.T) {
	cm := NewConfigManager()

	if got := cm.ResolveLogFilePath("/tmp/custom.log"); got != "/tmp/custom.log" {
		t.Errorf("explicit path rewritten to %q", got)
	}
	got := cm.ResolveLogFilePath("")
	if !strings.HasSuffix(got, filepath.Join("logs", "tapedeck.log")) {
		t.Errorf("default log path %q does not end in logs/tapedeck.log", got)
	}
}
