package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Audible.Locale != "us" {
			t.Errorf("expected audible locale us, got %s", config.Audible.Locale)
		}

		if config.Shelf.BaseURL != "http://localhost:13378" {
			t.Errorf("expected shelf base URL http://localhost:13378, got %s", config.Shelf.BaseURL)
		}

		if config.Sync.IntervalS != 120 {
			t.Errorf("expected sync interval 120, got %d", config.Sync.IntervalS)
		}

		if config.Sync.Mode != ModeBidirectional {
			t.Errorf("expected bidirectional mode, got %s", config.Sync.Mode)
		}

		if !config.State.Persist {
			t.Error("expected persistence enabled by default")
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.State.Path != defaultConfig.State.Path {
			t.Errorf("created config state path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[audible]
locale = "uk"
auth_path = "/custom/auth.json"
batch_size = 10

[shelf]
base_url = "https://shelf.example.com"
token = "test_token"
timeout_s = 15

[sync]
interval_s = 60
tolerance_s = 2.5
mode = "audible_to_shelf"
watchlist_max_size = 25

[state]
path = "/custom/state.json"
persist = false
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Audible.Locale != "uk" {
			t.Errorf("expected locale uk, got %s", config.Audible.Locale)
		}

		if config.Shelf.BaseURL != "https://shelf.example.com" {
			t.Errorf("expected custom shelf URL, got %s", config.Shelf.BaseURL)
		}

		if config.Sync.ToleranceS != 2.5 {
			t.Errorf("expected tolerance 2.5, got %f", config.Sync.ToleranceS)
		}

		if config.State.Persist {
			t.Error("expected persistence disabled")
		}
	})

	t.Run("LoadConfigMissingFile", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
			t.Error("expected an error for a missing file")
		}
	})

	t.Run("EnvironmentOverrides", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[shelf]
base_url = "http://from-file:13378"

[sync]
tolerance_s = 5.0
mode = "bidirectional"
watchlist_max_size = 100
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		t.Setenv("ABS_BASE_URL", "http://from-env:13378")
		t.Setenv("SYNC_TOLERANCE_SECONDS", "7.5")
		t.Setenv("AUDIBLE_LOCALE", "de")

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Shelf.BaseURL != "http://from-env:13378" {
			t.Errorf("expected env override for shelf URL, got %s", config.Shelf.BaseURL)
		}

		if config.Sync.ToleranceS != 7.5 {
			t.Errorf("expected env override for tolerance, got %f", config.Sync.ToleranceS)
		}

		if config.Audible.Locale != "de" {
			t.Errorf("expected env override for locale, got %s", config.Audible.Locale)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		config := DefaultConfig()
		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}

		config.Sync.Mode = "sideways"
		if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig for unknown mode, got %v", err)
		}

		config.Sync.Mode = ModeShelfToAudible
		config.Sync.WatchlistMaxSize = 0
		if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig for zero watchlist size, got %v", err)
		}
	})
}
