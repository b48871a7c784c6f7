package shared

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

//go:embed config.example.toml
var exampleConf []byte

// Sync direction modes. Bidirectional reconciles conflicts; the one-way
// modes only ever push from the named source side.
const (
	ModeBidirectional  = "bidirectional"
	ModeAudibleToShelf = "audible_to_shelf"
	ModeShelfToAudible = "shelf_to_audible"
)

// Config represents the application configuration loaded from a TOML file.
//
// Every field can be overridden through environment variables (see the env
// tags), so the daemon runs in a container with no config file at all.
type Config struct {
	Audible AudibleConfig `toml:"audible" envPrefix:"AUDIBLE_"`
	Shelf   ShelfConfig   `toml:"shelf" envPrefix:"ABS_"`
	Sync    SyncConfig    `toml:"sync" envPrefix:"SYNC_"`
	State   StateConfig   `toml:"state" envPrefix:"STATE_"`
	Server  ServerConfig  `toml:"server" envPrefix:"HTTP_SERVER_"`
}

// AudibleConfig contains Audible API settings.
type AudibleConfig struct {
	Locale                    string `toml:"locale" env:"LOCALE"`
	AuthPath                  string `toml:"auth_path" env:"AUTH_JSON_PATH"`
	BatchSize                 int    `toml:"batch_size" env:"BATCH_SIZE"`
	RecentlyPlayedLimit       int    `toml:"recently_played_limit" env:"RECENTLY_PLAYED_LIMIT"`
	LibraryDiscoveryIntervalS int    `toml:"library_discovery_interval_s" env:"LIBRARY_DISCOVERY_INTERVAL_SECONDS"`
	DeepScanIntervalS         int    `toml:"deep_scan_interval_s" env:"DEEP_SCAN_INTERVAL_SECONDS"`
	DeepScanMaxInProgress     int    `toml:"deep_scan_max_in_progress" env:"DEEP_SCAN_MAX_IN_PROGRESS"`
}

// ShelfConfig contains Audiobookshelf server settings.
type ShelfConfig struct {
	BaseURL   string `toml:"base_url" env:"BASE_URL"`
	Token     string `toml:"token" env:"TOKEN"`
	UserID    string `toml:"user_id" env:"USER_ID"`
	LibraryID string `toml:"library_id" env:"LIBRARY_ID"`
	TimeoutS  int    `toml:"timeout_s" env:"REQUEST_TIMEOUT_SECONDS"`
}

// SyncConfig contains reconciliation engine tunables.
type SyncConfig struct {
	IntervalS         int     `toml:"interval_s" env:"INTERVAL_SECONDS"`
	ToleranceS        float64 `toml:"tolerance_s" env:"TOLERANCE_SECONDS"`
	CooldownS         float64 `toml:"cooldown_s" env:"COOLDOWN_SECONDS"`
	ConflictMinDeltaS float64 `toml:"conflict_min_delta_s" env:"CONFLICT_MIN_TIME_DELTA_SECONDS"`
	WatchlistMaxSize  int     `toml:"watchlist_max_size" env:"WATCHLIST_MAX_SIZE"`
	Mode              string  `toml:"mode" env:"MODE"`
	DryRun            bool    `toml:"dry_run" env:"DRY_RUN"`
}

// StateConfig contains persistence settings.
type StateConfig struct {
	Path      string `toml:"path" env:"PATH"`
	Persist   bool   `toml:"persist" env:"PERSIST_ENABLED"`
	CachePath string `toml:"cache_path" env:"CACHE_PATH"`
}

// ServerConfig contains status HTTP server settings.
type ServerConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	Host    string `toml:"host" env:"HOST"`
	Port    int    `toml:"port" env:"PORT"`
	Token   string `toml:"token" env:"TOKEN"`
}

// LoadConfig reads and parses a TOML configuration file from the specified
// path, then applies environment variable overrides on top of it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := applyEnv(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config,
// with environment variable overrides applied.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	if err := applyEnv(&config); err != nil {
		panic(fmt.Sprintf("failed to apply environment overrides: %v", err))
	}
	return &config
}

// applyEnv populates cfg from environment variables. Struct fields are
// mapped via their env and envPrefix tags.
func applyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("%w: environment overrides: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Validate checks config values that have no usable zero value.
func (c *Config) Validate() error {
	switch c.Sync.Mode {
	case ModeBidirectional, ModeAudibleToShelf, ModeShelfToAudible:
	default:
		return fmt.Errorf("%w: unknown sync mode %q", ErrInvalidConfig, c.Sync.Mode)
	}

	if c.Sync.WatchlistMaxSize <= 0 {
		return fmt.Errorf("%w: watchlist_max_size must be positive", ErrInvalidConfig)
	}

	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	// Check if file already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	// Write the embedded example config to the file
	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
