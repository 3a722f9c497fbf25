package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
)

// CoreConfig holds offline-core tunables
type CoreConfig struct {
	// ============ MUTATION SYNC ============
	Sync SyncConfig `json:"sync"`

	// ============ LOCATION TRACKING ============
	Tracking TrackingConfig `json:"tracking"`

	// ============ DRAFT AUTOSAVE ============
	Draft DraftConfig `json:"draft"`

	// ============ AGENT CACHE ============
	Cache CacheConfig `json:"cache"`
}

// SyncConfig holds mutation queue drain configuration
type SyncConfig struct {
	Enabled       bool `json:"enabled"`
	DrainInterval int  `json:"drain_interval"` // seconds
	DrainOnStart  bool `json:"drain_on_start"`
	MaxAttempts   int  `json:"max_attempts"` // transient failures before a mutation is abandoned
}

// TrackingConfig holds location pipeline configuration
type TrackingConfig struct {
	MinDisplacementMeters float64 `json:"min_displacement_meters"`
	UploadInterval        int     `json:"upload_interval"` // seconds
	PruneSynced           bool    `json:"prune_synced"`
}

// DraftConfig holds autosave configuration
type DraftConfig struct {
	DebounceMillis int `json:"debounce_millis"`
}

// CacheConfig holds background agent cache policy configuration
type CacheConfig struct {
	AllowedRoutes []string `json:"allowed_routes"` // API GET paths eligible for offline caching
	ShellPaths    []string `json:"shell_paths"`    // pre-populated on install
}

// LoadCoreConfig loads tunables from CORE_CONFIG_PATH or falls back to defaults
func LoadCoreConfig() *CoreConfig {
	if configPath := os.Getenv("CORE_CONFIG_PATH"); configPath != "" {
		if cfg, err := loadCoreConfigFromFile(configPath); err == nil {
			return cfg
		} else {
			log.Printf("⚠️ Failed to load core config from %s: %v, using defaults", configPath, err)
		}
	}
	return DefaultCoreConfig()
}

func loadCoreConfigFromFile(path string) (*CoreConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultCoreConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid core config: %w", err)
	}
	return cfg, nil
}

// DefaultCoreConfig returns the built-in tunables
func DefaultCoreConfig() *CoreConfig {
	return &CoreConfig{
		Sync: SyncConfig{
			Enabled:       true,
			DrainInterval: 30,
			DrainOnStart:  true,
			MaxAttempts:   5,
		},
		Tracking: TrackingConfig{
			MinDisplacementMeters: 10,
			UploadInterval:        60,
			PruneSynced:           true,
		},
		Draft: DraftConfig{
			DebounceMillis: 1000,
		},
		Cache: CacheConfig{
			AllowedRoutes: []string{
				"/jobs/my-jobs",
				"/customers",
				"/sites",
				"/assets",
				"/parts",
			},
			ShellPaths: []string{"/", "/index.html", "/offline.html", "/app.js", "/app.css"},
		},
	}
}
