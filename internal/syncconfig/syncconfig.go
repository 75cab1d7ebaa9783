// Package syncconfig holds the client's persisted settings: which server to
// talk to, how aggressively to auto-sync, and the stable client_id a
// Timeline/Local pair uses to identify itself to that server.
package syncconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AutoSyncConfig holds auto-sync settings.
type AutoSyncConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`  // nil = default true
	OnStart  *bool  `json:"on_start,omitempty"` // nil = default true
	Debounce string `json:"debounce,omitempty"` // duration string, default "3s"
	Interval string `json:"interval,omitempty"` // duration string, default "5m"
	Pull     *bool  `json:"pull,omitempty"`     // nil = default true
}

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL               string         `json:"url"`
	ClientID          string         `json:"client_id,omitempty"`
	SnapshotThreshold *int           `json:"snapshot_threshold,omitempty"`
	Auto              AutoSyncConfig `json:"auto"`
}

// Config is the client config stored at ~/.config/syncdb/config.json.
type Config struct {
	Sync SyncConfig `json:"sync"`
}

const defaultServerURL = "http://localhost:8080"

// ConfigDir returns ~/.config/syncdb, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "syncdb")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the client config from ~/.config/syncdb/config.json.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the client config to ~/.config/syncdb/config.json.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// GetServerURL returns the sync server URL.
// Priority: SYNCDB_URL env > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("SYNCDB_URL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	return defaultServerURL
}

// GetSnapshotThreshold returns the snapshot bootstrap threshold (minimum
// storage-journal entries accumulated before a fresh client bootstraps from
// a full snapshot rather than replaying the whole journal).
// Priority: SYNCDB_SNAPSHOT_THRESHOLD env > config.json > default (100).
func GetSnapshotThreshold() int {
	if v := os.Getenv("SYNCDB_SNAPSHOT_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.SnapshotThreshold != nil && *cfg.Sync.SnapshotThreshold >= 0 {
		return *cfg.Sync.SnapshotThreshold
	}
	return 100
}

// GetClientID returns this machine's stable client_id, generating and
// persisting a new uuid on first use.
// Priority: SYNCDB_CLIENT_ID env > config.json > freshly generated + saved.
func GetClientID() (string, error) {
	if v := os.Getenv("SYNCDB_CLIENT_ID"); v != "" {
		return v, nil
	}
	cfg, err := LoadConfig()
	if err != nil {
		return "", err
	}
	if cfg.Sync.ClientID != "" {
		return cfg.Sync.ClientID, nil
	}
	cfg.Sync.ClientID = uuid.NewString()
	if err := SaveConfig(cfg); err != nil {
		return "", err
	}
	return cfg.Sync.ClientID, nil
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := os.Getenv(envKey)
	if v == "" {
		return nil
	}
	v = strings.ToLower(v)
	if v == "1" || v == "true" {
		b := true
		return &b
	}
	if v == "0" || v == "false" {
		b := false
		return &b
	}
	return nil
}

// GetAutoSyncEnabled returns whether auto-sync is enabled.
// Priority: SYNCDB_AUTO env > config.json sync.auto.enabled > true
func GetAutoSyncEnabled() bool {
	if v := parseBoolEnv("SYNCDB_AUTO"); v != nil {
		return *v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Auto.Enabled != nil {
		return *cfg.Sync.Auto.Enabled
	}
	return true
}

// GetAutoSyncOnStart returns whether to sync on startup.
// Priority: SYNCDB_AUTO_START env > config.json sync.auto.on_start > true
func GetAutoSyncOnStart() bool {
	if v := parseBoolEnv("SYNCDB_AUTO_START"); v != nil {
		return *v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Auto.OnStart != nil {
		return *cfg.Sync.Auto.OnStart
	}
	return true
}

// GetAutoSyncDebounce returns the debounce duration for post-mutation sync.
// Priority: SYNCDB_AUTO_DEBOUNCE env > config.json sync.auto.debounce > 3s
func GetAutoSyncDebounce() time.Duration {
	if v := os.Getenv("SYNCDB_AUTO_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Auto.Debounce != "" {
		if d, err := time.ParseDuration(cfg.Sync.Auto.Debounce); err == nil {
			return d
		}
	}
	return 3 * time.Second
}

// GetAutoSyncInterval returns the periodic sync interval.
// Priority: SYNCDB_AUTO_INTERVAL env > config.json sync.auto.interval > 5m
func GetAutoSyncInterval() time.Duration {
	if v := os.Getenv("SYNCDB_AUTO_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Auto.Interval != "" {
		if d, err := time.ParseDuration(cfg.Sync.Auto.Interval); err == nil {
			return d
		}
	}
	return 5 * time.Minute
}

// GetAutoSyncPull returns whether auto-sync should include pull.
// Priority: SYNCDB_AUTO_PULL env > config.json sync.auto.pull > true
func GetAutoSyncPull() bool {
	if v := parseBoolEnv("SYNCDB_AUTO_PULL"); v != nil {
		return *v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Auto.Pull != nil {
		return *cfg.Sync.Auto.Pull
	}
	return true
}
