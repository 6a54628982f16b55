// Package config loads server configuration from an optional yaml file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"notehub/internal/syncer"
)

// Duration is a time.Duration that unmarshals from yaml strings like "1s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Storage selects and configures the note backend.
type Storage struct {
	Backend     string `yaml:"backend"` // file | memory | postgres
	DataDir     string `yaml:"data_dir"`
	DatabaseURL string `yaml:"database_url"`
}

// Redis configures the optional cross-instance fanout.
type Redis struct {
	Addr string `yaml:"addr"`
}

// Sync tunes the per-session schedulers.
type Sync struct {
	Debounce           Duration `yaml:"debounce"`
	Tick               Duration `yaml:"tick"`
	SaveTimeout        Duration `yaml:"save_timeout"`
	RemoteUpdatePolicy string   `yaml:"remote_update_policy"` // prefer_local | prefer_remote
}

// Config is the full server configuration.
type Config struct {
	Addr     string  `yaml:"addr"`
	LogLevel string  `yaml:"log_level"`
	Zeroconf bool    `yaml:"zeroconf"`
	Storage  Storage `yaml:"storage"`
	Redis    Redis   `yaml:"redis"`
	Sync     Sync    `yaml:"sync"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Addr:     ":4000",
		LogLevel: "info",
		Storage: Storage{
			Backend: "file",
			DataDir: "data",
		},
		Sync: Sync{
			Debounce:           Duration(time.Second),
			Tick:               Duration(30 * time.Second),
			SaveTimeout:        Duration(10 * time.Second),
			RemoteUpdatePolicy: string(syncer.PreferLocal),
		},
	}
}

// Load reads the config file at path (defaults apply when path is empty),
// then applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NOTEHUB_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("NOTEHUB_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for the file backend")
		}
	case "memory":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch syncer.Policy(c.Sync.RemoteUpdatePolicy) {
	case syncer.PreferLocal, syncer.PreferRemote:
	default:
		return fmt.Errorf("unknown remote update policy %q", c.Sync.RemoteUpdatePolicy)
	}

	if c.Sync.Debounce <= 0 || c.Sync.Tick <= 0 || c.Sync.SaveTimeout <= 0 {
		return fmt.Errorf("sync intervals must be positive")
	}
	return nil
}

// SyncOptions converts the sync section into scheduler options.
func (c *Config) SyncOptions() syncer.Options {
	return syncer.Options{
		Debounce:      c.Sync.Debounce.Std(),
		Tick:          c.Sync.Tick.Std(),
		SaveTimeout:   c.Sync.SaveTimeout.Std(),
		RemoteUpdates: syncer.Policy(c.Sync.RemoteUpdatePolicy),
	}
}
