// Package config loads server bootstrap configuration with spf13/viper:
// the socket endpoint, store root, worker pool depth, and log level.
// Registers defaults on a *viper.Viper instance and unmarshals into a
// typed struct, scoped to the handful of settings this server needs.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the server's bootstrap configuration.
type Config struct {
	// Network is "unix" or "tcp".
	Network string `mapstructure:"network"`
	// Address is a filesystem/abstract socket path for "unix", or
	// host:port for "tcp".
	Address string `mapstructure:"address"`
	// StoreRoot is the content-addressed repository's root directory.
	StoreRoot string `mapstructure:"store_root"`
	// MissingListPath is the path to the persisted missing-digest list.
	MissingListPath string `mapstructure:"missing_list_path"`
	// MaxConcurrentSessions bounds how many sessions the server handles
	// at once; 0 means unbounded.
	MaxConcurrentSessions int64 `mapstructure:"max_concurrent_sessions"`
	// LogLevel is a logrus level name ("debug", "info", "warn", "error").
	LogLevel string `mapstructure:"log_level"`
}

func defaults() *viper.Viper {
	v := viper.New()
	v.SetDefault("network", "unix")
	v.SetDefault("address", "data/.socket")
	v.SetDefault("store_root", "data/store")
	v.SetDefault("missing_list_path", "data/missing.txt")
	v.SetDefault("max_concurrent_sessions", int64(32))
	v.SetDefault("log_level", "info")
	v.SetEnvPrefix("hbackup")
	v.AutomaticEnv()
	return v
}

// Load reads path (if non-empty) over the defaults, applying the
// HBACKUP_* environment overrides viper's AutomaticEnv picks up, then
// unmarshals into a Config.
func Load(path string) (Config, error) {
	v := defaults()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
