// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads gateway configuration from a file and the
// environment. Every key has a working default; a config file is only
// needed to override them.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full gateway configuration.
type Config struct {
	// Address the HTTP server listens on.
	Address string `mapstructure:"address"`

	Debug bool `mapstructure:"debug"`

	EventLog   EventLogConfig   `mapstructure:"event_log"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Credential CredentialConfig `mapstructure:"credential"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Projector  ProjectorConfig  `mapstructure:"projector"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// EventLogConfig selects the event store backend.
type EventLogConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `mapstructure:"driver"`

	// Path is the SQLite database file, for the sqlite driver.
	Path string `mapstructure:"path"`
}

// CacheConfig selects the manifest cache backend.
type CacheConfig struct {
	// Driver is "memory" or "redis". Redis is required for multi-replica
	// deployments so invalidations reach every replica.
	Driver string `mapstructure:"driver"`

	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings for the redis cache driver.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// CredentialConfig tunes the credential exchange cache.
type CredentialConfig struct {
	TTLCeiling   time.Duration `mapstructure:"ttl_ceiling"`
	SafetyBuffer time.Duration `mapstructure:"safety_buffer"`
}

// BreakerConfig tunes the per-source circuit breaker.
type BreakerConfig struct {
	DegradedThreshold  int           `mapstructure:"degraded_threshold"`
	UnhealthyThreshold int           `mapstructure:"unhealthy_threshold"`
	CoolDown           time.Duration `mapstructure:"cool_down"`
}

// ProjectorConfig tunes the read-model projector.
type ProjectorConfig struct {
	// Interval between event log polls.
	Interval time.Duration `mapstructure:"interval"`
}

// SyncConfig tunes periodic inventory discovery.
type SyncConfig struct {
	// Interval between discovery passes over enabled sources.
	// Zero disables periodic sync; sources can still be synced on demand.
	Interval time.Duration `mapstructure:"interval"`
}

// MetricsConfig controls the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("address", ":8080")
	v.SetDefault("event_log.driver", "memory")
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("credential.ttl_ceiling", 15*time.Minute)
	v.SetDefault("credential.safety_buffer", 30*time.Second)
	v.SetDefault("breaker.degraded_threshold", 3)
	v.SetDefault("breaker.unhealthy_threshold", 6)
	v.SetDefault("breaker.cool_down", 30*time.Second)
	v.SetDefault("projector.interval", 500*time.Millisecond)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("metrics.enabled", true)
}

// Load reads configuration from path (optional) and TOOLGATE_* environment
// variables, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TOOLGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.EventLog.Driver {
	case "memory":
	case "sqlite":
		if c.EventLog.Path == "" {
			return fmt.Errorf("event_log.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown event_log.driver %q", c.EventLog.Driver)
	}

	switch c.Cache.Driver {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown cache.driver %q", c.Cache.Driver)
	}

	if c.Breaker.UnhealthyThreshold <= c.Breaker.DegradedThreshold {
		return fmt.Errorf("breaker.unhealthy_threshold must exceed breaker.degraded_threshold")
	}
	return nil
}
