// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

// Package config loads and validates Melobox configuration.
//
// Configuration is loaded via Koanf v2 with layered sources, highest
// priority last:
//
//  1. Built-in defaults
//  2. Optional YAML config file (config.yaml, /etc/melobox/config.yaml,
//     or the path in MELOBOX_CONFIG)
//  3. Environment variables prefixed MELOBOX_
//     (MELOBOX_SYNC_OUTBOX_MAX_SIZE -> sync.outbox_max_size)
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Melobox server.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Log     LogConfig     `koanf:"log"`
	Sync    SyncConfig    `koanf:"sync"`
	Library LibraryConfig `koanf:"library"`
	Player  PlayerConfig  `koanf:"player"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// SyncConfig holds state synchronization settings.
type SyncConfig struct {
	// OutboxMaxSize is the event outbox capacity. When full, the oldest
	// ~10% of entries are evicted.
	OutboxMaxSize int `koanf:"outbox_max_size"`

	// OutboxMaxRetries bounds redelivery attempts per buffered event.
	OutboxMaxRetries int `koanf:"outbox_max_retries"`

	// OperationTTL is how long processed client operation ids (and their
	// cached results) are retained for idempotent retries.
	OperationTTL time.Duration `koanf:"operation_ttl"`

	// CleanupInterval is the period of the background cleanup loop
	// (operation expiry sweep + outbox flush).
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	// PositionThrottle is the minimum interval between live track
	// position broadcasts.
	PositionThrottle time.Duration `koanf:"position_throttle"`
}

// LibraryConfig holds playlist store settings.
type LibraryConfig struct {
	// Path is the sqlite database path. ":memory:" is valid for tests.
	Path string `koanf:"path"`

	// CacheSize is the playlist read-cache capacity.
	CacheSize int `koanf:"cache_size"`

	// CacheTTL is the playlist read-cache entry lifetime.
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// PlayerConfig holds playback progress settings.
type PlayerConfig struct {
	// TickInterval is how often the progress ticker samples the player
	// and publishes a (throttled) position update.
	TickInterval time.Duration `koanf:"tick_interval"`
}

// defaultConfig returns a Config with all defaults applied.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8756,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Sync: SyncConfig{
			OutboxMaxSize:    1000,
			OutboxMaxRetries: 3,
			OperationTTL:     10 * time.Minute,
			CleanupInterval:  5 * time.Minute,
			PositionThrottle: 200 * time.Millisecond,
		},
		Library: LibraryConfig{
			Path:      "/data/melobox.db",
			CacheSize: 128,
			CacheTTL:  time.Minute,
		},
		Player: PlayerConfig{
			TickInterval: time.Second,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Sync.OutboxMaxSize < 1 {
		return fmt.Errorf("sync.outbox_max_size must be positive, got %d", c.Sync.OutboxMaxSize)
	}
	if c.Sync.OutboxMaxRetries < 0 {
		return fmt.Errorf("sync.outbox_max_retries must not be negative, got %d", c.Sync.OutboxMaxRetries)
	}
	if c.Sync.OperationTTL <= 0 {
		return fmt.Errorf("sync.operation_ttl must be positive, got %s", c.Sync.OperationTTL)
	}
	if c.Sync.CleanupInterval <= 0 {
		return fmt.Errorf("sync.cleanup_interval must be positive, got %s", c.Sync.CleanupInterval)
	}
	if c.Sync.PositionThrottle < 0 {
		return fmt.Errorf("sync.position_throttle must not be negative, got %s", c.Sync.PositionThrottle)
	}
	if c.Library.Path == "" {
		return fmt.Errorf("library.path must not be empty")
	}
	if c.Player.TickInterval <= 0 {
		return fmt.Errorf("player.tick_interval must be positive, got %s", c.Player.TickInterval)
	}
	return nil
}
