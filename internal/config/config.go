// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

// Package config loads Periscope configuration from layered sources via
// Koanf v2: struct defaults, then an optional YAML file, then environment
// variables (highest priority).
package config

import (
	"time"
)

// Config is the root configuration for the Periscope daemon.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Sync     SyncConfig     `koanf:"sync"`
	Push     PushConfig     `koanf:"push"`
	Cache    CacheConfig    `koanf:"cache"`
	Dispatch DispatchConfig `koanf:"dispatch"`
	HTTP     HTTPConfig     `koanf:"http"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig identifies the remote media server.
type ServerConfig struct {
	// URL is the media server base URL (e.g. http://localhost:8096).
	URL string `koanf:"url"`

	// Token is the API token used for both REST and push authentication.
	Token string `koanf:"token"`

	// Timeout bounds every REST call. Must not exceed the poll interval
	// so a hung call cannot starve the next poll.
	Timeout time.Duration `koanf:"timeout"`

	// RequestsPerSecond limits REST calls to the server; 0 disables the
	// limiter.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// SyncConfig controls the session synchronization coordinator.
type SyncConfig struct {
	// PollInterval is the session poll period, clamped to [5s, 300s].
	PollInterval time.Duration `koanf:"poll_interval"`

	// FailureThreshold is the number of consecutive poll failures that
	// triggers the recovery procedure.
	FailureThreshold int `koanf:"failure_threshold"`

	// ExcludedDevices lists device keys that are never tracked.
	ExcludedDevices []string `koanf:"excluded_devices"`

	// RequireRemoteControl keeps only sessions that advertise
	// remote-control support. The capability-list semantics vary across
	// server versions, so the filter is a toggle rather than a fixed rule.
	RequireRemoteControl bool `koanf:"require_remote_control"`

	// DebounceWindow coalesces bursts of library-changed events into a
	// single downstream refresh.
	DebounceWindow time.Duration `koanf:"debounce_window"`
}

// PushConfig controls the push connection manager.
type PushConfig struct {
	Enabled bool `koanf:"enabled"`

	// BackoffBase is the first reconnect delay; it doubles per attempt
	// up to BackoffCap.
	BackoffBase time.Duration `koanf:"backoff_base"`
	BackoffCap  time.Duration `koanf:"backoff_cap"`

	// StableReset is the sustained-connected duration after which the
	// backoff resets to BackoffBase.
	StableReset time.Duration `koanf:"stable_reset"`

	// KeepAliveInterval is the keep-alive send period.
	KeepAliveInterval time.Duration `koanf:"keepalive_interval"`
}

// CacheConfig controls the content cache.
type CacheConfig struct {
	Capacity      int           `koanf:"capacity"`
	TTL           time.Duration `koanf:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// DispatchConfig controls the event dispatcher.
type DispatchConfig struct {
	// QueueSize bounds each subscriber's delivery queue; the oldest
	// event is dropped when the queue is full.
	QueueSize int `koanf:"queue_size"`
}

// HTTPConfig controls the local read API.
type HTTPConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Poll interval bounds. Values outside are clamped, not rejected, so a
// misconfigured deployment still synchronizes.
const (
	MinPollInterval = 5 * time.Second
	MaxPollInterval = 300 * time.Second
)

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first and overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:               "",
			Token:             "",
			Timeout:           15 * time.Second,
			RequestsPerSecond: 10,
		},
		Sync: SyncConfig{
			PollInterval:         30 * time.Second,
			FailureThreshold:     5,
			ExcludedDevices:      []string{},
			RequireRemoteControl: true,
			DebounceWindow:       5 * time.Second,
		},
		Push: PushConfig{
			Enabled:           true,
			BackoffBase:       1 * time.Second,
			BackoffCap:        60 * time.Second,
			StableReset:       30 * time.Second,
			KeepAliveInterval: 30 * time.Second,
		},
		Cache: CacheConfig{
			Capacity:      256,
			TTL:           5 * time.Minute,
			SweepInterval: 1 * time.Minute,
		},
		Dispatch: DispatchConfig{
			QueueSize: 64,
		},
		HTTP: HTTPConfig{
			Host:    "0.0.0.0",
			Port:    8475,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
