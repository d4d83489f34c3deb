// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/tomtom215/periscope/internal/logging"
)

// Validate checks the configuration for fatal misconfiguration. Bounds
// that can be repaired (poll interval, backoff) are clamped afterwards
// rather than rejected.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateSync,
		c.validatePush,
		c.validateCache,
		c.validateDispatch,
		c.validateHTTP,
		c.validateLogging,
	}

	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.URL == "" {
		return fmt.Errorf("SERVER_URL is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("SERVER_URL must be a valid http(s) URL, got %q", c.Server.URL)
	}
	if c.Server.Token == "" {
		return fmt.Errorf("SERVER_TOKEN is required")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("SERVER_TIMEOUT must be positive")
	}
	if c.Server.RequestsPerSecond < 0 {
		return fmt.Errorf("SERVER_REQUESTS_PER_SECOND must not be negative")
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("SYNC_POLL_INTERVAL must be positive")
	}
	if c.Sync.FailureThreshold < 1 {
		return fmt.Errorf("SYNC_FAILURE_THRESHOLD must be at least 1")
	}
	if c.Sync.DebounceWindow < 0 {
		return fmt.Errorf("SYNC_DEBOUNCE_WINDOW must not be negative")
	}
	return nil
}

func (c *Config) validatePush() error {
	if c.Push.BackoffBase <= 0 {
		return fmt.Errorf("PUSH_BACKOFF_BASE must be positive")
	}
	if c.Push.BackoffCap < c.Push.BackoffBase {
		return fmt.Errorf("PUSH_BACKOFF_CAP must be at least PUSH_BACKOFF_BASE")
	}
	if c.Push.StableReset <= 0 {
		return fmt.Errorf("PUSH_STABLE_RESET must be positive")
	}
	if c.Push.KeepAliveInterval <= 0 {
		return fmt.Errorf("PUSH_KEEPALIVE_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.Capacity < 1 {
		return fmt.Errorf("CACHE_CAPACITY must be at least 1")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.Cache.SweepInterval <= 0 {
		return fmt.Errorf("CACHE_SWEEP_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) validateDispatch() error {
	if c.Dispatch.QueueSize < 1 {
		return fmt.Errorf("DISPATCH_QUEUE_SIZE must be at least 1")
	}
	return nil
}

func (c *Config) validateHTTP() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console")
	}
	return nil
}

// clamp repairs out-of-bounds values that do not warrant a startup
// failure. The poll interval bounds protect the remote server (lower)
// and keep staleness acceptable (upper); the transport timeout must not
// exceed the poll interval so a hung call cannot starve the next poll.
func (c *Config) clamp() {
	if c.Sync.PollInterval < MinPollInterval {
		logging.Warn().Dur("interval", c.Sync.PollInterval).Dur("min", MinPollInterval).Msg("poll interval too low, clamping")
		c.Sync.PollInterval = MinPollInterval
	}
	if c.Sync.PollInterval > MaxPollInterval {
		logging.Warn().Dur("interval", c.Sync.PollInterval).Dur("max", MaxPollInterval).Msg("poll interval too high, clamping")
		c.Sync.PollInterval = MaxPollInterval
	}
	if c.Server.Timeout > c.Sync.PollInterval {
		logging.Warn().Dur("timeout", c.Server.Timeout).Dur("poll_interval", c.Sync.PollInterval).Msg("transport timeout exceeds poll interval, clamping")
		c.Server.Timeout = c.Sync.PollInterval
	}
	if c.Push.BackoffCap > 10*time.Minute {
		c.Push.BackoffCap = 10 * time.Minute
	}
}
