// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

// Package main is the entry point for the Periscope daemon.
//
// Periscope keeps a local, addressable snapshot of every controllable
// client session on a Jellyfin-compatible media server. State is merged
// from two inconsistent channels: an authoritative periodic poll of the
// sessions endpoint and a low-latency push event stream over WebSocket.
// The reconciled map is served over a local REST API together with
// cached library browse pages and a remote-control command endpoint.
//
// # Application Architecture
//
// The daemon starts components in the following order:
//
//  1. Configuration: layered load from defaults, config.yaml and
//     environment variables (Koanf v2)
//  2. Transport: rate-limited REST client wrapped in a circuit breaker
//  3. Browse cache: TTL and LRU bounded page cache with a periodic sweep
//  4. Push connection: authenticated WebSocket with exponential backoff
//  5. Coordinator: the reconciliation loop owning the canonical map
//  6. API server: REST surface with Prometheus metrics
//
// Components 4-6 run under a suture supervisor tree; the sync layer and
// the api layer restart independently.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config file, built-in defaults.
//
// Minimal setup:
//
//	export SERVER_URL=http://localhost:8096
//	export SERVER_TOKEN=your-api-key
//	./periscope
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the poll loop stops, the
// push connection closes and ceases reconnecting, pending debounce
// timers are cancelled, and in-flight API requests get 10s to finish.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/periscope/internal/api"
	"github.com/tomtom215/periscope/internal/cache"
	"github.com/tomtom215/periscope/internal/config"
	"github.com/tomtom215/periscope/internal/coordinator"
	"github.com/tomtom215/periscope/internal/dispatch"
	"github.com/tomtom215/periscope/internal/library"
	"github.com/tomtom215/periscope/internal/logging"
	"github.com/tomtom215/periscope/internal/push"
	"github.com/tomtom215/periscope/internal/supervisor"
	"github.com/tomtom215/periscope/internal/supervisor/services"
	"github.com/tomtom215/periscope/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "periscope: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("server", cfg.Server.URL).
		Bool("push_enabled", cfg.Push.Enabled).
		Msg("periscope starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := transport.NewBreakerClient(transport.NewHTTPClient(transport.Config{
		BaseURL:           cfg.Server.URL,
		Token:             cfg.Server.Token,
		Timeout:           cfg.Server.Timeout,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
	}))

	browseCache := cache.New(cfg.Cache.Capacity, cfg.Cache.TTL)
	go browseCache.RunSweeper(ctx, cfg.Cache.SweepInterval)

	dispatcher := dispatch.New(cfg.Dispatch.QueueSize)
	defer dispatcher.Close()

	pusher := push.NewManager(client, push.Config{
		BackoffBase:       cfg.Push.BackoffBase,
		BackoffCap:        cfg.Push.BackoffCap,
		StableReset:       cfg.Push.StableReset,
		KeepAliveInterval: cfg.Push.KeepAliveInterval,
	})
	pusher.OnAuthRejected = func(err error) {
		logging.Error().Err(err).Msg("push credentials rejected, reconfigure the server token")
	}

	coord := coordinator.New(client, pusher, dispatcher, browseCache, coordinator.Config{
		PollInterval:         cfg.Sync.PollInterval,
		FailureThreshold:     cfg.Sync.FailureThreshold,
		ExcludedDevices:      cfg.Sync.ExcludedDevices,
		RequireRemoteControl: cfg.Sync.RequireRemoteControl,
		DebounceWindow:       cfg.Sync.DebounceWindow,
		PushEnabled:          cfg.Push.Enabled,
	})

	browser := library.NewBrowser(client, browseCache, cfg.Cache.TTL)
	apiServer := api.NewServer(api.NewHandler(coord, browser), cfg.HTTP.Host, cfg.HTTP.Port, cfg.HTTP.Timeout)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddSyncService(services.NewRunnerService("coordinator", coord))
	tree.AddSyncService(services.NewFuncService("library-watcher", func(ctx context.Context) {
		browser.WatchChanges(ctx, dispatcher)
	}))
	tree.AddAPIService(services.NewRunnerService("api-server", apiServer))

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}

	logging.Info().Msg("periscope stopped")
	return nil
}
