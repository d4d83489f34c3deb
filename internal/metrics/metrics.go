// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

// Package metrics provides Prometheus instrumentation for Periscope:
// poll cycle outcomes, push connection lifecycle, content cache
// efficiency, and dispatcher delivery behavior.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poll path

	PollTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periscope_poll_cycles_total",
			Help: "Total number of session poll cycles by result",
		},
		[]string{"result"}, // "success", "unavailable", "malformed", "auth_rejected"
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "periscope_poll_duration_seconds",
			Help:    "Duration of session poll cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SessionsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "periscope_sessions_tracked",
			Help: "Number of sessions currently in the canonical state map",
		},
	)

	RecoveryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "periscope_recovery_attempts_total",
			Help: "Total number of recovery procedures triggered by the failure threshold",
		},
	)

	// Push connection

	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "periscope_push_connection_state",
			Help: "Push connection state (0=disconnected, 1=connecting, 2=authenticating, 3=connected)",
		},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "periscope_push_reconnects_total",
			Help: "Total number of push connection reconnect attempts",
		},
	)

	PushMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periscope_push_messages_total",
			Help: "Total number of push messages received by decoded type",
		},
		[]string{"type"},
	)

	// Content cache

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "periscope_cache_hits_total",
			Help: "Total number of content cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "periscope_cache_misses_total",
			Help: "Total number of content cache misses",
		},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periscope_cache_evictions_total",
			Help: "Total number of content cache evictions by cause",
		},
		[]string{"cause"}, // "capacity", "expired", "invalidated"
	)

	// Dispatcher

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periscope_events_published_total",
			Help: "Total number of events published to subscribers by type",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periscope_events_dropped_total",
			Help: "Total number of events dropped due to full subscriber queues",
		},
		[]string{"type"},
	)

	// Commands

	CommandsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "periscope_commands_sent_total",
			Help: "Total number of remote-control commands sent by result",
		},
		[]string{"result"}, // "ok", "error", "not_connected"
	)
)
