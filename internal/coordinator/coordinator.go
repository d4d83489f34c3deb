// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

// Package coordinator is the reconciliation authority. It owns the
// canonical deviceKey -> session map, drives the periodic poll, ingests
// push messages, applies the failure and recovery policy, and publishes
// typed events to observers.
//
// Reconciliation rules: the poll is the sole authority for which
// sessions exist; push events are authoritative only for the freshness
// of sessions the poll has already admitted. A failed poll never clears
// the map.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/periscope/internal/cache"
	"github.com/tomtom215/periscope/internal/dispatch"
	"github.com/tomtom215/periscope/internal/logging"
	"github.com/tomtom215/periscope/internal/metrics"
	"github.com/tomtom215/periscope/internal/models"
	"github.com/tomtom215/periscope/internal/push"
	"github.com/tomtom215/periscope/internal/transport"
)

// Pusher is the slice of the push manager the coordinator drives.
type Pusher interface {
	Start(ctx context.Context, sink chan<- models.Message) error
	Stop()
	ForceReconnect()
	State() push.State
}

// Config carries the reconciliation policy knobs.
type Config struct {
	// PollInterval is the period of the session poll.
	PollInterval time.Duration

	// FailureThreshold is the consecutive poll failure count that
	// triggers the recovery procedure. Triggered once per crossing, not
	// once per failure.
	FailureThreshold int

	// ExcludedDevices lists deviceKeys never admitted to the map.
	ExcludedDevices []string

	// RequireRemoteControl drops sessions that do not accept remote
	// control commands. Such clients are visible on the server but
	// cannot be acted on, so by default they are not tracked.
	RequireRemoteControl bool

	// DebounceWindow coalesces bursts of library change events into one
	// downstream refresh.
	DebounceWindow time.Duration

	// PushEnabled gates the push connection. Polling alone still keeps
	// the map correct, just with poll-interval latency.
	PushEnabled bool
}

// Status is a point-in-time operational summary for the read API.
type Status struct {
	Sessions            int        `json:"sessions"`
	AvailableSessions   int        `json:"available_sessions"`
	ConnectionState     string     `json:"connection_state"`
	LastPollAt          *time.Time `json:"last_poll_at,omitempty"`
	LastPollSuccess     bool       `json:"last_poll_success"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	AuthRejected        bool       `json:"auth_rejected"`
}

// Coordinator merges poll snapshots and push events into the canonical
// session map. All map writes serialize through one mutex; readers get
// deep-copied snapshots.
type Coordinator struct {
	client     transport.Client
	pusher     Pusher
	dispatcher *dispatch.Dispatcher
	browse     *cache.Cache
	cfg        Config

	mu       sync.RWMutex
	sessions map[string]*models.RemoteSession

	excluded map[string]struct{}

	failMu       sync.Mutex
	failures     int
	recoveryDone bool
	lastPollAt   time.Time
	lastPollOK   bool
	authRejected bool

	libMu      sync.Mutex
	libPending models.LibraryChange
	debounce   *debouncer

	sink     chan models.Message
	stopOnce sync.Once
	stopped  chan struct{}
}

// New wires a Coordinator. The cache may be nil when library browsing
// is disabled; library change events then fall through to dispatch only.
func New(client transport.Client, pusher Pusher, dispatcher *dispatch.Dispatcher, browse *cache.Cache, cfg Config) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 5 * time.Second
	}

	excluded := make(map[string]struct{}, len(cfg.ExcludedDevices))
	for _, k := range cfg.ExcludedDevices {
		excluded[k] = struct{}{}
	}

	c := &Coordinator{
		client:     client,
		pusher:     pusher,
		dispatcher: dispatcher,
		browse:     browse,
		cfg:        cfg,
		sessions:   make(map[string]*models.RemoteSession),
		excluded:   excluded,
		sink:       make(chan models.Message, 64),
		stopped:    make(chan struct{}),
	}
	c.debounce = newDebouncer(cfg.DebounceWindow, c.flushLibraryChange)
	return c
}

// Run polls until the context is cancelled. It starts the push
// connection, feeds its messages through the reconciliation path, and
// tears everything down on exit. Blocks; intended to run under a
// supervisor.
func (c *Coordinator) Run(ctx context.Context) error {
	logging.Info().
		Dur("poll_interval", c.cfg.PollInterval).
		Int("failure_threshold", c.cfg.FailureThreshold).
		Bool("push_enabled", c.cfg.PushEnabled).
		Msg("coordinator starting")

	if c.cfg.PushEnabled && c.pusher != nil {
		if err := c.pusher.Start(ctx, c.sink); err != nil {
			logging.Warn().Err(err).Msg("push start failed, continuing on polling alone")
		}
	}
	defer c.shutdown()

	c.pollOnce(ctx)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopped:
			return nil
		case <-ticker.C:
			if c.isAuthRejected() {
				// Credentials are invalid until reconfigured. Hot-looping
				// against a 401 helps no one.
				continue
			}
			c.pollOnce(ctx)
		case msg := <-c.sink:
			c.applyMessage(msg)
		}
	}
}

// Stop ends Run and releases resources. Idempotent; safe even if Run
// was never called.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

func (c *Coordinator) shutdown() {
	c.debounce.cancel()
	if c.cfg.PushEnabled && c.pusher != nil {
		c.pusher.Stop()
	}
	logging.Info().Msg("coordinator stopped")
}

// pollOnce runs one poll cycle: list, filter, diff, replace.
func (c *Coordinator) pollOnce(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollInterval)
	defer cancel()

	start := time.Now()
	raw, err := c.client.ListSessions(pollCtx)
	metrics.PollDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		c.handlePollFailure(ctx, err)
		return
	}

	next := make(map[string]*models.RemoteSession, len(raw))
	for i := range raw {
		s := raw[i].ToRemoteSession()
		if s.DeviceKey == "" {
			logging.Debug().Str("session_token", s.SessionToken).Msg("session without device id skipped")
			continue
		}
		if _, skip := c.excluded[s.DeviceKey]; skip {
			continue
		}
		if c.cfg.RequireRemoteControl && !raw[i].SupportsRemoteControl {
			continue
		}
		next[s.DeviceKey] = s
	}

	added, removed := c.replace(next)

	c.failMu.Lock()
	c.failures = 0
	c.recoveryDone = false
	c.lastPollAt = time.Now()
	c.lastPollOK = true
	c.failMu.Unlock()

	metrics.PollTotal.WithLabelValues("success").Inc()
	metrics.SessionsTracked.Set(float64(len(next)))

	for _, s := range added {
		logging.Info().
			Str("device_key", s.DeviceKey).
			Str("display_name", s.DisplayName).
			Str("client", s.ClientApplication).
			Msg("session added")
		c.dispatcher.Publish(models.Event{Type: models.EventSessionAdded, DeviceKey: s.DeviceKey, Session: s})
	}
	for _, s := range removed {
		logging.Info().Str("device_key", s.DeviceKey).Msg("session removed")
		c.dispatcher.Publish(models.Event{Type: models.EventSessionRemoved, DeviceKey: s.DeviceKey, Session: s})
	}
}

// replace swaps the canonical map wholesale and reports the key diff.
// A key that disappears is retained as an unavailable tombstone so a
// device reconnecting under the same deviceKey does not churn external
// representations.
func (c *Coordinator) replace(next map[string]*models.RemoteSession) (added, removed []*models.RemoteSession) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, s := range next {
		prev, ok := c.sessions[key]
		if !ok || !prev.Available {
			added = append(added, s.Clone())
		}
	}
	for key, prev := range c.sessions {
		if _, ok := next[key]; !ok && prev.Available {
			gone := prev.Clone()
			gone.Available = false
			next[key] = gone
			removed = append(removed, gone.Clone())
		}
	}

	c.sessions = next
	return added, removed
}

func (c *Coordinator) handlePollFailure(ctx context.Context, err error) {
	if transport.IsAuthRejected(err) {
		c.failMu.Lock()
		c.authRejected = true
		c.lastPollAt = time.Now()
		c.lastPollOK = false
		c.failMu.Unlock()
		metrics.PollTotal.WithLabelValues("auth_rejected").Inc()
		logging.Error().Err(err).Msg("server rejected credentials, polling paused until reconfigured")
		return
	}

	result := "unavailable"
	if transport.IsMalformed(err) {
		result = "malformed"
	}
	metrics.PollTotal.WithLabelValues(result).Inc()

	c.failMu.Lock()
	c.failures++
	failures := c.failures
	trigger := failures >= c.cfg.FailureThreshold && !c.recoveryDone
	if trigger {
		c.recoveryDone = true
	}
	c.lastPollAt = time.Now()
	c.lastPollOK = false
	c.failMu.Unlock()

	logging.Warn().Err(err).Int("consecutive_failures", failures).Msg("session poll failed, keeping last known state")

	if trigger {
		metrics.RecoveryAttempts.Inc()
		logging.Warn().Int("threshold", c.cfg.FailureThreshold).Msg("failure threshold crossed, starting recovery")
		go c.recover(ctx)
	}
}

// recover forces a push reconnect and probes basic connectivity. Runs
// off the poll path so the next scheduled poll is never delayed.
func (c *Coordinator) recover(ctx context.Context) {
	if c.cfg.PushEnabled && c.pusher != nil {
		c.pusher.ForceReconnect()
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.client.Ping(probeCtx); err != nil {
		logging.Warn().Err(err).Msg("recovery probe failed, server still unreachable")
		return
	}
	logging.Info().Msg("recovery probe succeeded")
}

// applyMessage routes one decoded push message through the
// reconciliation path.
func (c *Coordinator) applyMessage(msg models.Message) {
	switch msg.Kind {
	case models.KindSessions:
		c.patchSessions(msg.Sessions)
	case models.KindPlaybackProgress:
		c.patchProgress(msg.Progress)
	case models.KindSessionEnded:
		c.endSession(msg.Ended)
	case models.KindLibraryChanged:
		c.onLibraryChanged(msg.Library)
	case models.KindUserDataChanged:
		c.dispatcher.Publish(models.Event{Type: models.EventUserDataChanged, UserData: msg.UserData})
	case models.KindNotification:
		c.dispatcher.Publish(models.Event{Type: models.EventNotification, Notification: msg.Notification})
	case models.KindServerRestarting, models.KindServerShutdown:
		logging.Warn().Str("type", msg.Tag).Msg("server lifecycle message received")
	default:
		logging.Debug().Str("type", msg.Tag).Msg("push message ignored")
	}
}

// patchSessions refreshes entries the map already contains. Keys absent
// from the map, and keys marked unavailable, are left for the next poll:
// push data never creates or revives an entry, so a device only comes
// back through the poll path, which fires the added event observers
// rely on.
func (c *Coordinator) patchSessions(raw []models.ServerSession) {
	var touched []*models.RemoteSession

	c.mu.Lock()
	for i := range raw {
		s := raw[i].ToRemoteSession()
		prev, ok := c.sessions[s.DeviceKey]
		if !ok || !prev.Available {
			continue
		}
		s.Available = true
		c.sessions[s.DeviceKey] = s
		touched = append(touched, s.Clone())
	}
	c.mu.Unlock()

	for _, s := range touched {
		c.dispatcher.Publish(models.Event{Type: models.EventPlaybackChanged, DeviceKey: s.DeviceKey, Session: s})
	}
}

// patchProgress applies a playback progress delta to one entry. An
// unknown key lost the race with the initial poll and is safe to drop.
func (c *Coordinator) patchProgress(p *models.PlaybackProgress) {
	if p == nil {
		return
	}

	c.mu.Lock()
	s, ok := c.findLocked(p.DeviceID, p.SessionID)
	if !ok || !s.Available {
		c.mu.Unlock()
		logging.Debug().Str("device_id", p.DeviceID).Msg("progress for untracked session dropped")
		return
	}
	if s.Playback == nil {
		s.Playback = &models.PlaybackState{}
	}
	s.Playback.Position = time.Duration(p.PositionTicks) * 100 * time.Nanosecond
	s.Playback.Paused = p.IsPaused
	s.Playback.Muted = p.IsMuted
	if p.VolumeLevel != nil {
		s.Playback.Volume = float64(*p.VolumeLevel) / 100.0
	}
	s.LastActivityAt = time.Now().UTC()
	snap := s.Clone()
	c.mu.Unlock()

	c.dispatcher.Publish(models.Event{Type: models.EventPlaybackChanged, DeviceKey: snap.DeviceKey, Session: snap})
}

// endSession marks an entry unavailable ahead of the next poll. Push can
// remove faster than polling; it still never adds.
func (c *Coordinator) endSession(e *models.SessionEnded) {
	if e == nil {
		return
	}

	c.mu.Lock()
	s, ok := c.findLocked(e.DeviceID, e.SessionID)
	if !ok || !s.Available {
		c.mu.Unlock()
		return
	}
	s.Available = false
	s.NowPlaying = nil
	s.Playback = nil
	snap := s.Clone()
	c.mu.Unlock()

	logging.Info().Str("device_key", snap.DeviceKey).Msg("session ended")
	c.dispatcher.Publish(models.Event{Type: models.EventSessionRemoved, DeviceKey: snap.DeviceKey, Session: snap})
}

// findLocked resolves a session by deviceKey, falling back to the
// ephemeral token when the frame omits the device id. Caller holds mu.
func (c *Coordinator) findLocked(deviceKey, sessionToken string) (*models.RemoteSession, bool) {
	if deviceKey != "" {
		s, ok := c.sessions[deviceKey]
		return s, ok
	}
	for _, s := range c.sessions {
		if s.SessionToken == sessionToken {
			return s, true
		}
	}
	return nil, false
}

// onLibraryChanged invalidates affected browse cache entries right away
// and coalesces the observer-facing event behind the debounce window.
func (c *Coordinator) onLibraryChanged(change *models.LibraryChange) {
	if change == nil {
		change = &models.LibraryChange{}
	}

	if c.browse != nil {
		containers := change.AffectedContainers()
		if len(containers) == 0 {
			c.browse.InvalidateAll()
		} else {
			for _, id := range containers {
				c.browse.InvalidateContainer(id)
			}
		}
	}

	c.libMu.Lock()
	c.libPending.FoldersAddedTo = append(c.libPending.FoldersAddedTo, change.FoldersAddedTo...)
	c.libPending.FoldersRemovedFrom = append(c.libPending.FoldersRemovedFrom, change.FoldersRemovedFrom...)
	c.libPending.ItemsAdded = append(c.libPending.ItemsAdded, change.ItemsAdded...)
	c.libPending.ItemsRemoved = append(c.libPending.ItemsRemoved, change.ItemsRemoved...)
	c.libPending.ItemsUpdated = append(c.libPending.ItemsUpdated, change.ItemsUpdated...)
	c.libMu.Unlock()

	c.debounce.trigger()
}

// flushLibraryChange publishes the merged change set accumulated during
// the debounce window.
func (c *Coordinator) flushLibraryChange() {
	c.libMu.Lock()
	merged := c.libPending
	c.libPending = models.LibraryChange{}
	c.libMu.Unlock()

	c.dispatcher.Publish(models.Event{Type: models.EventLibraryChanged, Library: &merged})
}

// Snapshot returns a deep copy of the canonical map.
func (c *Coordinator) Snapshot() map[string]*models.RemoteSession {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]*models.RemoteSession, len(c.sessions))
	for k, s := range c.sessions {
		out[k] = s.Clone()
	}
	return out
}

// Get returns a copy of one session by deviceKey.
func (c *Coordinator) Get(deviceKey string) (*models.RemoteSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.sessions[deviceKey]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// SendCommand delivers a remote control command to a tracked device.
// The stable deviceKey is resolved to the current ephemeral token here,
// so callers never handle tokens.
func (c *Coordinator) SendCommand(ctx context.Context, deviceKey, command string, args map[string]string) error {
	c.mu.RLock()
	s, ok := c.sessions[deviceKey]
	var token string
	var available, supported bool
	if ok {
		token = s.SessionToken
		available = s.Available
		supported = s.SupportsCommand(command)
	}
	c.mu.RUnlock()

	if !ok || !available {
		metrics.CommandsSent.WithLabelValues("not_connected").Inc()
		return transport.ErrUnavailable
	}
	if !supported {
		metrics.CommandsSent.WithLabelValues("error").Inc()
		return &UnsupportedCommandError{DeviceKey: deviceKey, Command: command}
	}

	if err := c.client.SendCommand(ctx, token, command, args); err != nil {
		metrics.CommandsSent.WithLabelValues("error").Inc()
		return err
	}
	metrics.CommandsSent.WithLabelValues("ok").Inc()
	return nil
}

// Status reports the coordinator's operational state.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	total := len(c.sessions)
	avail := 0
	for _, s := range c.sessions {
		if s.Available {
			avail++
		}
	}
	c.mu.RUnlock()

	c.failMu.Lock()
	st := Status{
		Sessions:            total,
		AvailableSessions:   avail,
		LastPollSuccess:     c.lastPollOK,
		ConsecutiveFailures: c.failures,
		AuthRejected:        c.authRejected,
	}
	if !c.lastPollAt.IsZero() {
		t := c.lastPollAt
		st.LastPollAt = &t
	}
	c.failMu.Unlock()

	if c.cfg.PushEnabled && c.pusher != nil {
		st.ConnectionState = c.pusher.State().String()
	} else {
		st.ConnectionState = "disabled"
	}
	return st
}

func (c *Coordinator) isAuthRejected() bool {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.authRejected
}
