// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

// Package push owns the long-lived WebSocket connection to the media
// server's event stream: the authentication handshake, decoding of the
// closed push message set, and unlimited reconnection with exponential
// backoff. Decoded messages flow to a single sink channel in arrival
// order; messages missed while disconnected are not retransmitted. The
// coordinator's periodic poll is the compensating mechanism.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/periscope/internal/logging"
	"github.com/tomtom215/periscope/internal/metrics"
	"github.com/tomtom215/periscope/internal/models"
)

// ErrNotConnected is returned by Send while the connection is not in the
// Connected state. Callers must not block waiting for connectivity.
var ErrNotConnected = errors.New("push connection not established")

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateConnected

	// StateBackoff gates the Disconnected -> Connecting transition while
	// the reconnect delay elapses.
	StateBackoff
)

// String returns the state name for logs and the status API.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// URLProvider supplies the authenticated WebSocket endpoint. Implemented
// by transport.Client.
type URLProvider interface {
	WebSocketURL() (string, error)
}

// Config configures a Manager.
type Config struct {
	// Backoff parameters; see Backoff.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// StableReset is the sustained-connected duration after which the
	// attempt counter resets to zero.
	StableReset time.Duration

	// KeepAliveInterval is the keep-alive send period while connected.
	KeepAliveInterval time.Duration

	// ReadTimeout bounds a single socket read; a quiet connection past
	// this deadline is treated as dead. Defaults to 60s.
	ReadTimeout time.Duration

	// HandshakeTimeout bounds the WebSocket dial. Defaults to 10s.
	HandshakeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 60 * time.Second
	}
	if c.StableReset <= 0 {
		c.StableReset = 30 * time.Second
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// Manager owns one push connection. Start spawns the connect/read loop;
// Stop tears it down. Reconnection is automatic and unlimited between
// Start and Stop; the manager never gives up on transient failures.
// Credential rejection is the one exception: the loop stops and reports
// through OnAuthRejected rather than hot-looping against a 401.
type Manager struct {
	urls URLProvider
	cfg  Config

	conn   *websocket.Conn
	connMu sync.RWMutex

	stateMu sync.RWMutex
	state   State

	// OnAuthRejected, when set, is invoked once if the handshake is
	// rejected for credentials. Set before Start.
	OnAuthRejected func(error)

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	// reconnectNow wakes the backoff wait early; used by the
	// coordinator's recovery procedure.
	reconnectNow chan struct{}

	backoff Backoff
}

// NewManager creates a push connection manager. The sink and lifecycle
// are supplied to Start.
func NewManager(urls URLProvider, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		urls: urls,
		cfg:  cfg,
		backoff: Backoff{
			Base: cfg.BackoffBase,
			Cap:  cfg.BackoffCap,
		},
		reconnectNow: make(chan struct{}, 1),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()

	if s <= StateConnected {
		metrics.ConnectionState.Set(float64(s))
	} else {
		metrics.ConnectionState.Set(float64(StateDisconnected))
	}
}

// Start opens the connection and begins delivering decoded messages to
// sink in arrival order. Connection failures do not propagate to the
// caller; they feed the reconnection policy. Idempotent while running.
func (m *Manager) Start(ctx context.Context, sink chan<- models.Message) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, sink)
	return nil
}

// Stop closes the connection and ceases reconnecting. Idempotent and
// safe to call even if Start never completed.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	m.closeConnection()
	m.wg.Wait()
	m.setState(StateDisconnected)
	logging.Info().Msg("push connection manager stopped")
}

// ForceReconnect drops the current connection (if any) and retries
// immediately, skipping any pending backoff wait. Part of the
// coordinator's recovery procedure.
func (m *Manager) ForceReconnect() {
	m.closeConnection()
	select {
	case m.reconnectNow <- struct{}{}:
	default:
	}
}

// Send delivers a command frame over the push connection. Valid only
// while Connected; otherwise fails fast with ErrNotConnected.
func (m *Manager) Send(msg any) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.conn == nil || m.State() != StateConnected {
		return ErrNotConnected
	}
	return m.conn.WriteJSON(msg)
}

// run is the connect/read loop: connect, authenticate, read until the
// connection dies, back off, repeat.
func (m *Manager) run(ctx context.Context, sink chan<- models.Message) {
	defer m.wg.Done()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		default:
		}

		if attempt > 0 {
			metrics.Reconnects.Inc()
			delay := m.backoff.Delay(attempt - 1)
			m.setState(StateBackoff)
			logging.Info().Dur("delay", delay).Int("attempt", attempt).Msg("push reconnect backoff")

			select {
			case <-time.After(delay):
			case <-m.reconnectNow:
			case <-ctx.Done():
				return
			case <-m.stopChan:
				return
			}
		}
		attempt++

		conn, err := m.connect(ctx)
		if err != nil {
			if errors.Is(err, errAuthRejected) {
				m.setState(StateDisconnected)
				logging.Error().Err(err).Msg("push handshake rejected, stopping reconnect loop")
				if m.OnAuthRejected != nil {
					m.OnAuthRejected(err)
				}
				return
			}
			m.setState(StateDisconnected)
			logging.Warn().Err(err).Msg("push connection failed")
			continue
		}

		m.setConn(conn)
		m.setState(StateConnected)
		connectedAt := time.Now()
		logging.Info().Msg("push connection established")

		keepAliveDone := make(chan struct{})
		m.wg.Add(1)
		go m.keepAliveLoop(ctx, keepAliveDone)

		m.readLoop(ctx, sink)

		close(keepAliveDone)
		m.closeConnection()
		m.setState(StateDisconnected)

		// A connection that held for the stability window earns a fresh
		// backoff schedule.
		if time.Since(connectedAt) >= m.cfg.StableReset {
			attempt = 1
		}
	}
}

// errAuthRejected marks a handshake refused for credentials.
var errAuthRejected = errors.New("push authentication rejected")

// connect dials the endpoint and performs the handshake: the token rides
// in the URL, and the session subscription request doubles as the first
// authenticated write.
func (m *Manager) connect(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := m.urls.WebSocketURL()
	if err != nil {
		return nil, fmt.Errorf("websocket url: %w", err)
	}

	m.setState(StateConnecting)

	dialer := websocket.Dialer{
		HandshakeTimeout:  m.cfg.HandshakeTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("%w: status %d", errAuthRejected, resp.StatusCode)
			}
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	m.setState(StateAuthenticating)

	// Subscribe to session updates: initial data immediately, then
	// server-side coalescing at 1500ms.
	sub := models.Envelope{MessageType: string(models.KindSessions) + "Start", Data: json.RawMessage(`"0,1500"`)}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("session subscribe failed: %w", err)
	}

	return conn, nil
}

// readLoop reads frames until the connection errors or the manager
// stops. Every decoded message is forwarded in arrival order; unknown
// tags are logged and dropped here, never fatal.
func (m *Manager) readLoop(ctx context.Context, sink chan<- models.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		default:
		}

		conn := m.getConn()
		if conn == nil {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout)); err != nil {
			logging.Warn().Err(err).Msg("failed to set read deadline")
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info().Msg("push connection closed by server")
			} else if ctx.Err() == nil {
				logging.Warn().Err(err).Msg("push read error")
			}
			return
		}

		msg, err := models.DecodeMessage(data)
		if err != nil {
			// Malformed frame: skip this message, keep the connection.
			logging.Warn().Err(err).Msg("dropping undecodable push frame")
			continue
		}

		metrics.PushMessages.WithLabelValues(string(msg.Kind)).Inc()

		switch msg.Kind {
		case models.KindKeepAlive:
			// Acknowledgment, nothing to do.
			continue
		case models.KindForceKeepAlive:
			if err := m.Send(models.Envelope{MessageType: string(models.KindKeepAlive)}); err != nil {
				logging.Warn().Err(err).Msg("keep-alive response failed")
			}
			continue
		case models.KindUnknown:
			logging.Debug().Str("type", msg.Tag).Msg("unknown push message type")
			continue
		}

		select {
		case sink <- msg:
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		}
	}
}

// keepAliveLoop sends periodic keep-alive frames while the connection is
// up. Exits when the connection is torn down.
func (m *Manager) keepAliveLoop(ctx context.Context, done <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-done:
			return
		case <-ticker.C:
			if err := m.Send(models.Envelope{MessageType: string(models.KindKeepAlive)}); err != nil {
				if !errors.Is(err, ErrNotConnected) {
					logging.Warn().Err(err).Msg("keep-alive send failed")
					m.closeConnection()
				}
				return
			}
		}
	}
}

func (m *Manager) getConn() *websocket.Conn {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.conn
}

func (m *Manager) setConn(conn *websocket.Conn) {
	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()
}

// closeConnection safely closes the WebSocket connection.
func (m *Manager) closeConnection() {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.conn == nil {
		return
	}

	if err := m.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		logging.Debug().Err(err).Msg("failed to send close message")
	}

	if err := m.conn.Close(); err != nil {
		logging.Debug().Err(err).Msg("failed to close connection")
	}
	m.conn = nil
}
