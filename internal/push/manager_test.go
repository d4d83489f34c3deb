// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

package push

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/periscope/internal/models"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// staticURL satisfies URLProvider with a fixed endpoint.
type staticURL string

func (s staticURL) WebSocketURL() (string, error) { return string(s), nil }

func wsURL(srv *httptest.Server) staticURL {
	return staticURL("ws" + strings.TrimPrefix(srv.URL, "http") + "/socket")
}

func fastConfig() Config {
	return Config{
		BackoffBase:       10 * time.Millisecond,
		BackoffCap:        50 * time.Millisecond,
		StableReset:       time.Hour,
		KeepAliveInterval: time.Hour,
		ReadTimeout:       5 * time.Second,
		HandshakeTimeout:  time.Second,
	}
}

// echoServer upgrades, consumes the subscribe frame, then runs fn.
func echoServer(t *testing.T, fn func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		var sub models.Envelope
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		if sub.MessageType != "SessionsStart" {
			t.Errorf("expected SessionsStart subscribe, got %s", sub.MessageType)
		}
		fn(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func recvMessage(t *testing.T, sink <-chan models.Message) models.Message {
	t.Helper()
	select {
	case msg := <-sink:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push message")
		return models.Message{}
	}
}

func TestManager_DeliversDecodedMessages(t *testing.T) {
	srv := echoServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{
			"MessageType": "SessionEnded",
			"Data": {"SessionId": "s1", "DeviceId": "d1"}
		}`))
		time.Sleep(200 * time.Millisecond)
	})

	m := NewManager(wsURL(srv), fastConfig())
	sink := make(chan models.Message, 8)
	if err := m.Start(context.Background(), sink); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer m.Stop()

	msg := recvMessage(t, sink)
	if msg.Kind != models.KindSessionEnded {
		t.Errorf("expected SessionEnded, got %s", msg.Kind)
	}
	if msg.Ended.DeviceID != "d1" {
		t.Errorf("expected d1, got %s", msg.Ended.DeviceID)
	}
}

func TestManager_UnknownAndKeepAliveNotDelivered(t *testing.T) {
	srv := echoServer(t, func(conn *websocket.Conn) {
		frames := []string{
			`{"MessageType": "KeepAlive"}`,
			`{"MessageType": "SomethingNew", "Data": {"x": 1}}`,
			`{"MessageType": "SessionEnded", "Data": {"SessionId": "s1", "DeviceId": "d1"}}`,
		}
		for _, f := range frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		time.Sleep(200 * time.Millisecond)
	})

	m := NewManager(wsURL(srv), fastConfig())
	sink := make(chan models.Message, 8)
	_ = m.Start(context.Background(), sink)
	defer m.Stop()

	// Only the real event reaches the sink; keep-alives and unknown tags
	// are handled at the connection boundary.
	msg := recvMessage(t, sink)
	if msg.Kind != models.KindSessionEnded {
		t.Errorf("expected SessionEnded as first delivered message, got %s", msg.Kind)
	}
}

func TestManager_RespondsToForceKeepAlive(t *testing.T) {
	replied := make(chan string, 1)
	srv := echoServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"MessageType": "ForceKeepAlive"}`))

		var env models.Envelope
		if err := conn.ReadJSON(&env); err == nil {
			replied <- env.MessageType
		}
	})

	m := NewManager(wsURL(srv), fastConfig())
	sink := make(chan models.Message, 8)
	_ = m.Start(context.Background(), sink)
	defer m.Stop()

	select {
	case got := <-replied:
		if got != "KeepAlive" {
			t.Errorf("expected KeepAlive reply, got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no keep-alive reply received")
	}
}

func TestManager_ReconnectsAfterDrop(t *testing.T) {
	var connections atomic.Int32
	srv := echoServer(t, func(conn *websocket.Conn) {
		n := connections.Add(1)
		if n == 1 {
			// Drop the first connection immediately.
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"MessageType": "SessionEnded", "Data": {"SessionId": "s1", "DeviceId": "d1"}}`))
		time.Sleep(200 * time.Millisecond)
	})

	m := NewManager(wsURL(srv), fastConfig())
	sink := make(chan models.Message, 8)
	_ = m.Start(context.Background(), sink)
	defer m.Stop()

	msg := recvMessage(t, sink)
	if msg.Kind != models.KindSessionEnded {
		t.Errorf("expected message after reconnect, got %s", msg.Kind)
	}
	if connections.Load() < 2 {
		t.Errorf("expected at least 2 connections, got %d", connections.Load())
	}
}

func TestManager_StableConnectionResetsBackoff(t *testing.T) {
	var mu sync.Mutex
	var connectedAt []time.Time
	srv := echoServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		connectedAt = append(connectedAt, time.Now())
		n := len(connectedAt)
		mu.Unlock()
		if n >= 6 {
			time.Sleep(time.Second)
			return
		}
		// Hold past the stability window, then drop.
		time.Sleep(50 * time.Millisecond)
	})

	cfg := fastConfig()
	cfg.BackoffBase = 60 * time.Millisecond
	cfg.BackoffCap = 600 * time.Millisecond
	cfg.StableReset = 20 * time.Millisecond

	m := NewManager(wsURL(srv), cfg)
	sink := make(chan models.Message, 8)
	_ = m.Start(context.Background(), sink)
	defer m.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(connectedAt)
		mu.Unlock()
		if n >= 6 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 6 connections before deadline, got %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Each connection outlived StableReset, so every reconnect waits only
	// the base delay. Without the reset the attempt counter keeps growing
	// and the later gaps alone would exceed 300ms.
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < 6; i++ {
		gap := connectedAt[i].Sub(connectedAt[i-1])
		if gap > 250*time.Millisecond {
			t.Errorf("reconnect gap %d = %v, backoff schedule was not reset", i, gap)
		}
	}
}

func TestManager_AuthRejectedStopsReconnecting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	rejected := make(chan error, 1)
	m := NewManager(wsURL(srv), fastConfig())
	m.OnAuthRejected = func(err error) { rejected <- err }

	sink := make(chan models.Message, 8)
	_ = m.Start(context.Background(), sink)
	defer m.Stop()

	select {
	case err := <-rejected:
		if err == nil {
			t.Error("expected rejection error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("auth rejection never surfaced")
	}

	if m.State() != StateDisconnected {
		t.Errorf("expected disconnected after credential rejection, got %s", m.State())
	}
}

func TestManager_SendRequiresConnection(t *testing.T) {
	m := NewManager(staticURL("ws://127.0.0.1:1/socket"), fastConfig())

	err := m.Send(models.Envelope{MessageType: "KeepAlive"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestManager_StopIsIdempotent(t *testing.T) {
	srv := echoServer(t, func(conn *websocket.Conn) {
		time.Sleep(100 * time.Millisecond)
	})

	m := NewManager(wsURL(srv), fastConfig())
	sink := make(chan models.Message, 8)
	_ = m.Start(context.Background(), sink)

	m.Stop()
	m.Stop()

	// Stop before Start is also safe.
	fresh := NewManager(wsURL(srv), fastConfig())
	fresh.Stop()
}

func TestManager_StartIsIdempotent(t *testing.T) {
	srv := echoServer(t, func(conn *websocket.Conn) {
		time.Sleep(200 * time.Millisecond)
	})

	m := NewManager(wsURL(srv), fastConfig())
	sink := make(chan models.Message, 8)
	_ = m.Start(context.Background(), sink)
	if err := m.Start(context.Background(), sink); err != nil {
		t.Errorf("second start must be a no-op, got %v", err)
	}
	m.Stop()
}

// Guard against accidental envelope shape drift: the subscribe frame
// must round-trip through the same decoder the server uses.
func TestManager_SubscribeFrameShape(t *testing.T) {
	sub := models.Envelope{MessageType: "SessionsStart", Data: json.RawMessage(`"0,1500"`)}
	data, err := json.Marshal(sub)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded models.Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.MessageType != "SessionsStart" || string(decoded.Data) != `"0,1500"` {
		t.Errorf("unexpected round trip: %+v", decoded)
	}
}
