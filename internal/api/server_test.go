// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/periscope/internal/cache"
	"github.com/tomtom215/periscope/internal/coordinator"
	"github.com/tomtom215/periscope/internal/dispatch"
	"github.com/tomtom215/periscope/internal/library"
	"github.com/tomtom215/periscope/internal/models"
)

// fakeClient serves a fixed session list and library page.
type fakeClient struct {
	mu       sync.Mutex
	sessions []models.ServerSession
	page     *models.LibraryPage
	fetches  int
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }

func (f *fakeClient) ListSessions(ctx context.Context) ([]models.ServerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ServerSession(nil), f.sessions...), nil
}

func (f *fakeClient) GetLibraryItems(ctx context.Context, containerID, cursor string) (*models.LibraryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.page, nil
}

func (f *fakeClient) SendCommand(ctx context.Context, sessionToken, command string, args map[string]string) error {
	return nil
}

func (f *fakeClient) WebSocketURL() (string, error) { return "ws://test/socket", nil }

func (f *fakeClient) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// newTestServer stands up the API over a coordinator that has already
// polled once.
func newTestServer(t *testing.T) (*httptest.Server, *fakeClient, context.CancelFunc) {
	t.Helper()

	client := &fakeClient{
		sessions: []models.ServerSession{
			{ID: "s1", DeviceID: "devA", DeviceName: "TV", SupportsRemoteControl: true, SupportedCommands: []string{"Play", "Pause"}},
			{ID: "s2", DeviceID: "devB", DeviceName: "Phone", SupportsRemoteControl: true, SupportedCommands: []string{"Play"}},
		},
		page: &models.LibraryPage{
			Items:      []models.LibraryItem{{ID: "i1", Name: "Movies", IsFolder: true}},
			TotalCount: 42,
		},
	}

	browseCache := cache.New(16, time.Minute)
	d := dispatch.New(16)
	coord := coordinator.New(client, nil, d, browseCache, coordinator.Config{
		PollInterval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = coord.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		d.Close()
	})

	// Wait for the initial poll to land.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(coord.Snapshot()) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	browser := library.NewBrowser(client, browseCache, time.Minute)
	srv := NewServer(NewHandler(coord, browser), "127.0.0.1", 0, 10*time.Second)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return ts, client, cancel
}

func getJSON(t *testing.T, url string) (int, *models.APIResponse) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, &body
}

func TestAPI_Sessions(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, body := getJSON(t, ts.URL+"/api/v1/sessions")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body.Metadata.Count != 2 {
		t.Errorf("expected 2 sessions, got %d", body.Metadata.Count)
	}
}

func TestAPI_SessionByDeviceKey(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, body := getJSON(t, ts.URL+"/api/v1/sessions/devA")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}

	raw, _ := json.Marshal(body.Data)
	var s models.RemoteSession
	_ = json.Unmarshal(raw, &s)
	if s.DeviceKey != "devA" || s.DisplayName != "TV" {
		t.Errorf("unexpected session payload: %+v", s)
	}

	status, body = getJSON(t, ts.URL+"/api/v1/sessions/ghost")
	if status != http.StatusNotFound {
		t.Errorf("expected 404 for unknown device, got %d", status)
	}
	if body.Error == nil || body.Error.Code != "SESSION_NOT_FOUND" {
		t.Errorf("expected SESSION_NOT_FOUND, got %+v", body.Error)
	}
}

func TestAPI_Command(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/sessions/devA/command", "application/json",
		strings.NewReader(`{"name": "Pause"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAPI_CommandValidation(t *testing.T) {
	ts, _, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"missing name", `{}`, http.StatusBadRequest},
		{"not json", `plain text`, http.StatusBadRequest},
		{"unsupported command", `{"name": "Stop"}`, http.StatusUnprocessableEntity},
	}

	for _, tc := range cases {
		resp, err := http.Post(ts.URL+"/api/v1/sessions/devA/command", "application/json",
			strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("%s: request failed: %v", tc.name, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, resp.StatusCode)
		}
	}
}

func TestAPI_LibraryServedFromCache(t *testing.T) {
	ts, client, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		status, body := getJSON(t, ts.URL+"/api/v1/library/lib1")
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if body.Metadata.Count != 1 {
			t.Errorf("expected 1 item, got %d", body.Metadata.Count)
		}
	}

	if n := client.fetchCount(); n != 1 {
		t.Errorf("expected a single upstream fetch for repeated reads, got %d", n)
	}
}

func TestAPI_Status(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, body := getJSON(t, ts.URL+"/api/v1/status")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}

	raw, _ := json.Marshal(body.Data)
	var st coordinator.Status
	_ = json.Unmarshal(raw, &st)
	if st.Sessions != 2 || !st.LastPollSuccess {
		t.Errorf("unexpected status payload: %+v", st)
	}
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	ts, _, _ := newTestServer(t)

	status, _ := getJSON(t, ts.URL+"/healthz")
	if status != http.StatusOK {
		t.Errorf("expected healthy, got %d", status)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected metrics endpoint up, got %d", resp.StatusCode)
	}
}
