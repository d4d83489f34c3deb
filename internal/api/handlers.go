// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/periscope/internal/coordinator"
	"github.com/tomtom215/periscope/internal/library"
	"github.com/tomtom215/periscope/internal/models"
	"github.com/tomtom215/periscope/internal/transport"
)

// Handler serves the local API from coordinator snapshots and the
// library browser. It never talks to the media server directly except
// through the browser's cached path and the coordinator's command path.
type Handler struct {
	coord   *coordinator.Coordinator
	browser *library.Browser
}

// NewHandler wires the API handler.
func NewHandler(coord *coordinator.Coordinator, browser *library.Browser) *Handler {
	return &Handler{coord: coord, browser: browser}
}

// Sessions returns all tracked sessions, stable-ordered by deviceKey.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	snap := h.coord.Snapshot()

	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*models.RemoteSession, 0, len(keys))
	for _, k := range keys {
		out = append(out, snap[k])
	}
	respondData(w, http.StatusOK, out, len(out))
}

// Session returns one session by deviceKey.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	deviceKey := chi.URLParam(r, "deviceKey")
	s, ok := h.coord.Get(deviceKey)
	if !ok {
		respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "no session for device key", nil)
		return
	}
	respondData(w, http.StatusOK, s, 1)
}

// Command delivers a remote control command to a tracked device.
func (h *Handler) Command(w http.ResponseWriter, r *http.Request) {
	deviceKey := chi.URLParam(r, "deviceKey")

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "MALFORMED_BODY", "request body is not valid JSON", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message+": "+apiErr.Details, nil)
		return
	}

	if _, ok := h.coord.Get(deviceKey); !ok {
		respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "no session for device key", nil)
		return
	}

	err := h.coord.SendCommand(r.Context(), deviceKey, req.Name, req.Arguments)
	switch {
	case err == nil:
		respondData(w, http.StatusOK, map[string]string{"device_key": deviceKey, "command": req.Name}, 1)
	case isUnsupportedCommand(err):
		respondError(w, http.StatusUnprocessableEntity, "COMMAND_UNSUPPORTED", err.Error(), nil)
	case transport.IsAuthRejected(err):
		respondError(w, http.StatusBadGateway, "AUTH_REJECTED", "server rejected credentials", err)
	case transport.IsUnavailable(err):
		respondError(w, http.StatusConflict, "SESSION_UNAVAILABLE", "device is not currently reachable", err)
	default:
		respondError(w, http.StatusInternalServerError, "COMMAND_FAILED", "command delivery failed", err)
	}
}

// Library returns one cached browse page of a container's children.
func (h *Handler) Library(w http.ResponseWriter, r *http.Request) {
	req := BrowseRequest{
		ContainerID: chi.URLParam(r, "containerID"),
		Cursor:      r.URL.Query().Get("cursor"),
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message+": "+apiErr.Details, nil)
		return
	}

	page, err := h.browser.Browse(r.Context(), req.ContainerID, req.Cursor)
	if err != nil {
		switch {
		case transport.IsAuthRejected(err):
			respondError(w, http.StatusBadGateway, "AUTH_REJECTED", "server rejected credentials", err)
		case transport.IsMalformed(err):
			respondError(w, http.StatusBadGateway, "MALFORMED_UPSTREAM", "server returned an unreadable page", err)
		default:
			respondError(w, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "server is unreachable", err)
		}
		return
	}
	respondData(w, http.StatusOK, page, len(page.Items))
}

// Status reports coordinator and connection health.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, h.coord.Status(), 0)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]string{"status": "ok"}, 0)
}

func isUnsupportedCommand(err error) bool {
	var uc *coordinator.UnsupportedCommandError
	return errors.As(err, &uc)
}
