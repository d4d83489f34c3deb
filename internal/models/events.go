// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

package models

// EventType identifies an event fanned out to external observers.
type EventType string

const (
	EventSessionAdded    EventType = "added"
	EventSessionRemoved  EventType = "removed"
	EventPlaybackChanged EventType = "playbackChanged"
	EventLibraryChanged  EventType = "libraryChanged"
	EventNotification    EventType = "notification"
	EventUserDataChanged EventType = "userDataChanged"
)

// Event is one observer-facing event. Session is a read-only snapshot;
// observers must not mutate it.
type Event struct {
	Type      EventType      `json:"type"`
	DeviceKey string         `json:"device_key,omitempty"`
	Session   *RemoteSession `json:"session,omitempty"`

	// Library is set for libraryChanged events.
	Library *LibraryChange `json:"library,omitempty"`

	// Notification and UserData are forwarded verbatim for their
	// respective event types.
	Notification *Notification   `json:"notification,omitempty"`
	UserData     *UserDataChange `json:"user_data,omitempty"`
}
