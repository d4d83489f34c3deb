// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Envelope is the framing of every push message: a type tag plus an
// opaque payload decoded according to the tag.
type Envelope struct {
	MessageType string          `json:"MessageType"`
	MessageID   string          `json:"MessageId,omitempty"`
	Data        json.RawMessage `json:"Data,omitempty"`
}

// MessageKind identifies one of the closed set of push message types.
type MessageKind string

const (
	KindSessions         MessageKind = "Sessions"
	KindPlaybackProgress MessageKind = "PlaybackProgress"
	KindSessionEnded     MessageKind = "SessionEnded"
	KindLibraryChanged   MessageKind = "LibraryChanged"
	KindUserDataChanged  MessageKind = "UserDataChanged"
	KindNotification     MessageKind = "Notification"
	KindServerRestarting MessageKind = "ServerRestarting"
	KindServerShutdown   MessageKind = "ServerShuttingDown"
	KindKeepAlive        MessageKind = "KeepAlive"
	KindForceKeepAlive   MessageKind = "ForceKeepAlive"

	// KindUnknown marks tags outside the closed set. Unknown messages are
	// logged and dropped at the connection boundary, never propagated.
	KindUnknown MessageKind = "Unknown"
)

// PlaybackProgress is the payload of a playback-progress message.
type PlaybackProgress struct {
	SessionID     string `json:"SessionId"`
	DeviceID      string `json:"DeviceId"`
	PositionTicks int64  `json:"PositionTicks"`
	IsPaused      bool   `json:"IsPaused"`
	IsMuted       bool   `json:"IsMuted"`
	VolumeLevel   *int   `json:"VolumeLevel,omitempty"`
}

// SessionEnded is the payload of a session-ended message.
type SessionEnded struct {
	SessionID string `json:"SessionId"`
	DeviceID  string `json:"DeviceId"`
}

// LibraryChange is the payload of a library-changed message. The folder
// lists identify affected containers; empty lists mean the scope of the
// change is unknown.
type LibraryChange struct {
	FoldersAddedTo     []string `json:"FoldersAddedTo,omitempty"`
	FoldersRemovedFrom []string `json:"FoldersRemovedFrom,omitempty"`
	ItemsAdded         []string `json:"ItemsAdded,omitempty"`
	ItemsRemoved       []string `json:"ItemsRemoved,omitempty"`
	ItemsUpdated       []string `json:"ItemsUpdated,omitempty"`
}

// AffectedContainers returns the union of containers named by the change.
func (lc *LibraryChange) AffectedContainers() []string {
	out := make([]string, 0, len(lc.FoldersAddedTo)+len(lc.FoldersRemovedFrom))
	out = append(out, lc.FoldersAddedTo...)
	out = append(out, lc.FoldersRemovedFrom...)
	return out
}

// UserDataChange is the payload of a user-data-changed message. The body
// is forwarded verbatim to subscribers; only UserId is lifted out.
type UserDataChange struct {
	UserID string          `json:"UserId"`
	Raw    json.RawMessage `json:"-"`
}

// Notification is the payload of a server notification message, forwarded
// verbatim to subscribers.
type Notification struct {
	Name string          `json:"Name"`
	Raw  json.RawMessage `json:"-"`
}

// Message is the decoded form of a push envelope. Exactly the payload
// field matching Kind is non-nil; everything else is zero.
type Message struct {
	Kind      MessageKind
	MessageID string

	// Tag is the wire type tag as received, preserved for logging when
	// Kind is KindUnknown.
	Tag string

	Sessions     []ServerSession
	Progress     *PlaybackProgress
	Ended        *SessionEnded
	Library      *LibraryChange
	UserData     *UserDataChange
	Notification *Notification

	// Raw carries the original payload for unknown tags so callers can
	// log it before dropping the message.
	Raw json.RawMessage
}

// DecodeMessage parses one push frame into a typed Message. A malformed
// payload for a known tag is an error; an unknown tag is not an error and
// yields a KindUnknown message instead.
func DecodeMessage(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("malformed push frame: %w", err)
	}

	msg := Message{Kind: MessageKind(env.MessageType), MessageID: env.MessageID, Tag: env.MessageType}

	switch msg.Kind {
	case KindSessions:
		if err := json.Unmarshal(env.Data, &msg.Sessions); err != nil {
			return Message{}, fmt.Errorf("malformed %s payload: %w", env.MessageType, err)
		}
	case KindPlaybackProgress:
		msg.Progress = &PlaybackProgress{}
		if err := json.Unmarshal(env.Data, msg.Progress); err != nil {
			return Message{}, fmt.Errorf("malformed %s payload: %w", env.MessageType, err)
		}
	case KindSessionEnded:
		msg.Ended = &SessionEnded{}
		if err := json.Unmarshal(env.Data, msg.Ended); err != nil {
			return Message{}, fmt.Errorf("malformed %s payload: %w", env.MessageType, err)
		}
	case KindLibraryChanged:
		msg.Library = &LibraryChange{}
		if err := json.Unmarshal(env.Data, msg.Library); err != nil {
			return Message{}, fmt.Errorf("malformed %s payload: %w", env.MessageType, err)
		}
	case KindUserDataChanged:
		msg.UserData = &UserDataChange{Raw: env.Data}
		if len(env.Data) > 0 {
			// UserId is best-effort; the payload is forwarded verbatim.
			_ = json.Unmarshal(env.Data, msg.UserData)
		}
	case KindNotification:
		msg.Notification = &Notification{Raw: env.Data}
		if len(env.Data) > 0 {
			_ = json.Unmarshal(env.Data, msg.Notification)
		}
	case KindServerRestarting, KindServerShutdown, KindKeepAlive, KindForceKeepAlive:
		// No payload.
	default:
		msg.Kind = KindUnknown
		msg.Raw = env.Data
	}

	return msg, nil
}
