// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

package models

import (
	"testing"
)

func TestDecodeMessage_Sessions(t *testing.T) {
	data := []byte(`{
		"MessageType": "Sessions",
		"Data": [
			{"Id": "sess-1", "DeviceId": "dev-1", "DeviceName": "Living Room TV"},
			{"Id": "sess-2", "DeviceId": "dev-2", "DeviceName": "Phone"}
		]
	}`)

	msg, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != KindSessions {
		t.Errorf("expected Sessions kind, got %s", msg.Kind)
	}
	if len(msg.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(msg.Sessions))
	}
	if msg.Sessions[0].DeviceID != "dev-1" {
		t.Errorf("expected dev-1, got %s", msg.Sessions[0].DeviceID)
	}
}

func TestDecodeMessage_PlaybackProgress(t *testing.T) {
	data := []byte(`{
		"MessageType": "PlaybackProgress",
		"Data": {"SessionId": "sess-1", "DeviceId": "dev-1", "PositionTicks": 600000000, "IsPaused": true, "VolumeLevel": 80}
	}`)

	msg, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Progress == nil {
		t.Fatal("expected progress payload")
	}
	if msg.Progress.PositionTicks != 600000000 {
		t.Errorf("expected 600000000 ticks, got %d", msg.Progress.PositionTicks)
	}
	if !msg.Progress.IsPaused {
		t.Error("expected paused")
	}
	if msg.Progress.VolumeLevel == nil || *msg.Progress.VolumeLevel != 80 {
		t.Error("expected volume level 80")
	}
}

func TestDecodeMessage_VolumeAbsent(t *testing.T) {
	data := []byte(`{
		"MessageType": "PlaybackProgress",
		"Data": {"SessionId": "sess-1", "DeviceId": "dev-1", "PositionTicks": 0}
	}`)

	msg, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Progress.VolumeLevel != nil {
		t.Error("expected nil volume when the frame omits it")
	}
}

func TestDecodeMessage_LibraryChanged(t *testing.T) {
	data := []byte(`{
		"MessageType": "LibraryChanged",
		"Data": {"FoldersAddedTo": ["lib1"], "FoldersRemovedFrom": ["lib2"], "ItemsAdded": ["i1", "i2"]}
	}`)

	msg, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	containers := msg.Library.AffectedContainers()
	if len(containers) != 2 {
		t.Fatalf("expected 2 affected containers, got %v", containers)
	}
}

func TestDecodeMessage_UnknownTagIsNotAnError(t *testing.T) {
	data := []byte(`{"MessageType": "ScheduledTaskEnded", "Data": {"whatever": 1}}`)

	msg, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("unknown tag must not be an error: %v", err)
	}
	if msg.Kind != KindUnknown {
		t.Errorf("expected KindUnknown, got %s", msg.Kind)
	}
	if msg.Tag != "ScheduledTaskEnded" {
		t.Errorf("expected wire tag preserved, got %q", msg.Tag)
	}
}

func TestDecodeMessage_MalformedPayload(t *testing.T) {
	// Known tag with a payload of the wrong shape.
	data := []byte(`{"MessageType": "Sessions", "Data": {"not": "an array"}}`)

	if _, err := DecodeMessage(data); err == nil {
		t.Error("expected error for malformed known payload")
	}
}

func TestDecodeMessage_MalformedFrame(t *testing.T) {
	if _, err := DecodeMessage([]byte(`{nope`)); err == nil {
		t.Error("expected error for unparseable frame")
	}
}

func TestDecodeMessage_KeepAlive(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"MessageType": "KeepAlive"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != KindKeepAlive {
		t.Errorf("expected KeepAlive, got %s", msg.Kind)
	}
}
