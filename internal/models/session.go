// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

// Package models defines the domain model for remote sessions and the wire
// shapes exchanged with the media server's REST and push endpoints.
package models

import (
	"time"
)

// ticksPerSecond is the media server's tick resolution (100ns units).
const ticksPerSecond = 10_000_000

// MediaKind classifies the currently playing item.
type MediaKind string

const (
	MediaKindMovie   MediaKind = "movie"
	MediaKindEpisode MediaKind = "episode"
	MediaKindTrack   MediaKind = "track"
	MediaKindVideo   MediaKind = "video"
	MediaKindUnknown MediaKind = "unknown"
)

// MediaItem describes the content a session is currently playing.
type MediaItem struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Kind     MediaKind     `json:"kind"`
	Duration time.Duration `json:"duration"`

	// TV fields (Kind == episode)
	SeriesName    string `json:"series_name,omitempty"`
	SeasonNumber  int    `json:"season_number,omitempty"`
	EpisodeNumber int    `json:"episode_number,omitempty"`

	// Music fields (Kind == track)
	Album  string `json:"album,omitempty"`
	Artist string `json:"artist,omitempty"`
}

// QueueItem is one entry in a session's play queue.
type QueueItem struct {
	ItemID       string `json:"item_id"`
	PlaylistItem string `json:"playlist_item"`
}

// PlaybackState captures the transient playback position of a session.
type PlaybackState struct {
	Position    time.Duration `json:"position"`
	Paused      bool          `json:"paused"`
	Muted       bool          `json:"muted"`
	Volume      float64       `json:"volume"` // 0.0 - 1.0
	Queue       []QueueItem   `json:"queue,omitempty"`
	QueueCursor int           `json:"queue_cursor"`
}

// RemoteSession represents one connected client on the remote server.
//
// DeviceKey is the stable identity that survives reconnects and is the only
// valid storage key; SessionToken changes on every connection instance and
// must never be used to key state.
type RemoteSession struct {
	SessionToken       string    `json:"session_token"`
	DeviceKey          string    `json:"device_key"`
	DisplayName        string    `json:"display_name"`
	ClientApplication  string    `json:"client_application"`
	ApplicationVersion string    `json:"application_version"`
	Capabilities       []string  `json:"capabilities"`
	NowPlaying         *MediaItem     `json:"now_playing,omitempty"`
	Playback           *PlaybackState `json:"playback,omitempty"`
	LastActivityAt     time.Time `json:"last_activity_at"`

	// Available is false once the device has disappeared from polls or
	// ended its session; the entry is retained so a reconnect with the
	// same DeviceKey does not churn downstream representations.
	Available bool `json:"available"`
}

// SupportsCommand reports whether the session advertises the given
// remote-control command.
func (s *RemoteSession) SupportsCommand(name string) bool {
	for _, c := range s.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to observers while the coordinator
// keeps mutating its own entry.
func (s *RemoteSession) Clone() *RemoteSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Capabilities = append([]string(nil), s.Capabilities...)
	if s.NowPlaying != nil {
		item := *s.NowPlaying
		out.NowPlaying = &item
	}
	if s.Playback != nil {
		pb := *s.Playback
		pb.Queue = append([]QueueItem(nil), s.Playback.Queue...)
		out.Playback = &pb
	}
	return &out
}

// ServerSession is the raw session shape returned by the server's
// /Sessions endpoint and carried in push session updates.
type ServerSession struct {
	ID                 string   `json:"Id"`
	DeviceID           string   `json:"DeviceId"`
	DeviceName         string   `json:"DeviceName"`
	Client             string   `json:"Client"`
	ApplicationVersion string   `json:"ApplicationVersion"`
	SupportedCommands  []string `json:"SupportedCommands,omitempty"`
	SupportsRemoteControl bool  `json:"SupportsRemoteControl"`
	LastActivityDate   string   `json:"LastActivityDate,omitempty"`

	NowPlayingItem *ServerNowPlayingItem `json:"NowPlayingItem,omitempty"`
	PlayState      *ServerPlayState      `json:"PlayState,omitempty"`
	NowPlayingQueue []ServerQueueItem    `json:"NowPlayingQueue,omitempty"`
	PlaylistItemID string                `json:"PlaylistItemId,omitempty"`
}

// ServerNowPlayingItem is the wire shape of the currently playing content.
type ServerNowPlayingItem struct {
	ID                string `json:"Id"`
	Name              string `json:"Name"`
	Type              string `json:"Type"` // "Movie", "Episode", "Audio", "Video"
	RunTimeTicks      int64  `json:"RunTimeTicks"`
	SeriesName        string `json:"SeriesName,omitempty"`
	ParentIndexNumber int    `json:"ParentIndexNumber,omitempty"`
	IndexNumber       int    `json:"IndexNumber,omitempty"`
	Album             string `json:"Album,omitempty"`
	AlbumArtist       string `json:"AlbumArtist,omitempty"`
}

// ServerPlayState is the wire shape of playback state.
type ServerPlayState struct {
	PositionTicks int64 `json:"PositionTicks"`
	IsPaused      bool  `json:"IsPaused"`
	IsMuted       bool  `json:"IsMuted"`
	VolumeLevel   int   `json:"VolumeLevel,omitempty"` // 0-100
}

// ServerQueueItem is one play queue entry on the wire.
type ServerQueueItem struct {
	ID             string `json:"Id"`
	PlaylistItemID string `json:"PlaylistItemId"`
}

// ToRemoteSession converts the wire session into the domain model.
// The session token and device key are kept distinct so callers cannot
// accidentally key state on the ephemeral identifier.
func (raw *ServerSession) ToRemoteSession() *RemoteSession {
	s := &RemoteSession{
		SessionToken:       raw.ID,
		DeviceKey:          raw.DeviceID,
		DisplayName:        raw.DeviceName,
		ClientApplication:  raw.Client,
		ApplicationVersion: raw.ApplicationVersion,
		Capabilities:       append([]string(nil), raw.SupportedCommands...),
		Available:          true,
	}

	if raw.LastActivityDate != "" {
		if t, err := time.Parse(time.RFC3339, raw.LastActivityDate); err == nil {
			s.LastActivityAt = t
		}
	}

	if raw.NowPlayingItem != nil {
		s.NowPlaying = raw.NowPlayingItem.toMediaItem()
	}

	if raw.PlayState != nil {
		s.Playback = &PlaybackState{
			Position: time.Duration(raw.PlayState.PositionTicks) * 100 * time.Nanosecond,
			Paused:   raw.PlayState.IsPaused,
			Muted:    raw.PlayState.IsMuted,
			Volume:   float64(raw.PlayState.VolumeLevel) / 100.0,
		}
		for i, q := range raw.NowPlayingQueue {
			s.Playback.Queue = append(s.Playback.Queue, QueueItem{
				ItemID:       q.ID,
				PlaylistItem: q.PlaylistItemID,
			})
			if q.PlaylistItemID != "" && q.PlaylistItemID == raw.PlaylistItemID {
				s.Playback.QueueCursor = i
			}
		}
	}

	return s
}

func (item *ServerNowPlayingItem) toMediaItem() *MediaItem {
	m := &MediaItem{
		ID:       item.ID,
		Title:    item.Name,
		Duration: time.Duration(item.RunTimeTicks/ticksPerSecond) * time.Second,
	}

	switch item.Type {
	case "Movie":
		m.Kind = MediaKindMovie
	case "Episode":
		m.Kind = MediaKindEpisode
		m.SeriesName = item.SeriesName
		m.SeasonNumber = item.ParentIndexNumber
		m.EpisodeNumber = item.IndexNumber
	case "Audio":
		m.Kind = MediaKindTrack
		m.Album = item.Album
		m.Artist = item.AlbumArtist
	case "Video":
		m.Kind = MediaKindVideo
	default:
		m.Kind = MediaKindUnknown
	}

	return m
}

// LibraryItem is one entry of a hierarchical browse page.
type LibraryItem struct {
	ID       string    `json:"Id"`
	Name     string    `json:"Name"`
	Type     string    `json:"Type"`
	ParentID string    `json:"ParentId,omitempty"`
	IsFolder bool      `json:"IsFolder"`
	Kind     MediaKind `json:"-"`
}

// LibraryPage is one page of browse results for a container.
type LibraryPage struct {
	Items      []LibraryItem `json:"Items"`
	TotalCount int           `json:"TotalRecordCount"`
	NextCursor string        `json:"NextCursor,omitempty"`
}
