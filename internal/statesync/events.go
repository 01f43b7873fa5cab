// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package statesync

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EventType identifies the kind of state change an envelope carries.
// The enumeration is closed: WireName and Room switch exhaustively over it
// and return ErrUnknownEventType for anything else.
type EventType string

const (
	EventPlaylistsSnapshot    EventType = "playlists_snapshot"
	EventPlaylistSnapshot     EventType = "playlist_snapshot"
	EventPlayerState          EventType = "player_state"
	EventTrackProgress        EventType = "track_progress"
	EventTrackPosition        EventType = "track_position"
	EventPlaylistCreated      EventType = "playlist_created"
	EventPlaylistUpdated      EventType = "playlist_updated"
	EventPlaylistDeleted      EventType = "playlist_deleted"
	EventTrackAdded           EventType = "track_added"
	EventTrackUpdated         EventType = "track_updated"
	EventTrackDeleted         EventType = "track_deleted"
	EventPlaylistsIndexUpdate EventType = "playlists_index_update"
)

// Wire-level event names. These are a stable contract with clients.
const (
	WireConnectionStatus = "connection_status"

	WireJoinPlaylists  = "join:playlists"
	WireJoinPlaylist   = "join:playlist"
	WireLeavePlaylists = "leave:playlists"
	WireLeavePlaylist  = "leave:playlist"
	WireAckJoin        = "ack:join"
	WireAckLeave       = "ack:leave"

	WireStatePlaylists       = "state:playlists"
	WireStatePlaylistsIndex  = "state:playlists_index_update"
	WireStatePlaylist        = "state:playlist"
	WireStatePlayer          = "state:player"
	WireStateTrackProgress   = "state:track_progress"
	WireStateTrackPosition   = "state:track_position"
	WireStateTrack           = "state:track"
	WireStatePlaylistCreated = "state:playlist_created"
	WireStatePlaylistUpdated = "state:playlist_updated"
	WireStatePlaylistDeleted = "state:playlist_deleted"
	WireStateTrackAdded      = "state:track_added"
	WireStateTrackDeleted    = "state:track_deleted"

	WireAckOp = "ack:op"
	WireErrOp = "err:op"

	WireSyncRequest  = "sync:request"
	WireSyncComplete = "sync:complete"
)

// RoomPlaylists is the global room every client may join for the playlist
// index and player state.
const RoomPlaylists = "playlists"

// playlistRoomPrefix prefixes per-playlist room names.
const playlistRoomPrefix = "playlist:"

// PlaylistRoom returns the room name for a playlist id.
func PlaylistRoom(playlistID string) string {
	return playlistRoomPrefix + playlistID
}

// ParseRoom splits a room name into its kind. It returns the playlist id
// and true for "playlist:<id>" rooms, and "" and true for the global room.
// Unknown names return false.
func ParseRoom(room string) (playlistID string, ok bool) {
	if room == RoomPlaylists {
		return "", true
	}
	if id, found := strings.CutPrefix(room, playlistRoomPrefix); found && id != "" {
		return id, true
	}
	return "", false
}

// WireName returns the transport-level event name for this event type.
func (t EventType) WireName() (string, error) {
	switch t {
	case EventPlaylistsSnapshot:
		return WireStatePlaylists, nil
	case EventPlaylistSnapshot:
		return WireStatePlaylist, nil
	case EventPlayerState:
		return WireStatePlayer, nil
	case EventTrackProgress:
		return WireStateTrackProgress, nil
	case EventTrackPosition:
		return WireStateTrackPosition, nil
	case EventPlaylistCreated:
		return WireStatePlaylistCreated, nil
	case EventPlaylistUpdated:
		return WireStatePlaylistUpdated, nil
	case EventPlaylistDeleted:
		return WireStatePlaylistDeleted, nil
	case EventTrackAdded:
		return WireStateTrackAdded, nil
	case EventTrackUpdated:
		return WireStateTrack, nil
	case EventTrackDeleted:
		return WireStateTrackDeleted, nil
	case EventPlaylistsIndexUpdate:
		return WireStatePlaylistsIndex, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, string(t))
	}
}

// Room resolves the default target room for this event type.
// Playlist-scoped types interpolate playlistID into the room name and fail
// fast when it is missing.
func (t EventType) Room(playlistID string) (string, error) {
	switch t {
	case EventPlaylistsSnapshot,
		EventPlaylistsIndexUpdate,
		EventPlaylistCreated,
		EventPlaylistUpdated,
		EventPlaylistDeleted,
		EventPlayerState,
		EventTrackProgress,
		EventTrackPosition:
		return RoomPlaylists, nil
	case EventPlaylistSnapshot,
		EventTrackAdded,
		EventTrackUpdated,
		EventTrackDeleted:
		if playlistID == "" {
			return "", fmt.Errorf("%w: %q", ErrPlaylistIDRequired, string(t))
		}
		return PlaylistRoom(playlistID), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, string(t))
	}
}

// Envelope is the versioned wrapper around every broadcast event.
//
// ServerSeq is globally monotonic; PlaylistSeq is monotonic per playlist and
// present only on playlist-scoped envelopes. EventID is a short random
// identifier clients use for de-duplication of redelivered envelopes; it
// carries no ordering meaning.
type Envelope struct {
	EventType   EventType      `json:"event_type"`
	ServerSeq   uint64         `json:"server_seq"`
	PlaylistSeq *uint64        `json:"playlist_seq,omitempty"`
	Data        map[string]any `json:"data"`
	Timestamp   int64          `json:"timestamp"`
	EventID     string         `json:"event_id"`
	PlaylistID  string         `json:"playlist_id,omitempty"`
}

// newEventID returns a short random envelope identifier.
func newEventID() string {
	return uuid.NewString()[:8]
}
