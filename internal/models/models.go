// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

// Package models defines the canonical records shared across Melobox.
//
// These structs are the single internal representation of playlists, tracks
// and player state. Collaborating layers (library store, player engine, API
// handlers) convert to and from these records at their own boundaries, so
// the state synchronization core never has to probe loosely shaped data.
// Durations are milliseconds everywhere; any source that stores seconds must
// convert before constructing a record.
package models

import "time"

// TrackRecord is the canonical representation of a single track.
type TrackRecord struct {
	ID          string `json:"id"`
	PlaylistID  string `json:"playlist_id"`
	TrackNumber int    `json:"track_number"`
	Title       string `json:"title"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`

	// DurationMS is the track duration in milliseconds. A missing or NULL
	// duration at the storage boundary collapses to zero, never to an error.
	DurationMS int64 `json:"duration_ms"`

	FilePath string `json:"file_path,omitempty"`
}

// PlaylistRecord is the canonical representation of a playlist.
// Tracks may be nil when the record was loaded for an index view.
type PlaylistRecord struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	NFCTagID string        `json:"nfc_tag_id,omitempty"`
	Tracks   []TrackRecord `json:"tracks,omitempty"`

	// TrackCount carries the track total for index views where Tracks is
	// not loaded. When Tracks is populated, len(Tracks) wins.
	TrackCount int `json:"track_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TotalDurationMS sums the duration of all loaded tracks.
// Tracks with an unknown duration contribute zero.
func (p PlaylistRecord) TotalDurationMS() int64 {
	var total int64
	for _, t := range p.Tracks {
		if t.DurationMS > 0 {
			total += t.DurationMS
		}
	}
	return total
}

// PlayerStatus describes the current transport state of the playback engine.
type PlayerStatus struct {
	IsPlaying        bool   `json:"is_playing"`
	PositionMS       int64  `json:"position_ms"`
	DurationMS       int64  `json:"duration_ms"`
	ActiveTrackID    string `json:"active_track_id,omitempty"`
	ActivePlaylistID string `json:"active_playlist_id,omitempty"`
	TrackNumber      int    `json:"track_number"`
	Volume           int    `json:"volume"`
}
