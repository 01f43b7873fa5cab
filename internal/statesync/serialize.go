// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package statesync

import "github.com/melobox/melobox/internal/models"

// Serialization is pure and side-effect free: payload builders stamp the
// *current* sequence values and never advance a counter. All durations are
// milliseconds; records with an unknown duration serialize as 0 so one
// malformed track can never fail serialization of a whole playlist.

// SerializeTrack converts a track record to its transport payload.
func SerializeTrack(t models.TrackRecord) map[string]any {
	duration := t.DurationMS
	if duration < 0 {
		duration = 0
	}
	return map[string]any{
		"id":           t.ID,
		"playlist_id":  t.PlaylistID,
		"track_number": t.TrackNumber,
		"title":        t.Title,
		"artist":       t.Artist,
		"album":        t.Album,
		"duration_ms":  duration,
		"file_path":    t.FilePath,
	}
}

// SerializeTracks maps SerializeTrack over a track list.
func SerializeTracks(tracks []models.TrackRecord) []map[string]any {
	out := make([]map[string]any, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, SerializeTrack(t))
	}
	return out
}

// SerializePlaylist converts a playlist record to its transport payload,
// stamped with the current global and per-playlist sequence values.
// Tracks are included only when includeTracks is set.
func SerializePlaylist(p models.PlaylistRecord, includeTracks bool, seq *SequenceGenerator) map[string]any {
	trackCount := p.TrackCount
	if len(p.Tracks) > 0 {
		trackCount = len(p.Tracks)
	}

	payload := map[string]any{
		"id":                p.ID,
		"title":             p.Title,
		"nfc_tag_id":        p.NFCTagID,
		"track_count":       trackCount,
		"total_duration_ms": p.TotalDurationMS(),
		"server_seq":        seq.CurrentGlobal(),
		"playlist_seq":      seq.CurrentPlaylist(p.ID),
	}
	if !p.CreatedAt.IsZero() {
		payload["created_at"] = p.CreatedAt.UnixMilli()
	}
	if !p.UpdatedAt.IsZero() {
		payload["updated_at"] = p.UpdatedAt.UnixMilli()
	}
	if includeTracks {
		payload["tracks"] = SerializeTracks(p.Tracks)
	}
	return payload
}

// SerializePlaylists maps SerializePlaylist over a playlist list.
// Tracks are excluded: index views only need counts and totals.
func SerializePlaylists(playlists []models.PlaylistRecord, seq *SequenceGenerator) []map[string]any {
	out := make([]map[string]any, 0, len(playlists))
	for _, p := range playlists {
		out = append(out, SerializePlaylist(p, false, seq))
	}
	return out
}

// SerializePlayerStatus converts a player status to its transport payload.
func SerializePlayerStatus(s models.PlayerStatus) map[string]any {
	duration := s.DurationMS
	if duration < 0 {
		duration = 0
	}
	return map[string]any{
		"is_playing":         s.IsPlaying,
		"position_ms":        s.PositionMS,
		"duration_ms":        duration,
		"active_track_id":    s.ActiveTrackID,
		"active_playlist_id": s.ActivePlaylistID,
		"track_number":       s.TrackNumber,
		"volume":             s.Volume,
	}
}
