// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package statesync

import (
	"context"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/melobox/melobox/internal/logging"
	"github.com/melobox/melobox/internal/metrics"
	"github.com/melobox/melobox/internal/models"
)

// SnapshotService sends a full current-state snapshot to a newly joined
// client so it can initialize without replaying history.
//
// Snapshot envelopes reuse the delta envelope shape with *_snapshot event
// types and are stamped with the *current* sequence values, so client-side
// reducers share envelope parsing between snapshots and deltas.
//
// The playlist source sits behind a circuit breaker: a wedged library must
// not hang every subscription. A failing sub-snapshot is logged and
// skipped; the client stays subscribed and catches up via the next delta.
type SnapshotService struct {
	seq       *SequenceGenerator
	transport Transport
	playlists PlaylistSource
	player    PlayerSource
	breaker   *gobreaker.CircuitBreaker[any]

	// now is swappable for tests.
	now func() time.Time
}

// NewSnapshotService creates a SnapshotService.
func NewSnapshotService(seq *SequenceGenerator, transport Transport, playlists PlaylistSource, player PlayerSource) *SnapshotService {
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "library-snapshot",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &SnapshotService{
		seq:       seq,
		transport: transport,
		playlists: playlists,
		player:    player,
		breaker:   breaker,
		now:       time.Now,
	}
}

// SendSnapshot dispatches the snapshot matching the room: the global room
// receives the playlist index followed by the player state, a playlist room
// receives that playlist with its tracks.
func (s *SnapshotService) SendSnapshot(ctx context.Context, clientID, room string) error {
	if s.transport == nil {
		logging.Debug().
			Str("client_id", clientID).
			Str("room", room).
			Msg("no transport configured, skipping snapshot")
		return nil
	}

	playlistID, ok := ParseRoom(room)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoom, room)
	}

	if playlistID == "" {
		s.sendPlaylistsSnapshot(ctx, clientID)
		s.sendPlayerSnapshot(ctx, clientID)
		metrics.SnapshotsSent.WithLabelValues("playlists").Inc()
		return nil
	}

	s.sendPlaylistSnapshot(ctx, clientID, playlistID)
	metrics.SnapshotsSent.WithLabelValues("playlist").Inc()
	return nil
}

// sendPlaylistsSnapshot sends the playlist index to one client.
func (s *SnapshotService) sendPlaylistsSnapshot(ctx context.Context, clientID string) {
	result, err := s.breaker.Execute(func() (any, error) {
		return s.playlists.Playlists(ctx)
	})
	if err != nil {
		logging.Warn().
			Err(err).
			Str("client_id", clientID).
			Msg("playlists snapshot skipped, library unavailable")
		return
	}
	playlists := result.([]models.PlaylistRecord)

	env := &Envelope{
		EventType: EventPlaylistsSnapshot,
		ServerSeq: s.seq.CurrentGlobal(),
		Data: map[string]any{
			"playlists": SerializePlaylists(playlists, s.seq),
		},
		Timestamp: s.now().UnixMilli(),
		EventID:   newEventID(),
	}
	if err := s.transport.EmitToClient(ctx, WireStatePlaylists, env, clientID); err != nil {
		logging.Warn().
			Err(err).
			Str("client_id", clientID).
			Msg("failed to deliver playlists snapshot")
	}
}

// sendPlayerSnapshot sends the current player state to one client.
func (s *SnapshotService) sendPlayerSnapshot(ctx context.Context, clientID string) {
	status, err := s.player.PlaybackStatus(ctx)
	if err != nil {
		logging.Warn().
			Err(err).
			Str("client_id", clientID).
			Msg("player snapshot skipped, player unavailable")
		return
	}

	env := &Envelope{
		EventType: EventPlayerState,
		ServerSeq: s.seq.CurrentGlobal(),
		Data:      SerializePlayerStatus(status),
		Timestamp: s.now().UnixMilli(),
		EventID:   newEventID(),
	}
	if err := s.transport.EmitToClient(ctx, WireStatePlayer, env, clientID); err != nil {
		logging.Warn().
			Err(err).
			Str("client_id", clientID).
			Msg("failed to deliver player snapshot")
	}
}

// sendPlaylistSnapshot sends one playlist, tracks included, to one client.
func (s *SnapshotService) sendPlaylistSnapshot(ctx context.Context, clientID, playlistID string) {
	result, err := s.breaker.Execute(func() (any, error) {
		return s.playlists.Playlist(ctx, playlistID)
	})
	if err != nil {
		logging.Warn().
			Err(err).
			Str("client_id", clientID).
			Str("playlist_id", playlistID).
			Msg("playlist snapshot skipped, library unavailable")
		return
	}
	playlist := result.(*models.PlaylistRecord)
	if playlist == nil {
		logging.Warn().
			Str("client_id", clientID).
			Str("playlist_id", playlistID).
			Msg("playlist snapshot skipped, playlist not found")
		return
	}

	playlistSeq := s.seq.CurrentPlaylist(playlistID)
	env := &Envelope{
		EventType:   EventPlaylistSnapshot,
		ServerSeq:   s.seq.CurrentGlobal(),
		PlaylistSeq: &playlistSeq,
		Data: map[string]any{
			"playlist": SerializePlaylist(*playlist, true, s.seq),
		},
		Timestamp:  s.now().UnixMilli(),
		EventID:    newEventID(),
		PlaylistID: playlistID,
	}
	if err := s.transport.EmitToClient(ctx, WireStatePlaylist, env, clientID); err != nil {
		logging.Warn().
			Err(err).
			Str("client_id", clientID).
			Str("playlist_id", playlistID).
			Msg("failed to deliver playlist snapshot")
	}
}
