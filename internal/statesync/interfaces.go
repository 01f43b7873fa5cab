// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package statesync

import (
	"context"

	"github.com/melobox/melobox/internal/models"
)

// Transport pushes events to connected clients. The WebSocket hub is the
// production implementation; tests substitute a recording fake.
//
// Implementations must preserve per-client emission order: two Emit calls
// targeting the same client are delivered in call order. The
// snapshot-before-delta guarantee of SubscribeClient depends on this.
type Transport interface {
	// Emit sends an event to every client subscribed to room.
	Emit(ctx context.Context, event string, payload any, room string) error

	// EmitToClient sends an event to a single client.
	EmitToClient(ctx context.Context, event string, payload any, clientID string) error

	// JoinRoom adds a client to a room.
	JoinRoom(ctx context.Context, clientID, room string) error

	// LeaveRoom removes a client from a room.
	LeaveRoom(ctx context.Context, clientID, room string) error
}

// PlaylistSource provides playlist data for snapshots. The sqlite library
// store is the production implementation.
type PlaylistSource interface {
	// Playlists returns all playlists for index views; track lists may be
	// omitted but TrackCount must be populated.
	Playlists(ctx context.Context) ([]models.PlaylistRecord, error)

	// Playlist returns one playlist with its tracks, or nil when absent.
	Playlist(ctx context.Context, id string) (*models.PlaylistRecord, error)
}

// PlayerSource provides the current playback status for snapshots.
type PlayerSource interface {
	PlaybackStatus(ctx context.Context) (models.PlayerStatus, error)
}
