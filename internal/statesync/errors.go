// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package statesync

import "errors"

var (
	// ErrUnknownEventType reports an event type with no wire-name or room
	// mapping. This is a programmer error: the mapping tables are
	// exhaustive over the closed EventType enumeration, so hitting this
	// means a new type was added without extending them.
	ErrUnknownEventType = errors.New("statesync: unknown event type")

	// ErrPlaylistIDRequired reports a playlist-scoped event type broadcast
	// without a playlist id. Also a programmer error, raised immediately.
	ErrPlaylistIDRequired = errors.New("statesync: playlist id required for playlist-scoped event")

	// ErrUnknownRoom reports a room name that is neither "playlists" nor
	// "playlist:<id>".
	ErrUnknownRoom = errors.New("statesync: unknown room")
)
