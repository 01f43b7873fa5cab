// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package statesync

import (
	"context"
	"io"
	"sync"

	"github.com/melobox/melobox/internal/logging"
	"github.com/melobox/melobox/internal/models"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// emittedEvent records one transport emission. Room and ClientID are
// mutually exclusive: room emits leave ClientID empty and vice versa.
type emittedEvent struct {
	Event    string
	Payload  any
	Room     string
	ClientID string
}

// fakeTransport records emissions and room membership changes in order.
type fakeTransport struct {
	mu      sync.Mutex
	emits   []emittedEvent
	joins   []string
	leaves  []string
	emitErr error
}

func (f *fakeTransport) Emit(_ context.Context, event string, payload any, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emits = append(f.emits, emittedEvent{Event: event, Payload: payload, Room: room})
	return nil
}

func (f *fakeTransport) EmitToClient(_ context.Context, event string, payload any, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emits = append(f.emits, emittedEvent{Event: event, Payload: payload, ClientID: clientID})
	return nil
}

func (f *fakeTransport) JoinRoom(_ context.Context, clientID, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, clientID+"|"+room)
	return nil
}

func (f *fakeTransport) LeaveRoom(_ context.Context, clientID, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, clientID+"|"+room)
	return nil
}

// setEmitErr makes subsequent emissions fail with err (nil restores
// delivery).
func (f *fakeTransport) setEmitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitErr = err
}

// allEmits returns a copy of the recorded emissions.
func (f *fakeTransport) allEmits() []emittedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]emittedEvent, len(f.emits))
	copy(out, f.emits)
	return out
}

// emitsNamed returns the recorded emissions with the given event name.
func (f *fakeTransport) emitsNamed(event string) []emittedEvent {
	var out []emittedEvent
	for _, e := range f.allEmits() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakePlaylistSource serves fixed playlists for snapshot tests.
type fakePlaylistSource struct {
	mu        sync.Mutex
	playlists []models.PlaylistRecord
	err       error
}

func (f *fakePlaylistSource) Playlists(_ context.Context) ([]models.PlaylistRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.playlists, nil
}

func (f *fakePlaylistSource) Playlist(_ context.Context, id string) (*models.PlaylistRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.playlists {
		if f.playlists[i].ID == id {
			return &f.playlists[i], nil
		}
	}
	return nil, nil
}

// fakePlayerSource serves a fixed playback status.
type fakePlayerSource struct {
	status models.PlayerStatus
	err    error
}

func (f *fakePlayerSource) PlaybackStatus(_ context.Context) (models.PlayerStatus, error) {
	if f.err != nil {
		return models.PlayerStatus{}, f.err
	}
	return f.status, nil
}
