// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

// Package player holds the playback state machine. It owns the active
// playlist, the active track and the playhead, and publishes every state
// transition through the broadcaster so all connected clients converge on
// the same view.
package player

import (
	"context"
	"errors"
	"sync"

	"github.com/melobox/melobox/internal/logging"
	"github.com/melobox/melobox/internal/models"
	"github.com/melobox/melobox/internal/statesync"
)

var (
	// ErrNoPlaylist is returned by transport controls before a playlist
	// has been loaded.
	ErrNoPlaylist = errors.New("player: no playlist loaded")

	// ErrPlaylistEmpty is returned when loading a playlist with no tracks.
	ErrPlaylistEmpty = errors.New("player: playlist has no tracks")

	// ErrPlaylistNotFound is returned when the requested playlist does
	// not exist.
	ErrPlaylistNotFound = errors.New("player: playlist not found")
)

// Broadcaster publishes player state transitions. It is satisfied by the
// state synchronization manager.
type Broadcaster interface {
	BroadcastStateChange(ctx context.Context, eventType statesync.EventType, data map[string]any, opts statesync.BroadcastOptions) (*statesync.Envelope, error)
	BroadcastPositionUpdate(ctx context.Context, positionMS int64, trackID string, isPlaying bool, durationMS int64) (*statesync.Envelope, error)
}

// PlaylistLoader resolves playlists with their tracks.
type PlaylistLoader interface {
	Playlist(ctx context.Context, id string) (*models.PlaylistRecord, error)
}

// Player is the in-memory playback engine.
type Player struct {
	mu       sync.Mutex
	status   models.PlayerStatus
	playlist *models.PlaylistRecord
	trackIdx int

	library PlaylistLoader

	broadcasterMu sync.RWMutex
	broadcaster   Broadcaster
}

// New creates a stopped player at full volume.
func New(library PlaylistLoader) *Player {
	return &Player{
		library: library,
		status:  models.PlayerStatus{Volume: 100},
	}
}

// SetBroadcaster attaches the broadcaster. The player and the
// synchronization manager are constructed in a cycle (the manager reads
// player state for snapshots, the player broadcasts through the manager),
// so the broadcaster arrives after construction.
func (p *Player) SetBroadcaster(b Broadcaster) {
	p.broadcasterMu.Lock()
	defer p.broadcasterMu.Unlock()
	p.broadcaster = b
}

func (p *Player) getBroadcaster() Broadcaster {
	p.broadcasterMu.RLock()
	defer p.broadcasterMu.RUnlock()
	return p.broadcaster
}

// PlaybackStatus returns the current playback state.
func (p *Player) PlaybackStatus(_ context.Context) (models.PlayerStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, nil
}

// LoadPlaylist makes a playlist active and cues its first track. With
// autoplay the player starts immediately, otherwise it cues paused.
func (p *Player) LoadPlaylist(ctx context.Context, playlistID string, autoplay bool) error {
	playlist, err := p.library.Playlist(ctx, playlistID)
	if err != nil {
		return err
	}
	if playlist == nil {
		return ErrPlaylistNotFound
	}
	if len(playlist.Tracks) == 0 {
		return ErrPlaylistEmpty
	}

	p.mu.Lock()
	p.playlist = playlist
	p.trackIdx = 0
	p.applyTrackLocked()
	p.status.IsPlaying = autoplay
	status := p.status
	p.mu.Unlock()

	logging.Info().
		Str("playlist_id", playlistID).
		Bool("autoplay", autoplay).
		Int("tracks", len(playlist.Tracks)).
		Msg("playlist loaded")
	return p.broadcastState(ctx, status)
}

// Play resumes playback of the cued track.
func (p *Player) Play(ctx context.Context) error {
	return p.transition(ctx, func() error {
		if p.playlist == nil {
			return ErrNoPlaylist
		}
		p.status.IsPlaying = true
		return nil
	})
}

// Pause pauses playback keeping the playhead.
func (p *Player) Pause(ctx context.Context) error {
	return p.transition(ctx, func() error {
		if p.playlist == nil {
			return ErrNoPlaylist
		}
		p.status.IsPlaying = false
		return nil
	})
}

// Stop halts playback and rewinds to the first track.
func (p *Player) Stop(ctx context.Context) error {
	return p.transition(ctx, func() error {
		if p.playlist == nil {
			return ErrNoPlaylist
		}
		p.trackIdx = 0
		p.applyTrackLocked()
		p.status.IsPlaying = false
		return nil
	})
}

// Next skips to the next track. Past the last track it stops.
func (p *Player) Next(ctx context.Context) error {
	return p.transition(ctx, func() error {
		if p.playlist == nil {
			return ErrNoPlaylist
		}
		if p.trackIdx+1 >= len(p.playlist.Tracks) {
			p.trackIdx = 0
			p.applyTrackLocked()
			p.status.IsPlaying = false
			return nil
		}
		p.trackIdx++
		p.applyTrackLocked()
		return nil
	})
}

// Previous restarts the current track, or jumps back when the playhead is
// still near the start.
func (p *Player) Previous(ctx context.Context) error {
	return p.transition(ctx, func() error {
		if p.playlist == nil {
			return ErrNoPlaylist
		}
		if p.status.PositionMS <= restartThresholdMS && p.trackIdx > 0 {
			p.trackIdx--
		}
		p.applyTrackLocked()
		return nil
	})
}

// restartThresholdMS separates "restart this track" from "go back one".
const restartThresholdMS = 3000

// Seek moves the playhead within the current track.
func (p *Player) Seek(ctx context.Context, positionMS int64) error {
	return p.transition(ctx, func() error {
		if p.playlist == nil {
			return ErrNoPlaylist
		}
		if positionMS < 0 {
			positionMS = 0
		}
		if p.status.DurationMS > 0 && positionMS > p.status.DurationMS {
			positionMS = p.status.DurationMS
		}
		p.status.PositionMS = positionMS
		return nil
	})
}

// SetVolume sets the output volume, clamped to 0..100.
func (p *Player) SetVolume(ctx context.Context, volume int) error {
	return p.transition(ctx, func() error {
		if volume < 0 {
			volume = 0
		}
		if volume > 100 {
			volume = 100
		}
		p.status.Volume = volume
		return nil
	})
}

// transition applies a state mutation under the lock and broadcasts the
// resulting state.
func (p *Player) transition(ctx context.Context, mutate func() error) error {
	p.mu.Lock()
	if err := mutate(); err != nil {
		p.mu.Unlock()
		return err
	}
	status := p.status
	p.mu.Unlock()
	return p.broadcastState(ctx, status)
}

// applyTrackLocked points the status at the current track and rewinds the
// playhead. Caller holds mu.
func (p *Player) applyTrackLocked() {
	track := p.playlist.Tracks[p.trackIdx]
	p.status.ActivePlaylistID = p.playlist.ID
	p.status.ActiveTrackID = track.ID
	p.status.TrackNumber = track.TrackNumber
	p.status.DurationMS = track.DurationMS
	p.status.PositionMS = 0
}

// advance moves the playhead by elapsed milliseconds and handles track
// completion. It reports the resulting status and whether a track boundary
// was crossed.
func (p *Player) advance(elapsedMS int64) (status models.PlayerStatus, trackChanged bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.status.IsPlaying || p.playlist == nil {
		return p.status, false
	}

	p.status.PositionMS += elapsedMS
	if p.status.DurationMS <= 0 || p.status.PositionMS < p.status.DurationMS {
		return p.status, false
	}

	// Track finished.
	if p.trackIdx+1 < len(p.playlist.Tracks) {
		p.trackIdx++
		p.applyTrackLocked()
		return p.status, true
	}

	// Playlist finished: stop and rewind.
	p.trackIdx = 0
	p.applyTrackLocked()
	p.status.IsPlaying = false
	return p.status, true
}

// broadcastState publishes a full player state event. Without a
// broadcaster the transition still applies locally.
func (p *Player) broadcastState(ctx context.Context, status models.PlayerStatus) error {
	broadcaster := p.getBroadcaster()
	if broadcaster == nil {
		logging.Debug().Msg("no broadcaster attached, player state not published")
		return nil
	}
	_, err := broadcaster.BroadcastStateChange(ctx, statesync.EventPlayerState,
		statesync.SerializePlayerStatus(status), statesync.BroadcastOptions{Immediate: true})
	return err
}
