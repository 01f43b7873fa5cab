// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package player

import (
	"context"
	"time"

	"github.com/melobox/melobox/internal/logging"
	"github.com/melobox/melobox/internal/statesync"
)

// progressInterval is how often a full track progress event is published
// while playing, in addition to the throttled position updates.
const progressInterval = 5 * time.Second

// Ticker advances the playhead while playback is active and publishes live
// position updates. It implements suture.Service.
//
// Position updates go through the throttled broadcast path, so the tick
// interval can be short without flooding clients. Track boundary crossings
// publish a full player state event instead, and every progressInterval a
// complete progress payload goes out so late joiners and clients that missed
// throttled positions converge.
type Ticker struct {
	player   *Player
	interval time.Duration

	// sinceProgress accumulates playing time toward the next full
	// progress event. Touched only from the Serve loop.
	sinceProgress time.Duration
}

// NewTicker creates a Ticker driving the player at the given interval.
func NewTicker(player *Player, interval time.Duration) *Ticker {
	return &Ticker{player: player, interval: interval}
}

// Serve runs the tick loop until ctx is canceled.
func (t *Ticker) Serve(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	logging.Info().Dur("interval", t.interval).Msg("playback ticker started")

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("playback ticker stopped")
			return ctx.Err()
		case now := <-ticker.C:
			elapsed := now.Sub(last).Milliseconds()
			last = now
			t.tick(ctx, elapsed)
		}
	}
}

func (t *Ticker) tick(ctx context.Context, elapsedMS int64) {
	status, trackChanged := t.player.advance(elapsedMS)

	broadcaster := t.player.getBroadcaster()
	if broadcaster == nil {
		return
	}

	if trackChanged {
		if _, err := broadcaster.BroadcastStateChange(ctx, statesync.EventPlayerState,
			statesync.SerializePlayerStatus(status), statesync.BroadcastOptions{Immediate: true}); err != nil {
			logging.Warn().Err(err).Msg("failed to broadcast track change")
		}
		return
	}

	if !status.IsPlaying {
		return
	}

	t.sinceProgress += time.Duration(elapsedMS) * time.Millisecond
	if t.sinceProgress >= progressInterval {
		t.sinceProgress = 0
		data := map[string]any{
			"track_id":     status.ActiveTrackID,
			"playlist_id":  status.ActivePlaylistID,
			"track_number": status.TrackNumber,
			"position_ms":  status.PositionMS,
			"duration_ms":  status.DurationMS,
			"is_playing":   status.IsPlaying,
		}
		if _, err := broadcaster.BroadcastStateChange(ctx, statesync.EventTrackProgress,
			data, statesync.BroadcastOptions{}); err != nil {
			logging.Warn().Err(err).Msg("failed to broadcast track progress")
		}
		return
	}

	if _, err := broadcaster.BroadcastPositionUpdate(ctx,
		status.PositionMS, status.ActiveTrackID, status.IsPlaying, status.DurationMS); err != nil {
		logging.Warn().Err(err).Msg("failed to broadcast position update")
	}
}
