// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package player

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/melobox/melobox/internal/logging"
	"github.com/melobox/melobox/internal/models"
	"github.com/melobox/melobox/internal/statesync"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// fakeLibrary serves one fixed playlist.
type fakeLibrary struct {
	playlist *models.PlaylistRecord
	err      error
}

func (f *fakeLibrary) Playlist(_ context.Context, id string) (*models.PlaylistRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.playlist != nil && f.playlist.ID == id {
		return f.playlist, nil
	}
	return nil, nil
}

// fakeBroadcaster records published state transitions.
type fakeBroadcaster struct {
	mu        sync.Mutex
	states    []map[string]any
	events    []statesync.EventType
	positions []int64
}

func (f *fakeBroadcaster) BroadcastStateChange(_ context.Context, eventType statesync.EventType, data map[string]any, _ statesync.BroadcastOptions) (*statesync.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, data)
	f.events = append(f.events, eventType)
	return &statesync.Envelope{}, nil
}

func (f *fakeBroadcaster) BroadcastPositionUpdate(_ context.Context, positionMS int64, _ string, _ bool, _ int64) (*statesync.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = append(f.positions, positionMS)
	return &statesync.Envelope{}, nil
}

func (f *fakeBroadcaster) stateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states)
}

func (f *fakeBroadcaster) lastState(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		t.Fatal("no state broadcasts recorded")
	}
	return f.states[len(f.states)-1]
}

func (f *fakeBroadcaster) lastEvent(t *testing.T) statesync.EventType {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		t.Fatal("no state broadcasts recorded")
	}
	return f.events[len(f.events)-1]
}

func twoTrackPlaylist() *models.PlaylistRecord {
	return &models.PlaylistRecord{
		ID:    "p1",
		Title: "Bedtime",
		Tracks: []models.TrackRecord{
			{ID: "t1", PlaylistID: "p1", TrackNumber: 1, Title: "First", DurationMS: 2000},
			{ID: "t2", PlaylistID: "p1", TrackNumber: 2, Title: "Second", DurationMS: 3000},
		},
	}
}

func newTestPlayer() (*Player, *fakeBroadcaster) {
	p := New(&fakeLibrary{playlist: twoTrackPlaylist()})
	b := &fakeBroadcaster{}
	p.SetBroadcaster(b)
	return p, b
}

func TestPlayer_LoadPlaylistCuesFirstTrack(t *testing.T) {
	p, b := newTestPlayer()
	ctx := context.Background()

	if err := p.LoadPlaylist(ctx, "p1", false); err != nil {
		t.Fatalf("LoadPlaylist: %v", err)
	}

	status, _ := p.PlaybackStatus(ctx)
	if status.IsPlaying {
		t.Error("cued without autoplay but playing")
	}
	if status.ActiveTrackID != "t1" || status.TrackNumber != 1 {
		t.Errorf("cued track = %q #%d", status.ActiveTrackID, status.TrackNumber)
	}
	if status.ActivePlaylistID != "p1" {
		t.Errorf("active playlist = %q", status.ActivePlaylistID)
	}
	if b.stateCount() != 1 {
		t.Errorf("load broadcast %d states, want 1", b.stateCount())
	}
}

func TestPlayer_LoadPlaylistAutoplay(t *testing.T) {
	p, _ := newTestPlayer()
	if err := p.LoadPlaylist(context.Background(), "p1", true); err != nil {
		t.Fatalf("LoadPlaylist: %v", err)
	}
	status, _ := p.PlaybackStatus(context.Background())
	if !status.IsPlaying {
		t.Error("autoplay load not playing")
	}
}

func TestPlayer_LoadErrors(t *testing.T) {
	p, _ := newTestPlayer()
	ctx := context.Background()

	if err := p.LoadPlaylist(ctx, "missing", true); !errors.Is(err, ErrPlaylistNotFound) {
		t.Errorf("err = %v, want ErrPlaylistNotFound", err)
	}

	empty := New(&fakeLibrary{playlist: &models.PlaylistRecord{ID: "e1"}})
	if err := empty.LoadPlaylist(ctx, "e1", true); !errors.Is(err, ErrPlaylistEmpty) {
		t.Errorf("err = %v, want ErrPlaylistEmpty", err)
	}
}

func TestPlayer_ControlsRequireLoadedPlaylist(t *testing.T) {
	p, _ := newTestPlayer()
	ctx := context.Background()

	for name, op := range map[string]func() error{
		"play":  func() error { return p.Play(ctx) },
		"pause": func() error { return p.Pause(ctx) },
		"stop":  func() error { return p.Stop(ctx) },
		"next":  func() error { return p.Next(ctx) },
		"prev":  func() error { return p.Previous(ctx) },
		"seek":  func() error { return p.Seek(ctx, 100) },
	} {
		if err := op(); !errors.Is(err, ErrNoPlaylist) {
			t.Errorf("%s: err = %v, want ErrNoPlaylist", name, err)
		}
	}
}

func TestPlayer_PlayPauseBroadcasts(t *testing.T) {
	p, b := newTestPlayer()
	ctx := context.Background()
	p.LoadPlaylist(ctx, "p1", false)

	if err := p.Play(ctx); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if b.lastState(t)["is_playing"] != true {
		t.Error("play state not broadcast")
	}

	if err := p.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if b.lastState(t)["is_playing"] != false {
		t.Error("pause state not broadcast")
	}
}

func TestPlayer_NextPastEndStops(t *testing.T) {
	p, _ := newTestPlayer()
	ctx := context.Background()
	p.LoadPlaylist(ctx, "p1", true)

	p.Next(ctx)
	status, _ := p.PlaybackStatus(ctx)
	if status.ActiveTrackID != "t2" || !status.IsPlaying {
		t.Fatalf("after next: %+v", status)
	}

	p.Next(ctx)
	status, _ = p.PlaybackStatus(ctx)
	if status.IsPlaying {
		t.Error("next past last track kept playing")
	}
	if status.ActiveTrackID != "t1" || status.PositionMS != 0 {
		t.Errorf("did not rewind to start: %+v", status)
	}
}

func TestPlayer_PreviousRestartsThenJumpsBack(t *testing.T) {
	p, _ := newTestPlayer()
	ctx := context.Background()
	p.LoadPlaylist(ctx, "p1", true)
	p.Next(ctx)

	// Deep into the track: previous restarts it.
	p.advance(2500)
	p.Previous(ctx)
	status, _ := p.PlaybackStatus(ctx)
	if status.ActiveTrackID != "t2" || status.PositionMS != 0 {
		t.Fatalf("previous did not restart track: %+v", status)
	}

	// Near the start: previous jumps to the prior track.
	p.Previous(ctx)
	status, _ = p.PlaybackStatus(ctx)
	if status.ActiveTrackID != "t1" {
		t.Errorf("previous did not jump back: %+v", status)
	}
}

func TestPlayer_SeekClamped(t *testing.T) {
	p, _ := newTestPlayer()
	ctx := context.Background()
	p.LoadPlaylist(ctx, "p1", true)

	p.Seek(ctx, -50)
	status, _ := p.PlaybackStatus(ctx)
	if status.PositionMS != 0 {
		t.Errorf("negative seek = %d", status.PositionMS)
	}

	p.Seek(ctx, 99999)
	status, _ = p.PlaybackStatus(ctx)
	if status.PositionMS != 2000 {
		t.Errorf("overlong seek = %d, want clamp to duration 2000", status.PositionMS)
	}
}

func TestPlayer_SetVolumeClamped(t *testing.T) {
	p, _ := newTestPlayer()
	ctx := context.Background()

	p.SetVolume(ctx, 150)
	status, _ := p.PlaybackStatus(ctx)
	if status.Volume != 100 {
		t.Errorf("volume = %d, want 100", status.Volume)
	}

	p.SetVolume(ctx, -5)
	status, _ = p.PlaybackStatus(ctx)
	if status.Volume != 0 {
		t.Errorf("volume = %d, want 0", status.Volume)
	}
}

func TestPlayer_AdvanceCrossesTrackBoundary(t *testing.T) {
	p, _ := newTestPlayer()
	ctx := context.Background()
	p.LoadPlaylist(ctx, "p1", true)

	status, changed := p.advance(1000)
	if changed {
		t.Fatal("mid-track advance reported a boundary")
	}
	if status.PositionMS != 1000 {
		t.Errorf("position = %d", status.PositionMS)
	}

	// Crossing the 2000ms duration moves to track two.
	status, changed = p.advance(1500)
	if !changed {
		t.Fatal("track completion not detected")
	}
	if status.ActiveTrackID != "t2" || status.PositionMS != 0 {
		t.Errorf("after boundary: %+v", status)
	}
	if !status.IsPlaying {
		t.Error("playback stopped mid-playlist")
	}
}

func TestPlayer_AdvancePastPlaylistEndStops(t *testing.T) {
	p, _ := newTestPlayer()
	ctx := context.Background()
	p.LoadPlaylist(ctx, "p1", true)
	p.Next(ctx)

	status, changed := p.advance(3500)
	if !changed {
		t.Fatal("playlist completion not detected")
	}
	if status.IsPlaying {
		t.Error("still playing after last track")
	}
	if status.ActiveTrackID != "t1" {
		t.Errorf("did not rewind: %+v", status)
	}
}

func TestPlayer_AdvanceWhilePausedIsNoOp(t *testing.T) {
	p, _ := newTestPlayer()
	ctx := context.Background()
	p.LoadPlaylist(ctx, "p1", false)

	status, changed := p.advance(5000)
	if changed || status.PositionMS != 0 {
		t.Errorf("paused player advanced: %+v", status)
	}
}

func TestPlayer_UnknownDurationNeverAutoAdvances(t *testing.T) {
	playlist := &models.PlaylistRecord{
		ID: "p1",
		Tracks: []models.TrackRecord{
			{ID: "t1", PlaylistID: "p1", TrackNumber: 1, Title: "Stream", DurationMS: 0},
		},
	}
	p := New(&fakeLibrary{playlist: playlist})
	p.SetBroadcaster(&fakeBroadcaster{})
	ctx := context.Background()
	p.LoadPlaylist(ctx, "p1", true)

	status, changed := p.advance(10 * 60 * 1000)
	if changed {
		t.Error("track with unknown duration auto-advanced")
	}
	if !status.IsPlaying {
		t.Error("playback stopped")
	}
}

func TestTicker_PublishesPositionWhilePlaying(t *testing.T) {
	p, b := newTestPlayer()
	ctx := context.Background()
	p.LoadPlaylist(ctx, "p1", true)

	ticker := NewTicker(p, 0)
	ticker.tick(ctx, 500)

	b.mu.Lock()
	positions := len(b.positions)
	b.mu.Unlock()
	if positions != 1 {
		t.Errorf("tick published %d positions, want 1", positions)
	}
}

func TestTicker_PublishesPeriodicProgress(t *testing.T) {
	playlist := &models.PlaylistRecord{
		ID: "p1",
		Tracks: []models.TrackRecord{
			{ID: "t1", PlaylistID: "p1", TrackNumber: 1, Title: "Stream", DurationMS: 0},
		},
	}
	p := New(&fakeLibrary{playlist: playlist})
	b := &fakeBroadcaster{}
	p.SetBroadcaster(b)
	ctx := context.Background()
	p.LoadPlaylist(ctx, "p1", true)

	ticker := NewTicker(p, 0)
	ticker.tick(ctx, 3000)

	b.mu.Lock()
	positions := len(b.positions)
	b.mu.Unlock()
	if positions != 1 {
		t.Fatalf("first tick published %d positions, want 1", positions)
	}

	ticker.tick(ctx, 3000)

	if got := b.lastEvent(t); got != statesync.EventTrackProgress {
		t.Errorf("second tick published %q, want track progress", got)
	}
	last := b.lastState(t)
	if last["position_ms"] != int64(6000) {
		t.Errorf("progress position_ms = %v, want 6000", last["position_ms"])
	}
	b.mu.Lock()
	positions = len(b.positions)
	b.mu.Unlock()
	if positions != 1 {
		t.Error("progress tick also published a position update")
	}
}

func TestTicker_PublishesStateOnTrackChange(t *testing.T) {
	p, b := newTestPlayer()
	ctx := context.Background()
	p.LoadPlaylist(ctx, "p1", true)
	before := b.stateCount()

	ticker := NewTicker(p, 0)
	ticker.tick(ctx, 2500)

	if b.stateCount() != before+1 {
		t.Error("track boundary did not publish a full state event")
	}
	b.mu.Lock()
	positions := len(b.positions)
	b.mu.Unlock()
	if positions != 0 {
		t.Error("boundary tick also published a position update")
	}
}
