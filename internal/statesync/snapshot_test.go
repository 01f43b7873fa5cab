// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package statesync

import (
	"context"
	"errors"
	"testing"

	"github.com/melobox/melobox/internal/models"
)

func testPlaylists() *fakePlaylistSource {
	return &fakePlaylistSource{
		playlists: []models.PlaylistRecord{
			{ID: "p1", Title: "Morning", Tracks: []models.TrackRecord{
				{ID: "t1", PlaylistID: "p1", TrackNumber: 1, Title: "Sunrise", DurationMS: 120000},
			}},
			{ID: "p2", Title: "Evening"},
		},
	}
}

func TestSnapshotService_GlobalRoomSendsPlaylistsThenPlayer(t *testing.T) {
	transport := &fakeTransport{}
	seq := NewSequenceGenerator()
	snap := NewSnapshotService(seq, transport, testPlaylists(), &fakePlayerSource{
		status: models.PlayerStatus{IsPlaying: true, ActiveTrackID: "t1"},
	})

	if err := snap.SendSnapshot(context.Background(), "c1", RoomPlaylists); err != nil {
		t.Fatalf("SendSnapshot: %v", err)
	}

	emits := transport.allEmits()
	if len(emits) != 2 {
		t.Fatalf("snapshot produced %d emits, want 2", len(emits))
	}
	if emits[0].Event != WireStatePlaylists {
		t.Errorf("first emit = %q, want playlist index", emits[0].Event)
	}
	if emits[1].Event != WireStatePlayer {
		t.Errorf("second emit = %q, want player state", emits[1].Event)
	}
	for _, e := range emits {
		if e.ClientID != "c1" {
			t.Errorf("snapshot emitted to %q, want direct delivery to c1", e.ClientID)
		}
	}

	env := emits[0].Payload.(*Envelope)
	playlists := env.Data["playlists"].([]map[string]any)
	if len(playlists) != 2 {
		t.Errorf("index snapshot has %d playlists, want 2", len(playlists))
	}
}

func TestSnapshotService_PlaylistRoomIncludesTracks(t *testing.T) {
	transport := &fakeTransport{}
	snap := NewSnapshotService(NewSequenceGenerator(), transport, testPlaylists(), &fakePlayerSource{})

	if err := snap.SendSnapshot(context.Background(), "c1", PlaylistRoom("p1")); err != nil {
		t.Fatalf("SendSnapshot: %v", err)
	}

	emits := transport.emitsNamed(WireStatePlaylist)
	if len(emits) != 1 {
		t.Fatalf("snapshot produced %d playlist emits, want 1", len(emits))
	}
	env := emits[0].Payload.(*Envelope)
	if env.PlaylistID != "p1" {
		t.Errorf("playlist_id = %q, want p1", env.PlaylistID)
	}
	playlist := env.Data["playlist"].(map[string]any)
	tracks := playlist["tracks"].([]map[string]any)
	if len(tracks) != 1 {
		t.Errorf("playlist snapshot has %d tracks, want 1", len(tracks))
	}
}

func TestSnapshotService_StampsCurrentSequencesWithoutAdvancing(t *testing.T) {
	transport := &fakeTransport{}
	seq := NewSequenceGenerator()
	for i := 0; i < 5; i++ {
		seq.NextGlobal()
	}
	seq.NextPlaylist("p1")
	seq.NextPlaylist("p1")

	snap := NewSnapshotService(seq, transport, testPlaylists(), &fakePlayerSource{})
	if err := snap.SendSnapshot(context.Background(), "c1", PlaylistRoom("p1")); err != nil {
		t.Fatalf("SendSnapshot: %v", err)
	}

	env := transport.emitsNamed(WireStatePlaylist)[0].Payload.(*Envelope)
	if env.ServerSeq != 5 {
		t.Errorf("snapshot server_seq = %d, want current value 5", env.ServerSeq)
	}
	if env.PlaylistSeq == nil || *env.PlaylistSeq != 2 {
		t.Errorf("snapshot playlist_seq = %v, want current value 2", env.PlaylistSeq)
	}

	// A client that received this snapshot at playlist_seq=2 must see the
	// next delta at 3: the snapshot itself never consumes a number.
	if got := seq.NextPlaylist("p1"); got != 3 {
		t.Errorf("next delta playlist_seq = %d, want 3", got)
	}
}

func TestSnapshotService_UnknownRoom(t *testing.T) {
	snap := NewSnapshotService(NewSequenceGenerator(), &fakeTransport{}, testPlaylists(), &fakePlayerSource{})

	err := snap.SendSnapshot(context.Background(), "c1", "lobby")
	if !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("err = %v, want ErrUnknownRoom", err)
	}
}

func TestSnapshotService_LibraryFailureSkipsNotFails(t *testing.T) {
	transport := &fakeTransport{}
	playlists := testPlaylists()
	playlists.err = errors.New("database locked")

	snap := NewSnapshotService(NewSequenceGenerator(), transport, playlists, &fakePlayerSource{})

	// The subscription must survive a wedged library; only the playlist
	// part of the snapshot is skipped.
	if err := snap.SendSnapshot(context.Background(), "c1", RoomPlaylists); err != nil {
		t.Fatalf("SendSnapshot: %v", err)
	}
	if got := transport.emitsNamed(WireStatePlaylists); len(got) != 0 {
		t.Errorf("playlist snapshot emitted despite library failure")
	}
	if got := transport.emitsNamed(WireStatePlayer); len(got) != 1 {
		t.Errorf("player snapshot missing: %d emits", len(got))
	}
}

func TestSnapshotService_MissingPlaylistSkipped(t *testing.T) {
	transport := &fakeTransport{}
	snap := NewSnapshotService(NewSequenceGenerator(), transport, testPlaylists(), &fakePlayerSource{})

	if err := snap.SendSnapshot(context.Background(), "c1", PlaylistRoom("deleted")); err != nil {
		t.Fatalf("SendSnapshot: %v", err)
	}
	if got := transport.allEmits(); len(got) != 0 {
		t.Errorf("snapshot emitted for missing playlist: %+v", got)
	}
}

func TestSnapshotService_NilTransportIsNoOp(t *testing.T) {
	snap := NewSnapshotService(NewSequenceGenerator(), nil, testPlaylists(), &fakePlayerSource{})
	if err := snap.SendSnapshot(context.Background(), "c1", RoomPlaylists); err != nil {
		t.Fatalf("SendSnapshot without transport: %v", err)
	}
}
