// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package library

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/melobox/melobox/internal/logging"
	"github.com/melobox/melobox/internal/models"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_CreateAndLoadPlaylist(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreatePlaylist(ctx, "Morning Songs")
	if err != nil {
		t.Fatalf("CreatePlaylist: %v", err)
	}
	if created.ID == "" {
		t.Fatal("created playlist has no id")
	}

	loaded, err := store.Playlist(ctx, created.ID)
	if err != nil {
		t.Fatalf("Playlist: %v", err)
	}
	if loaded == nil {
		t.Fatal("created playlist not found")
	}
	if loaded.Title != "Morning Songs" {
		t.Errorf("title = %q", loaded.Title)
	}
	if loaded.TrackCount != 0 || len(loaded.Tracks) != 0 {
		t.Errorf("new playlist not empty: %d tracks", loaded.TrackCount)
	}
}

func TestStore_MissingPlaylistIsNilNotError(t *testing.T) {
	store := newTestStore(t)

	p, err := store.Playlist(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Playlist: %v", err)
	}
	if p != nil {
		t.Errorf("missing playlist returned %+v", p)
	}
}

func TestStore_PlaylistsIndexWithTrackCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p1, _ := store.CreatePlaylist(ctx, "One")
	p2, _ := store.CreatePlaylist(ctx, "Two")
	store.AddTrack(ctx, p1.ID, models.TrackRecord{Title: "A", FilePath: "/music/a.mp3"})
	store.AddTrack(ctx, p1.ID, models.TrackRecord{Title: "B", FilePath: "/music/b.mp3"})

	playlists, err := store.Playlists(ctx)
	if err != nil {
		t.Fatalf("Playlists: %v", err)
	}
	if len(playlists) != 2 {
		t.Fatalf("index has %d playlists, want 2", len(playlists))
	}

	counts := map[string]int{}
	for _, p := range playlists {
		counts[p.ID] = p.TrackCount
		if len(p.Tracks) != 0 {
			t.Error("index view hydrated tracks")
		}
	}
	if counts[p1.ID] != 2 || counts[p2.ID] != 0 {
		t.Errorf("track counts = %v", counts)
	}
}

func TestStore_AddTrackAssignsSequentialNumbers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, _ := store.CreatePlaylist(ctx, "Ordered")
	first, err := store.AddTrack(ctx, p.ID, models.TrackRecord{Title: "A", FilePath: "/music/a.mp3"})
	if err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	second, err := store.AddTrack(ctx, p.ID, models.TrackRecord{Title: "B", FilePath: "/music/b.mp3"})
	if err != nil {
		t.Fatalf("AddTrack: %v", err)
	}

	if first.TrackNumber != 1 || second.TrackNumber != 2 {
		t.Errorf("track numbers = %d, %d, want 1, 2", first.TrackNumber, second.TrackNumber)
	}

	loaded, _ := store.Playlist(ctx, p.ID)
	if len(loaded.Tracks) != 2 || loaded.Tracks[0].Title != "A" {
		t.Errorf("tracks not in playback order: %+v", loaded.Tracks)
	}
}

func TestStore_AddTrackToMissingPlaylist(t *testing.T) {
	store := newTestStore(t)

	_, err := store.AddTrack(context.Background(), "nope", models.TrackRecord{Title: "A", FilePath: "/a.mp3"})
	if !errors.Is(err, ErrPlaylistNotFound) {
		t.Fatalf("err = %v, want ErrPlaylistNotFound", err)
	}
}

func TestStore_NegativeDurationStoredAsZero(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, _ := store.CreatePlaylist(ctx, "Durations")
	track, err := store.AddTrack(ctx, p.ID, models.TrackRecord{Title: "A", FilePath: "/a.mp3", DurationMS: -1})
	if err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	if track.DurationMS != 0 {
		t.Errorf("duration_ms = %d, want 0", track.DurationMS)
	}
}

func TestStore_UpdateTrackPartial(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, _ := store.CreatePlaylist(ctx, "Edit")
	track, _ := store.AddTrack(ctx, p.ID, models.TrackRecord{Title: "Old", Artist: "Band", FilePath: "/a.mp3"})

	title := "New"
	duration := int64(90000)
	updated, err := store.UpdateTrack(ctx, p.ID, track.ID, TrackUpdate{Title: &title, DurationMS: &duration})
	if err != nil {
		t.Fatalf("UpdateTrack: %v", err)
	}
	if updated.Title != "New" || updated.DurationMS != 90000 {
		t.Errorf("updated = %+v", updated)
	}
	if updated.Artist != "Band" {
		t.Errorf("untouched field changed: artist = %q", updated.Artist)
	}
}

func TestStore_DeleteTrack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, _ := store.CreatePlaylist(ctx, "Shrink")
	track, _ := store.AddTrack(ctx, p.ID, models.TrackRecord{Title: "A", FilePath: "/a.mp3"})

	if err := store.DeleteTrack(ctx, p.ID, track.ID); err != nil {
		t.Fatalf("DeleteTrack: %v", err)
	}
	if err := store.DeleteTrack(ctx, p.ID, track.ID); !errors.Is(err, ErrTrackNotFound) {
		t.Fatalf("second delete err = %v, want ErrTrackNotFound", err)
	}
}

func TestStore_DeletePlaylistCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, _ := store.CreatePlaylist(ctx, "Gone")
	store.AddTrack(ctx, p.ID, models.TrackRecord{Title: "A", FilePath: "/a.mp3"})

	if err := store.DeletePlaylist(ctx, p.ID); err != nil {
		t.Fatalf("DeletePlaylist: %v", err)
	}
	if loaded, _ := store.Playlist(ctx, p.ID); loaded != nil {
		t.Error("deleted playlist still loadable")
	}
	if err := store.DeletePlaylist(ctx, p.ID); !errors.Is(err, ErrPlaylistNotFound) {
		t.Fatalf("second delete err = %v, want ErrPlaylistNotFound", err)
	}
}

func TestStore_RenamePlaylist(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, _ := store.CreatePlaylist(ctx, "Before")
	renamed, err := store.RenamePlaylist(ctx, p.ID, "After")
	if err != nil {
		t.Fatalf("RenamePlaylist: %v", err)
	}
	if renamed.Title != "After" {
		t.Errorf("title = %q", renamed.Title)
	}

	if _, err := store.RenamePlaylist(ctx, "nope", "X"); !errors.Is(err, ErrPlaylistNotFound) {
		t.Fatalf("rename missing err = %v, want ErrPlaylistNotFound", err)
	}
}

func TestStore_NFCTagAssociation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p1, _ := store.CreatePlaylist(ctx, "Tagged")
	p2, _ := store.CreatePlaylist(ctx, "Other")

	if err := store.AssociateNFCTag(ctx, p1.ID, "tag-001"); err != nil {
		t.Fatalf("AssociateNFCTag: %v", err)
	}

	resolved, err := store.PlaylistByNFCTag(ctx, "tag-001")
	if err != nil {
		t.Fatalf("PlaylistByNFCTag: %v", err)
	}
	if resolved == nil || resolved.ID != p1.ID {
		t.Fatalf("resolved = %+v, want playlist %s", resolved, p1.ID)
	}

	// The same tag cannot be bound to a second playlist.
	if err := store.AssociateNFCTag(ctx, p2.ID, "tag-001"); !errors.Is(err, ErrNFCTagInUse) {
		t.Fatalf("err = %v, want ErrNFCTagInUse", err)
	}

	// Re-binding to the same playlist is idempotent.
	if err := store.AssociateNFCTag(ctx, p1.ID, "tag-001"); err != nil {
		t.Fatalf("re-associate: %v", err)
	}

	// Clearing frees the tag.
	if err := store.AssociateNFCTag(ctx, p1.ID, ""); err != nil {
		t.Fatalf("clear association: %v", err)
	}
	if resolved, _ := store.PlaylistByNFCTag(ctx, "tag-001"); resolved != nil {
		t.Error("cleared tag still resolves")
	}
	if err := store.AssociateNFCTag(ctx, p2.ID, "tag-001"); err != nil {
		t.Fatalf("rebind freed tag: %v", err)
	}
}

func TestStore_UnknownNFCTagIsNil(t *testing.T) {
	store := newTestStore(t)
	if resolved, err := store.PlaylistByNFCTag(context.Background(), "tag-404"); err != nil || resolved != nil {
		t.Fatalf("resolved = %+v, err = %v, want nil, nil", resolved, err)
	}
}

func TestStore_CacheInvalidatedOnMutation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, _ := store.CreatePlaylist(ctx, "Cached")

	// Warm the cache, then mutate behind it.
	store.Playlist(ctx, p.ID)
	store.AddTrack(ctx, p.ID, models.TrackRecord{Title: "A", FilePath: "/a.mp3"})

	loaded, err := store.Playlist(ctx, p.ID)
	if err != nil {
		t.Fatalf("Playlist: %v", err)
	}
	if len(loaded.Tracks) != 1 {
		t.Errorf("cache served stale playlist: %d tracks, want 1", len(loaded.Tracks))
	}
}
