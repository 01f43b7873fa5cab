// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

// Package library persists playlists and tracks in SQLite and serves them
// to the rest of the backend. It is the single writer for library data;
// every mutation invalidates the read cache so snapshots never serve stale
// playlists.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	_ "modernc.org/sqlite"

	"github.com/melobox/melobox/internal/logging"
	"github.com/melobox/melobox/internal/models"
)

var (
	// ErrPlaylistNotFound is returned by mutations targeting a missing
	// playlist. Reads return (nil, nil) instead so a missing playlist is
	// not confused with a storage failure.
	ErrPlaylistNotFound = errors.New("library: playlist not found")

	// ErrTrackNotFound is returned by mutations targeting a missing track.
	ErrTrackNotFound = errors.New("library: track not found")

	// ErrNFCTagInUse is returned when associating a tag already bound to
	// another playlist.
	ErrNFCTagInUse = errors.New("library: nfc tag already associated")
)

// Options tunes the store.
type Options struct {
	// CacheSize is the playlist read-cache capacity.
	CacheSize int

	// CacheTTL is the read-cache entry lifetime.
	CacheTTL time.Duration
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{CacheSize: 128, CacheTTL: time.Minute}
}

// Store is the SQLite-backed playlist library.
type Store struct {
	db *sql.DB

	// cache holds fully hydrated playlists keyed by id. Entries expire on
	// their own and are purged eagerly on every mutation.
	cache *expirable.LRU[string, models.PlaylistRecord]
}

// Open opens (and if needed creates) the library database at path with
// default options. Pass ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, DefaultOptions())
}

// OpenWithOptions opens the library database with explicit tuning.
func OpenWithOptions(path string, options Options) (*Store, error) {
	if options.CacheSize <= 0 {
		options.CacheSize = DefaultOptions().CacheSize
	}
	if options.CacheTTL <= 0 {
		options.CacheTTL = DefaultOptions().CacheTTL
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("library: open %s: %w", path, err)
	}

	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	if path != ":memory:" {
		pragmas = append(pragmas,
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
		)
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("library: %s: %w", pragma, err)
		}
	}

	store := &Store{
		db:    db,
		cache: expirable.NewLRU[string, models.PlaylistRecord](options.CacheSize, nil, options.CacheTTL),
	}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.Info().Str("path", path).Msg("library opened")
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS playlists (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	nfc_tag_id TEXT UNIQUE,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tracks (
	id           TEXT PRIMARY KEY,
	playlist_id  TEXT NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
	track_number INTEGER NOT NULL,
	title        TEXT NOT NULL,
	artist       TEXT NOT NULL DEFAULT '',
	album        TEXT NOT NULL DEFAULT '',
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	file_path    TEXT NOT NULL,
	UNIQUE (playlist_id, track_number)
);

CREATE INDEX IF NOT EXISTS idx_tracks_playlist ON tracks(playlist_id, track_number);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("library: migrate: %w", err)
	}
	return nil
}

// Playlists returns the playlist index with track counts, without tracks.
func (s *Store) Playlists(ctx context.Context) ([]models.PlaylistRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.title, COALESCE(p.nfc_tag_id, ''), p.created_at, p.updated_at,
		       COUNT(t.id)
		FROM playlists p
		LEFT JOIN tracks t ON t.playlist_id = p.id
		GROUP BY p.id
		ORDER BY p.created_at, p.id`)
	if err != nil {
		return nil, fmt.Errorf("library: list playlists: %w", err)
	}
	defer rows.Close()

	var playlists []models.PlaylistRecord
	for rows.Next() {
		var p models.PlaylistRecord
		var createdMS, updatedMS int64
		if err := rows.Scan(&p.ID, &p.Title, &p.NFCTagID, &createdMS, &updatedMS, &p.TrackCount); err != nil {
			return nil, fmt.Errorf("library: scan playlist: %w", err)
		}
		p.CreatedAt = time.UnixMilli(createdMS)
		p.UpdatedAt = time.UnixMilli(updatedMS)
		playlists = append(playlists, p)
	}
	return playlists, rows.Err()
}

// Playlist returns one playlist with its tracks in playback order, or
// (nil, nil) when it does not exist.
func (s *Store) Playlist(ctx context.Context, id string) (*models.PlaylistRecord, error) {
	if cached, ok := s.cache.Get(id); ok {
		return &cached, nil
	}

	var p models.PlaylistRecord
	var createdMS, updatedMS int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, COALESCE(nfc_tag_id, ''), created_at, updated_at
		FROM playlists WHERE id = ?`, id).
		Scan(&p.ID, &p.Title, &p.NFCTagID, &createdMS, &updatedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("library: load playlist %s: %w", id, err)
	}
	p.CreatedAt = time.UnixMilli(createdMS)
	p.UpdatedAt = time.UnixMilli(updatedMS)

	tracks, err := s.playlistTracks(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Tracks = tracks
	p.TrackCount = len(tracks)

	s.cache.Add(id, p)
	return &p, nil
}

func (s *Store) playlistTracks(ctx context.Context, playlistID string) ([]models.TrackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, playlist_id, track_number, title, artist, album, duration_ms, file_path
		FROM tracks WHERE playlist_id = ? ORDER BY track_number`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("library: load tracks for %s: %w", playlistID, err)
	}
	defer rows.Close()

	var tracks []models.TrackRecord
	for rows.Next() {
		var t models.TrackRecord
		var duration sql.NullInt64
		if err := rows.Scan(&t.ID, &t.PlaylistID, &t.TrackNumber, &t.Title, &t.Artist, &t.Album, &duration, &t.FilePath); err != nil {
			return nil, fmt.Errorf("library: scan track: %w", err)
		}
		t.DurationMS = duration.Int64
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// PlaylistByNFCTag resolves a physical tag to its playlist, or (nil, nil)
// when the tag is unbound.
func (s *Store) PlaylistByNFCTag(ctx context.Context, tagID string) (*models.PlaylistRecord, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM playlists WHERE nfc_tag_id = ?`, tagID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("library: resolve nfc tag: %w", err)
	}
	return s.Playlist(ctx, id)
}

// CreatePlaylist inserts an empty playlist.
func (s *Store) CreatePlaylist(ctx context.Context, title string) (*models.PlaylistRecord, error) {
	now := time.Now()
	p := models.PlaylistRecord{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playlists (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		p.ID, p.Title, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("library: create playlist: %w", err)
	}
	logging.Info().Str("playlist_id", p.ID).Str("title", title).Msg("playlist created")
	return &p, nil
}

// RenamePlaylist updates the playlist title and returns the fresh record.
func (s *Store) RenamePlaylist(ctx context.Context, id, title string) (*models.PlaylistRecord, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE playlists SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("library: rename playlist: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrPlaylistNotFound
	}
	s.cache.Remove(id)
	return s.Playlist(ctx, id)
}

// DeletePlaylist removes a playlist and, via cascade, its tracks.
func (s *Store) DeletePlaylist(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM playlists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("library: delete playlist: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPlaylistNotFound
	}
	s.cache.Remove(id)
	logging.Info().Str("playlist_id", id).Msg("playlist deleted")
	return nil
}

// AddTrack appends a track to a playlist. A zero TrackNumber places the
// track at the end.
func (s *Store) AddTrack(ctx context.Context, playlistID string, track models.TrackRecord) (*models.TrackRecord, error) {
	existing, err := s.Playlist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrPlaylistNotFound
	}

	track.ID = uuid.NewString()
	track.PlaylistID = playlistID
	if track.DurationMS < 0 {
		track.DurationMS = 0
	}
	if track.TrackNumber == 0 {
		var next sql.NullInt64
		if err := s.db.QueryRowContext(ctx,
			`SELECT MAX(track_number) FROM tracks WHERE playlist_id = ?`, playlistID).Scan(&next); err != nil {
			return nil, fmt.Errorf("library: next track number: %w", err)
		}
		track.TrackNumber = int(next.Int64) + 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tracks (id, playlist_id, track_number, title, artist, album, duration_ms, file_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		track.ID, track.PlaylistID, track.TrackNumber, track.Title, track.Artist, track.Album, track.DurationMS, track.FilePath)
	if err != nil {
		return nil, fmt.Errorf("library: add track: %w", err)
	}
	s.touchPlaylist(ctx, playlistID)
	return &track, nil
}

// TrackUpdate carries the mutable track fields; nil fields are unchanged.
type TrackUpdate struct {
	Title      *string
	Artist     *string
	Album      *string
	DurationMS *int64
}

// UpdateTrack applies a partial update and returns the fresh record.
func (s *Store) UpdateTrack(ctx context.Context, playlistID, trackID string, upd TrackUpdate) (*models.TrackRecord, error) {
	var t models.TrackRecord
	var duration sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, playlist_id, track_number, title, artist, album, duration_ms, file_path
		FROM tracks WHERE id = ? AND playlist_id = ?`, trackID, playlistID).
		Scan(&t.ID, &t.PlaylistID, &t.TrackNumber, &t.Title, &t.Artist, &t.Album, &duration, &t.FilePath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTrackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("library: load track: %w", err)
	}
	t.DurationMS = duration.Int64

	if upd.Title != nil {
		t.Title = *upd.Title
	}
	if upd.Artist != nil {
		t.Artist = *upd.Artist
	}
	if upd.Album != nil {
		t.Album = *upd.Album
	}
	if upd.DurationMS != nil {
		t.DurationMS = *upd.DurationMS
		if t.DurationMS < 0 {
			t.DurationMS = 0
		}
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE tracks SET title = ?, artist = ?, album = ?, duration_ms = ? WHERE id = ?`,
		t.Title, t.Artist, t.Album, t.DurationMS, t.ID)
	if err != nil {
		return nil, fmt.Errorf("library: update track: %w", err)
	}
	s.touchPlaylist(ctx, playlistID)
	return &t, nil
}

// DeleteTrack removes one track from a playlist.
func (s *Store) DeleteTrack(ctx context.Context, playlistID, trackID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tracks WHERE id = ? AND playlist_id = ?`, trackID, playlistID)
	if err != nil {
		return fmt.Errorf("library: delete track: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTrackNotFound
	}
	s.touchPlaylist(ctx, playlistID)
	return nil
}

// AssociateNFCTag binds a physical tag to a playlist. An empty tagID clears
// the association.
func (s *Store) AssociateNFCTag(ctx context.Context, playlistID, tagID string) error {
	if tagID != "" {
		var holder string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM playlists WHERE nfc_tag_id = ? AND id != ?`, tagID, playlistID).Scan(&holder)
		if err == nil {
			return fmt.Errorf("%w: tag %s bound to playlist %s", ErrNFCTagInUse, tagID, holder)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("library: check nfc tag: %w", err)
		}
	}

	var tag any
	if tagID != "" {
		tag = tagID
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE playlists SET nfc_tag_id = ?, updated_at = ? WHERE id = ?`,
		tag, time.Now().UnixMilli(), playlistID)
	if err != nil {
		return fmt.Errorf("library: associate nfc tag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPlaylistNotFound
	}
	s.cache.Remove(playlistID)
	logging.Info().Str("playlist_id", playlistID).Str("nfc_tag_id", tagID).Msg("nfc tag associated")
	return nil
}

// touchPlaylist bumps updated_at and invalidates the cached entry after a
// track mutation.
func (s *Store) touchPlaylist(ctx context.Context, playlistID string) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE playlists SET updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), playlistID); err != nil {
		logging.Warn().Err(err).Str("playlist_id", playlistID).Msg("failed to touch playlist")
	}
	s.cache.Remove(playlistID)
}
