// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/melobox/melobox/internal/library"
	"github.com/melobox/melobox/internal/logging"
	"github.com/melobox/melobox/internal/models"
	"github.com/melobox/melobox/internal/statesync"
)

// replayCached short-circuits a mutation whose client_op_id was already
// processed: the cached result is served again and a fresh acknowledgment
// broadcast, so a client retrying after a lost response converges.
func (h *Handler) replayCached(w http.ResponseWriter, r *http.Request, clientOpID string) bool {
	if clientOpID == "" || !h.sync.IsOperationProcessed(clientOpID) {
		return false
	}
	cached, _ := h.sync.OperationResult(clientOpID)
	data, _ := cached.(map[string]any)
	if err := h.sync.SendAcknowledgment(r.Context(), clientOpID, true, data, ""); err != nil {
		logging.Warn().Err(err).Str("client_op_id", clientOpID).Msg("replay acknowledgment failed")
	}
	respondSuccess(w, cached)
	return true
}

// completeOperation records, broadcasts and acknowledges an applied
// mutation in that order, so a retry arriving after the broadcast is
// already deduplicated.
func (h *Handler) completeOperation(ctx context.Context, clientOpID string, eventType statesync.EventType, data map[string]any, opts statesync.BroadcastOptions) {
	if clientOpID != "" {
		h.sync.MarkOperationProcessed(clientOpID, data)
	}
	if _, err := h.sync.BroadcastStateChange(ctx, eventType, data, opts); err != nil {
		logging.Warn().Err(err).Str("event_type", string(eventType)).Msg("state broadcast failed")
	}
	if clientOpID != "" {
		if err := h.sync.SendAcknowledgment(ctx, clientOpID, true, data, ""); err != nil {
			logging.Warn().Err(err).Str("client_op_id", clientOpID).Msg("acknowledgment failed")
		}
	}
}

// failOperation reports a failed mutation to subscribed clients.
func (h *Handler) failOperation(ctx context.Context, clientOpID, message string) {
	if clientOpID == "" {
		return
	}
	if err := h.sync.SendAcknowledgment(ctx, clientOpID, false, map[string]any{"message": message}, ""); err != nil {
		logging.Warn().Err(err).Str("client_op_id", clientOpID).Msg("error acknowledgment failed")
	}
}

// broadcastIndexUpdate refreshes the playlist's index entry (track count,
// total duration, updated_at) for global-room clients after a track
// mutation, which is otherwise only visible in the playlist room.
func (h *Handler) broadcastIndexUpdate(ctx context.Context, playlistID string) {
	playlist, err := h.store.Playlist(ctx, playlistID)
	if err != nil || playlist == nil {
		return
	}
	data := map[string]any{"playlist": h.sync.SerializePlaylist(*playlist, false)}
	if _, err := h.sync.BroadcastStateChange(ctx, statesync.EventPlaylistsIndexUpdate, data, statesync.BroadcastOptions{}); err != nil {
		logging.Warn().Err(err).Str("playlist_id", playlistID).Msg("index update broadcast failed")
	}
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// ListPlaylists returns the playlist index.
func (h *Handler) ListPlaylists(w http.ResponseWriter, r *http.Request) {
	playlists, err := h.store.Playlists(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("failed to list playlists")
		respondInternalError(w, "failed to list playlists")
		return
	}
	respondSuccess(w, map[string]any{"playlists": h.sync.SerializePlaylists(playlists)})
}

// GetPlaylist returns one playlist with its tracks.
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "playlistID")
	playlist, err := h.store.Playlist(r.Context(), id)
	if err != nil {
		logging.Error().Err(err).Str("playlist_id", id).Msg("failed to load playlist")
		respondInternalError(w, "failed to load playlist")
		return
	}
	if playlist == nil {
		respondNotFound(w, "playlist not found")
		return
	}
	respondSuccess(w, map[string]any{"playlist": h.sync.SerializePlaylist(*playlist, true)})
}

type createPlaylistRequest struct {
	Title      string `json:"title"`
	ClientOpID string `json:"client_op_id"`
}

// CreatePlaylist creates an empty playlist and broadcasts its creation.
func (h *Handler) CreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req createPlaylistRequest
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		h.failOperation(r.Context(), req.ClientOpID, "title is required")
		respondBadRequest(w, "title is required")
		return
	}
	if h.replayCached(w, r, req.ClientOpID) {
		return
	}

	playlist, err := h.store.CreatePlaylist(r.Context(), strings.TrimSpace(req.Title))
	if err != nil {
		logging.Error().Err(err).Msg("failed to create playlist")
		h.failOperation(r.Context(), req.ClientOpID, "failed to create playlist")
		respondInternalError(w, "failed to create playlist")
		return
	}

	data := h.sync.SerializePlaylist(*playlist, false)
	h.completeOperation(r.Context(), req.ClientOpID, statesync.EventPlaylistCreated, data, statesync.BroadcastOptions{Immediate: true})
	respondCreated(w, data)
}

type renamePlaylistRequest struct {
	Title      string `json:"title"`
	ClientOpID string `json:"client_op_id"`
}

// RenamePlaylist updates the playlist title.
func (h *Handler) RenamePlaylist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "playlistID")
	var req renamePlaylistRequest
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		h.failOperation(r.Context(), req.ClientOpID, "title is required")
		respondBadRequest(w, "title is required")
		return
	}
	if h.replayCached(w, r, req.ClientOpID) {
		return
	}

	playlist, err := h.store.RenamePlaylist(r.Context(), id, strings.TrimSpace(req.Title))
	if errors.Is(err, library.ErrPlaylistNotFound) {
		h.failOperation(r.Context(), req.ClientOpID, "playlist not found")
		respondNotFound(w, "playlist not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("playlist_id", id).Msg("failed to rename playlist")
		h.failOperation(r.Context(), req.ClientOpID, "failed to rename playlist")
		respondInternalError(w, "failed to rename playlist")
		return
	}

	data := h.sync.SerializePlaylist(*playlist, false)
	h.completeOperation(r.Context(), req.ClientOpID, statesync.EventPlaylistUpdated, data, statesync.BroadcastOptions{Immediate: true})
	respondSuccess(w, data)
}

// DeletePlaylist removes a playlist. The client_op_id travels as a query
// parameter since DELETE carries no body.
func (h *Handler) DeletePlaylist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "playlistID")
	clientOpID := r.URL.Query().Get("client_op_id")
	if h.replayCached(w, r, clientOpID) {
		return
	}

	err := h.store.DeletePlaylist(r.Context(), id)
	if errors.Is(err, library.ErrPlaylistNotFound) {
		h.failOperation(r.Context(), clientOpID, "playlist not found")
		respondNotFound(w, "playlist not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("playlist_id", id).Msg("failed to delete playlist")
		h.failOperation(r.Context(), clientOpID, "failed to delete playlist")
		respondInternalError(w, "failed to delete playlist")
		return
	}

	data := map[string]any{"id": id}
	h.completeOperation(r.Context(), clientOpID, statesync.EventPlaylistDeleted, data, statesync.BroadcastOptions{Immediate: true})
	respondSuccess(w, data)
}

type addTrackRequest struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	DurationMS  int64  `json:"duration_ms"`
	FilePath    string `json:"file_path"`
	TrackNumber int    `json:"track_number"`
	ClientOpID  string `json:"client_op_id"`
}

// AddTrack appends a track to a playlist.
func (h *Handler) AddTrack(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlistID")
	var req addTrackRequest
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.FilePath) == "" {
		h.failOperation(r.Context(), req.ClientOpID, "title and file_path are required")
		respondBadRequest(w, "title and file_path are required")
		return
	}
	if h.replayCached(w, r, req.ClientOpID) {
		return
	}

	track, err := h.store.AddTrack(r.Context(), playlistID, models.TrackRecord{
		Title:       strings.TrimSpace(req.Title),
		Artist:      req.Artist,
		Album:       req.Album,
		DurationMS:  req.DurationMS,
		FilePath:    req.FilePath,
		TrackNumber: req.TrackNumber,
	})
	if errors.Is(err, library.ErrPlaylistNotFound) {
		h.failOperation(r.Context(), req.ClientOpID, "playlist not found")
		respondNotFound(w, "playlist not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("playlist_id", playlistID).Msg("failed to add track")
		h.failOperation(r.Context(), req.ClientOpID, "failed to add track")
		respondInternalError(w, "failed to add track")
		return
	}

	data := map[string]any{
		"playlist_id": playlistID,
		"track":       statesync.SerializeTrack(*track),
	}
	h.completeOperation(r.Context(), req.ClientOpID, statesync.EventTrackAdded, data,
		statesync.BroadcastOptions{PlaylistID: playlistID, Immediate: true})
	h.broadcastIndexUpdate(r.Context(), playlistID)
	respondCreated(w, data)
}

type updateTrackRequest struct {
	Title      *string `json:"title"`
	Artist     *string `json:"artist"`
	Album      *string `json:"album"`
	DurationMS *int64  `json:"duration_ms"`
	ClientOpID string  `json:"client_op_id"`
}

// UpdateTrack applies a partial track update.
func (h *Handler) UpdateTrack(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlistID")
	trackID := chi.URLParam(r, "trackID")
	var req updateTrackRequest
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if h.replayCached(w, r, req.ClientOpID) {
		return
	}

	track, err := h.store.UpdateTrack(r.Context(), playlistID, trackID, library.TrackUpdate{
		Title:      req.Title,
		Artist:     req.Artist,
		Album:      req.Album,
		DurationMS: req.DurationMS,
	})
	if errors.Is(err, library.ErrTrackNotFound) {
		h.failOperation(r.Context(), req.ClientOpID, "track not found")
		respondNotFound(w, "track not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("track_id", trackID).Msg("failed to update track")
		h.failOperation(r.Context(), req.ClientOpID, "failed to update track")
		respondInternalError(w, "failed to update track")
		return
	}

	data := map[string]any{
		"playlist_id": playlistID,
		"track":       statesync.SerializeTrack(*track),
	}
	h.completeOperation(r.Context(), req.ClientOpID, statesync.EventTrackUpdated, data,
		statesync.BroadcastOptions{PlaylistID: playlistID, Immediate: true})
	h.broadcastIndexUpdate(r.Context(), playlistID)
	respondSuccess(w, data)
}

// DeleteTrack removes one track.
func (h *Handler) DeleteTrack(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlistID")
	trackID := chi.URLParam(r, "trackID")
	clientOpID := r.URL.Query().Get("client_op_id")
	if h.replayCached(w, r, clientOpID) {
		return
	}

	err := h.store.DeleteTrack(r.Context(), playlistID, trackID)
	if errors.Is(err, library.ErrTrackNotFound) {
		h.failOperation(r.Context(), clientOpID, "track not found")
		respondNotFound(w, "track not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("track_id", trackID).Msg("failed to delete track")
		h.failOperation(r.Context(), clientOpID, "failed to delete track")
		respondInternalError(w, "failed to delete track")
		return
	}

	data := map[string]any{"playlist_id": playlistID, "track_id": trackID}
	h.completeOperation(r.Context(), clientOpID, statesync.EventTrackDeleted, data,
		statesync.BroadcastOptions{PlaylistID: playlistID, Immediate: true})
	h.broadcastIndexUpdate(r.Context(), playlistID)
	respondSuccess(w, data)
}

type associateNFCTagRequest struct {
	NFCTagID   string `json:"nfc_tag_id"`
	ClientOpID string `json:"client_op_id"`
}

// AssociateNFCTag binds (or with an empty id clears) a physical tag.
func (h *Handler) AssociateNFCTag(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlistID")
	var req associateNFCTagRequest
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if h.replayCached(w, r, req.ClientOpID) {
		return
	}

	err := h.store.AssociateNFCTag(r.Context(), playlistID, req.NFCTagID)
	switch {
	case errors.Is(err, library.ErrPlaylistNotFound):
		h.failOperation(r.Context(), req.ClientOpID, "playlist not found")
		respondNotFound(w, "playlist not found")
		return
	case errors.Is(err, library.ErrNFCTagInUse):
		h.failOperation(r.Context(), req.ClientOpID, "nfc tag already associated")
		respondConflict(w, "nfc tag already associated with another playlist")
		return
	case err != nil:
		logging.Error().Err(err).Str("playlist_id", playlistID).Msg("failed to associate nfc tag")
		h.failOperation(r.Context(), req.ClientOpID, "failed to associate nfc tag")
		respondInternalError(w, "failed to associate nfc tag")
		return
	}

	playlist, err := h.store.Playlist(r.Context(), playlistID)
	if err != nil || playlist == nil {
		respondInternalError(w, "failed to reload playlist")
		return
	}

	data := h.sync.SerializePlaylist(*playlist, false)
	h.completeOperation(r.Context(), req.ClientOpID, statesync.EventPlaylistUpdated, data, statesync.BroadcastOptions{Immediate: true})
	respondSuccess(w, data)
}
