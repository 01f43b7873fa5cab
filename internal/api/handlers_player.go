// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package api

import (
	"errors"
	"net/http"

	"github.com/melobox/melobox/internal/logging"
	"github.com/melobox/melobox/internal/player"
	"github.com/melobox/melobox/internal/statesync"
)

// PlayerStatus returns the current playback state.
func (h *Handler) PlayerStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.player.PlaybackStatus(r.Context())
	if err != nil {
		respondInternalError(w, "failed to read player status")
		return
	}
	respondSuccess(w, statesync.SerializePlayerStatus(status))
}

type loadPlaylistRequest struct {
	PlaylistID string `json:"playlist_id"`
	Autoplay   bool   `json:"autoplay"`
	ClientOpID string `json:"client_op_id"`
}

// LoadPlaylist makes a playlist active on the player.
func (h *Handler) LoadPlaylist(w http.ResponseWriter, r *http.Request) {
	var req loadPlaylistRequest
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if req.PlaylistID == "" {
		h.failOperation(r.Context(), req.ClientOpID, "playlist_id is required")
		respondBadRequest(w, "playlist_id is required")
		return
	}
	if h.replayCached(w, r, req.ClientOpID) {
		return
	}

	err := h.player.LoadPlaylist(r.Context(), req.PlaylistID, req.Autoplay)
	if err != nil {
		h.respondPlayerError(w, r, req.ClientOpID, err, "failed to load playlist")
		return
	}
	h.respondPlayerState(w, r, req.ClientOpID)
}

type seekRequest struct {
	PositionMS int64  `json:"position_ms"`
	ClientOpID string `json:"client_op_id"`
}

// Seek moves the playhead within the current track.
func (h *Handler) Seek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if h.replayCached(w, r, req.ClientOpID) {
		return
	}
	if err := h.player.Seek(r.Context(), req.PositionMS); err != nil {
		h.respondPlayerError(w, r, req.ClientOpID, err, "seek failed")
		return
	}
	h.respondPlayerState(w, r, req.ClientOpID)
}

type volumeRequest struct {
	Volume     int    `json:"volume"`
	ClientOpID string `json:"client_op_id"`
}

// SetVolume sets the output volume.
func (h *Handler) SetVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if h.replayCached(w, r, req.ClientOpID) {
		return
	}
	if err := h.player.SetVolume(r.Context(), req.Volume); err != nil {
		h.respondPlayerError(w, r, req.ClientOpID, err, "volume change failed")
		return
	}
	h.respondPlayerState(w, r, req.ClientOpID)
}

// transportControl wraps the bodyless player controls.
func (h *Handler) transportControl(w http.ResponseWriter, r *http.Request, name string, op func() error) {
	clientOpID := r.URL.Query().Get("client_op_id")
	if h.replayCached(w, r, clientOpID) {
		return
	}
	if err := op(); err != nil {
		h.respondPlayerError(w, r, clientOpID, err, name+" failed")
		return
	}
	h.respondPlayerState(w, r, clientOpID)
}

// Play resumes playback.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	h.transportControl(w, r, "play", func() error { return h.player.Play(r.Context()) })
}

// Pause pauses playback.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transportControl(w, r, "pause", func() error { return h.player.Pause(r.Context()) })
}

// Stop halts playback and rewinds.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.transportControl(w, r, "stop", func() error { return h.player.Stop(r.Context()) })
}

// Next skips to the next track.
func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	h.transportControl(w, r, "next", func() error { return h.player.Next(r.Context()) })
}

// Previous restarts or jumps back one track.
func (h *Handler) Previous(w http.ResponseWriter, r *http.Request) {
	h.transportControl(w, r, "previous", func() error { return h.player.Previous(r.Context()) })
}

type nfcScanRequest struct {
	TagID      string `json:"tag_id"`
	ClientOpID string `json:"client_op_id"`
}

// NFCScan resolves a scanned tag to its playlist and starts playback.
// An unbound tag is not an error for the box: it responds with the scan
// result so the client can offer to associate the tag.
func (h *Handler) NFCScan(w http.ResponseWriter, r *http.Request) {
	var req nfcScanRequest
	if err := decodeBody(r, &req); err != nil {
		respondBadRequest(w, "invalid request body")
		return
	}
	if req.TagID == "" {
		respondBadRequest(w, "tag_id is required")
		return
	}
	if h.replayCached(w, r, req.ClientOpID) {
		return
	}

	playlist, err := h.store.PlaylistByNFCTag(r.Context(), req.TagID)
	if err != nil {
		logging.Error().Err(err).Str("tag_id", req.TagID).Msg("nfc tag lookup failed")
		h.failOperation(r.Context(), req.ClientOpID, "nfc tag lookup failed")
		respondInternalError(w, "nfc tag lookup failed")
		return
	}
	if playlist == nil {
		respondSuccess(w, map[string]any{"tag_id": req.TagID, "associated": false})
		return
	}

	if err := h.player.LoadPlaylist(r.Context(), playlist.ID, true); err != nil {
		h.respondPlayerError(w, r, req.ClientOpID, err, "failed to start playback")
		return
	}

	status, _ := h.player.PlaybackStatus(r.Context())
	data := map[string]any{
		"tag_id":      req.TagID,
		"associated":  true,
		"playlist_id": playlist.ID,
		"player":      statesync.SerializePlayerStatus(status),
	}
	if req.ClientOpID != "" {
		h.sync.MarkOperationProcessed(req.ClientOpID, data)
		if err := h.sync.SendAcknowledgment(r.Context(), req.ClientOpID, true, data, ""); err != nil {
			logging.Warn().Err(err).Str("client_op_id", req.ClientOpID).Msg("acknowledgment failed")
		}
	}
	respondSuccess(w, data)
}

// respondPlayerState serves the post-transition player state. The state
// broadcast already happened inside the player, so only the operation
// bookkeeping remains.
func (h *Handler) respondPlayerState(w http.ResponseWriter, r *http.Request, clientOpID string) {
	status, err := h.player.PlaybackStatus(r.Context())
	if err != nil {
		respondInternalError(w, "failed to read player status")
		return
	}
	data := statesync.SerializePlayerStatus(status)
	if clientOpID != "" {
		h.sync.MarkOperationProcessed(clientOpID, data)
		if err := h.sync.SendAcknowledgment(r.Context(), clientOpID, true, data, ""); err != nil {
			logging.Warn().Err(err).Str("client_op_id", clientOpID).Msg("acknowledgment failed")
		}
	}
	respondSuccess(w, data)
}

func (h *Handler) respondPlayerError(w http.ResponseWriter, r *http.Request, clientOpID string, err error, message string) {
	h.failOperation(r.Context(), clientOpID, message)
	switch {
	case errors.Is(err, player.ErrNoPlaylist), errors.Is(err, player.ErrPlaylistEmpty):
		respondConflict(w, err.Error())
	case errors.Is(err, player.ErrPlaylistNotFound):
		respondNotFound(w, "playlist not found")
	default:
		logging.Error().Err(err).Msg(message)
		respondInternalError(w, message)
	}
}
