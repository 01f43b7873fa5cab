// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/melobox/melobox/internal/library"
	"github.com/melobox/melobox/internal/player"
	"github.com/melobox/melobox/internal/statesync"
)

// Handler bundles the dependencies of the HTTP surface.
type Handler struct {
	store  *library.Store
	player *player.Player
	sync   *statesync.Manager
	ws     http.Handler
}

// NewHandler creates the HTTP handler set.
func NewHandler(store *library.Store, p *player.Player, sync *statesync.Manager, ws http.Handler) *Handler {
	return &Handler{store: store, player: p, sync: sync, ws: ws}
}

// Router assembles the chi route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// The websocket upgrade stays outside the instrumented group: the
	// metrics wrapper does not implement http.Hijacker.
	if h.ws != nil {
		r.Handle("/ws", h.ws)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(prometheusMetrics)
		r.Use(accessLog)

		r.Route("/playlists", func(r chi.Router) {
			r.Get("/", h.ListPlaylists)
			r.Post("/", h.CreatePlaylist)

			r.Route("/{playlistID}", func(r chi.Router) {
				r.Get("/", h.GetPlaylist)
				r.Patch("/", h.RenamePlaylist)
				r.Delete("/", h.DeletePlaylist)

				r.Post("/tracks", h.AddTrack)
				r.Patch("/tracks/{trackID}", h.UpdateTrack)
				r.Delete("/tracks/{trackID}", h.DeleteTrack)

				r.Put("/nfc", h.AssociateNFCTag)
			})
		})

		r.Route("/player", func(r chi.Router) {
			r.Get("/", h.PlayerStatus)
			r.Post("/load", h.LoadPlaylist)
			r.Post("/play", h.Play)
			r.Post("/pause", h.Pause)
			r.Post("/stop", h.Stop)
			r.Post("/next", h.Next)
			r.Post("/previous", h.Previous)
			r.Post("/seek", h.Seek)
			r.Post("/volume", h.SetVolume)
		})

		r.Post("/nfc/scan", h.NFCScan)
	})

	return r
}
