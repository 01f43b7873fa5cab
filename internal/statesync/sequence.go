// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package statesync

import "sync"

// SequenceGenerator issues monotonically increasing sequence numbers: one
// global counter and one counter per playlist id, created lazily. Counters
// live for the process lifetime and are never reset.
type SequenceGenerator struct {
	mu        sync.Mutex
	global    uint64
	playlists map[string]uint64
}

// NewSequenceGenerator creates a SequenceGenerator with all counters at zero.
func NewSequenceGenerator() *SequenceGenerator {
	return &SequenceGenerator{
		playlists: make(map[string]uint64),
	}
}

// NextGlobal atomically increments and returns the global counter.
func (g *SequenceGenerator) NextGlobal() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.global++
	return g.global
}

// NextPlaylist atomically increments and returns the counter for
// playlistID, initializing it on first use.
func (g *SequenceGenerator) NextPlaylist(playlistID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.playlists[playlistID]++
	return g.playlists[playlistID]
}

// CurrentGlobal returns the global counter without advancing it.
func (g *SequenceGenerator) CurrentGlobal() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.global
}

// CurrentPlaylist returns the counter for playlistID without advancing it.
// Unseen ids read as zero.
func (g *SequenceGenerator) CurrentPlaylist(playlistID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.playlists[playlistID]
}
