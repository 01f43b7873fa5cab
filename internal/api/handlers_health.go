// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package api

import (
	"net/http"
	"time"
)

// Health reports liveness plus a point-in-time view of the state
// synchronization core.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
		"sync":      h.sync.HealthMetrics(),
	})
}
