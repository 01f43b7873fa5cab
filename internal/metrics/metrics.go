// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

// Package metrics provides Prometheus instrumentation for Melobox.
//
// Covered surfaces:
//   - State event broadcasting (per event type)
//   - Event outbox occupancy, eviction, retries and drops
//   - WebSocket connections and room subscriptions
//   - Idempotent operation deduplication
//   - Snapshot and acknowledgment delivery
//   - API endpoint latency and throughput
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// State broadcasting metrics
	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melobox_events_broadcast_total",
			Help: "Total number of state events broadcast, by event type",
		},
		[]string{"event_type"},
	)

	PositionUpdatesThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "melobox_position_updates_throttled_total",
			Help: "Total number of track position updates dropped by throttling",
		},
	)

	// Outbox metrics
	OutboxSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "melobox_outbox_entries",
			Help: "Current number of buffered outbox entries",
		},
	)

	OutboxEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "melobox_outbox_evicted_total",
			Help: "Total number of outbox entries evicted at capacity",
		},
	)

	OutboxRetried = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "melobox_outbox_retried_total",
			Help: "Total number of outbox entries re-queued after a failed delivery",
		},
	)

	OutboxDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "melobox_outbox_dropped_total",
			Help: "Total number of outbox entries dropped after exhausting retries",
		},
	)

	// WebSocket metrics
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "melobox_websocket_clients",
			Help: "Current number of connected WebSocket clients",
		},
	)

	RoomSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "melobox_room_subscriptions",
			Help: "Current number of (client, room) subscriptions",
		},
	)

	// Idempotency metrics
	DuplicateOperations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "melobox_duplicate_operations_total",
			Help: "Total number of client operations short-circuited as duplicates",
		},
	)

	TrackedOperations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "melobox_tracked_operations",
			Help: "Current number of tracked client operation ids",
		},
	)

	// Delivery metrics
	SnapshotsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melobox_snapshots_sent_total",
			Help: "Total number of state snapshots sent to subscribing clients",
		},
		[]string{"room_kind"}, // "playlists", "playlist"
	)

	AcknowledgmentsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melobox_acknowledgments_sent_total",
			Help: "Total number of operation acknowledgments sent",
		},
		[]string{"result"}, // "success", "error"
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "melobox_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "melobox_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint"},
	)
)
