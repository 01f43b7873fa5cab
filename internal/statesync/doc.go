// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

// Package statesync keeps every connected client consistent with the
// server-authoritative player and playlist state.
//
// # Architecture
//
// The package is composed of small single-owner components behind the
// Manager facade:
//
//   - SequenceGenerator: global and per-playlist monotonic counters that
//     establish event ordering.
//   - SubscriptionManager: the (client, room) relation; rooms are
//     "playlists" (global) and "playlist:<id>" (scoped).
//   - OperationTracker: deduplicates client-supplied operation ids so
//     at-least-once client retries become effectively-once server effects.
//   - EventOutbox: a bounded best-effort FIFO of outbound envelopes with
//     capacity eviction and bounded redelivery.
//   - Coordinator: stamps sequence numbers, buffers envelopes and pushes
//     them over the transport; throttles live position updates.
//   - SnapshotService: sends full-state snapshots to newly subscribed
//     clients so they initialize without replaying history.
//   - Manager: the facade used by HTTP handlers, the WebSocket layer and
//     background services; owns the periodic cleanup loop.
//
// # Ordering guarantees
//
// Every broadcast envelope carries a globally monotonic server_seq and, for
// playlist-scoped events, a per-playlist playlist_seq. Sequence assignment
// and outbox insertion happen atomically with respect to concurrent
// broadcasters, so envelope order always matches sequence order. Sequence
// numbers are never reused, even when delivery fails. Counters restart from
// zero with the process; clients resynchronize via snapshot on reconnect
// rather than applying deltas across a restart.
//
// Each component owns its state exclusively; cross-component interaction
// goes through public methods only, and no lock is held across a transport
// call.
package statesync
