// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

// Package api provides the HTTP surface of the backend: playlist and track
// management, player controls, NFC tag handling, health and metrics, and
// the websocket upgrade endpoint.
//
// Mutating endpoints participate in the idempotency protocol: a request may
// carry a client_op_id, and a replayed id returns the cached result of the
// first execution instead of performing the operation again. Every applied
// mutation is broadcast through the state synchronization manager before
// the HTTP response is written.
package api
