// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

// Package websocket implements the realtime transport between the backend
// and connected control clients.
//
// The Hub tracks connected clients and their room memberships and delivers
// events either to a room or to a single client. It satisfies the Transport
// interface the state synchronization core is built against, so the core
// never imports this package.
//
// Each Client owns its connection through a read pump and a write pump.
// All outbound writes funnel through a buffered per-client send channel;
// a client that cannot drain its channel is disconnected rather than
// allowed to stall the hub. Inbound messages are rate limited per client
// and dispatched to the session layer (room joins, leaves and explicit
// resync requests).
package websocket
