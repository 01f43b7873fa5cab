// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package websocket

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/melobox/melobox/internal/logging"
	"github.com/melobox/melobox/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path.
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline may indicate a hung shutdown operation.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message is the wire frame exchanged with clients.
type Message struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Session is the slice of the state synchronization surface the transport
// layer needs for connection lifecycle and inbound client requests.
type Session interface {
	HandleConnect(ctx context.Context, clientID string) error
	HandleDisconnect(ctx context.Context, clientID string)
	SubscribeClient(ctx context.Context, clientID, room string) error
	UnsubscribeClient(ctx context.Context, clientID, room string) error
	Resync(ctx context.Context, clientID string) error
	GlobalSequence() uint64
}

// ErrClientNotConnected is returned by EmitToClient when the target client
// has no live connection.
var ErrClientNotConnected = fmt.Errorf("websocket: client not connected")

// Hub maintains the set of active clients, their room memberships, and
// delivers events to rooms or single clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client

	Register   chan *Client
	Unregister chan *Client

	sessionMu sync.RWMutex
	session   Session
}

// NewHub creates a Hub with no session attached. SetSession must be called
// before the first connection is accepted.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// SetSession attaches the session layer. The hub and the session layer are
// constructed in a cycle (the session broadcasts through the hub, the hub
// dispatches inbound requests to the session), so the session arrives after
// construction.
func (h *Hub) SetSession(s Session) {
	h.sessionMu.Lock()
	defer h.sessionMu.Unlock()
	h.session = s
}

func (h *Hub) sessionHandler() Session {
	h.sessionMu.RLock()
	defer h.sessionMu.RUnlock()
	return h.session
}

// Serve runs the client lifecycle loop until ctx is canceled. It implements
// suture.Service.
//
// Lifecycle events are handled with priority over shutdown polling so that
// a flood of registrations cannot starve an unregister, and vice versa the
// loop always notices cancellation between events.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.addClient(ctx, client)

		case client := <-h.Unregister:
			h.removeClient(ctx, client)
		}
	}
}

// addClient registers the connection and notifies the session so the client
// receives its connection acknowledgment.
func (h *Hub) addClient(ctx context.Context, client *Client) {
	h.mu.Lock()
	h.clients[client.id] = client
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedClients.Set(float64(total))
	logging.Info().
		Str("client_id", client.id).
		Int("total_clients", total).
		Msg("websocket client connected")

	if session := h.sessionHandler(); session != nil {
		if err := session.HandleConnect(ctx, client.id); err != nil {
			logging.Warn().Err(err).Str("client_id", client.id).Msg("connect acknowledgment failed")
		}
	}
}

// removeClient drops the connection from all rooms and notifies the session
// so its subscriptions are released.
func (h *Hub) removeClient(ctx context.Context, client *Client) {
	h.mu.Lock()
	_, known := h.clients[client.id]
	if known {
		delete(h.clients, client.id)
		h.detachFromRoomsLocked(client.id)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !known {
		return
	}

	metrics.ConnectedClients.Set(float64(total))
	logging.Info().
		Str("client_id", client.id).
		Int("total_clients", total).
		Msg("websocket client disconnected")

	if session := h.sessionHandler(); session != nil {
		session.HandleDisconnect(ctx, client.id)
	}
}

// detachFromRoomsLocked removes the client from every room. Caller holds mu.
func (h *Hub) detachFromRoomsLocked(clientID string) {
	for room, members := range h.rooms {
		if _, ok := members[clientID]; ok {
			delete(members, clientID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
}

// Emit delivers an event to every member of a room in deterministic order.
// A room with no members is not an error. Clients whose send buffers are
// full are disconnected rather than allowed to block the broadcast.
func (h *Hub) Emit(_ context.Context, event string, payload any, room string) error {
	msg := Message{Event: event, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()

	members := make([]*Client, 0, len(h.rooms[room]))
	for _, client := range h.rooms[room] {
		members = append(members, client)
	}
	// Connection order gives a stable delivery order per broadcast.
	sort.Slice(members, func(i, j int) bool {
		return members[i].seq < members[j].seq
	})

	for _, client := range members {
		select {
		case client.send <- msg:
		default:
			h.dropSlowClientLocked(client, event)
		}
	}
	return nil
}

// EmitToClient delivers an event to a single connected client.
func (h *Hub) EmitToClient(_ context.Context, event string, payload any, clientID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrClientNotConnected, clientID)
	}

	select {
	case client.send <- Message{Event: event, Payload: payload}:
		return nil
	default:
		h.dropSlowClientLocked(client, event)
		return fmt.Errorf("%w: %s send buffer full", ErrClientNotConnected, clientID)
	}
}

// dropSlowClientLocked disconnects a client that cannot drain its send
// buffer. The client reconnects and re-snapshots instead of receiving a
// gapped stream. Caller holds mu.
func (h *Hub) dropSlowClientLocked(client *Client, event string) {
	if _, ok := h.clients[client.id]; !ok {
		return
	}
	delete(h.clients, client.id)
	h.detachFromRoomsLocked(client.id)
	close(client.send)
	logging.Warn().
		Str("client_id", client.id).
		Str("event", event).
		Msg("send buffer full, disconnecting slow client")
}

// JoinRoom adds a connected client to a room.
func (h *Hub) JoinRoom(_ context.Context, clientID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrClientNotConnected, clientID)
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Client)
	}
	h.rooms[room][clientID] = client
	return nil
}

// LeaveRoom removes a client from a room. Unknown memberships are a no-op.
func (h *Hub) LeaveRoom(_ context.Context, clientID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		return nil
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// logGracefulShutdown closes all clients and logs the shutdown. Context
// cancellation is expected behavior, not an error.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	h.mu.Lock()
	closed := len(h.clients)
	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
	h.rooms = make(map[string]map[string]*Client)
	h.mu.Unlock()

	metrics.ConnectedClients.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(shutdownReason(ctx))).
		Int("clients_closed", closed).
		Msg("websocket hub stopped")
}

func shutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}
