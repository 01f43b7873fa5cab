// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/melobox/melobox/internal/logging"
	"github.com/melobox/melobox/internal/statesync"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // 64 KB

	// Inbound message budget per client. Control clients send a handful
	// of messages per user interaction; anything past this is abuse or a
	// runaway client.
	inboundRate  = 20
	inboundBurst = 40
)

// clientSeqCounter orders clients by connection time for deterministic
// broadcast delivery.
var clientSeqCounter atomic.Uint64

// Client is the middleman between one websocket connection and the hub.
type Client struct {
	id   string
	seq  uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	limiter *rate.Limiter
}

// NewClient creates a Client for an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:      uuid.NewString(),
		seq:     clientSeqCounter.Add(1),
		hub:     hub,
		conn:    conn,
		send:    make(chan Message, 256),
		limiter: rate.NewLimiter(rate.Limit(inboundRate), inboundBurst),
	}
}

// ID returns the client's connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Start begins the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump reads inbound messages and dispatches them to the session layer.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Str("client_id", c.id).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("client_id", c.id).Msg("unexpected websocket close")
			}
			return
		}

		if !c.limiter.Allow() {
			logging.Warn().Str("client_id", c.id).Msg("inbound rate limit exceeded, dropping message")
			continue
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logging.Warn().Err(err).Str("client_id", c.id).Msg("malformed inbound message")
			continue
		}
		c.handleMessage(msg)
	}
}

// handleMessage dispatches one inbound message. Unknown events are logged
// and dropped so a newer client cannot wedge an older backend.
func (c *Client) handleMessage(msg Message) {
	session := c.hub.sessionHandler()
	if session == nil {
		logging.Warn().Str("event", msg.Event).Msg("no session attached, dropping inbound message")
		return
	}
	ctx := context.Background()

	switch msg.Event {
	case statesync.WireJoinPlaylists:
		c.handleJoin(ctx, session, statesync.RoomPlaylists)

	case statesync.WireJoinPlaylist:
		if id := payloadPlaylistID(msg.Payload); id != "" {
			c.handleJoin(ctx, session, statesync.PlaylistRoom(id))
		} else {
			c.reply(statesync.WireAckJoin, map[string]any{"success": false, "error": "playlist_id required"})
		}

	case statesync.WireLeavePlaylists:
		c.handleLeave(ctx, session, statesync.RoomPlaylists)

	case statesync.WireLeavePlaylist:
		if id := payloadPlaylistID(msg.Payload); id != "" {
			c.handleLeave(ctx, session, statesync.PlaylistRoom(id))
		} else {
			c.reply(statesync.WireAckLeave, map[string]any{"success": false, "error": "playlist_id required"})
		}

	case statesync.WireSyncRequest:
		c.handleSyncRequest(ctx, session)

	default:
		logging.Debug().
			Str("client_id", c.id).
			Str("event", msg.Event).
			Msg("unknown inbound event")
	}
}

// handleJoin subscribes the client to a room. The snapshot is sent by the
// session layer before the join acknowledgment is queued, so the client
// observes snapshot, ack, then deltas.
func (c *Client) handleJoin(ctx context.Context, session Session, room string) {
	if err := session.SubscribeClient(ctx, c.id, room); err != nil {
		logging.Warn().Err(err).Str("client_id", c.id).Str("room", room).Msg("join failed")
		c.reply(statesync.WireAckJoin, map[string]any{"success": false, "room": room, "error": err.Error()})
		return
	}
	c.reply(statesync.WireAckJoin, map[string]any{"success": true, "room": room})
}

func (c *Client) handleLeave(ctx context.Context, session Session, room string) {
	if err := session.UnsubscribeClient(ctx, c.id, room); err != nil {
		logging.Warn().Err(err).Str("client_id", c.id).Str("room", room).Msg("leave failed")
		c.reply(statesync.WireAckLeave, map[string]any{"success": false, "room": room, "error": err.Error()})
		return
	}
	c.reply(statesync.WireAckLeave, map[string]any{"success": true, "room": room})
}

// handleSyncRequest re-sends full snapshots for every room the client is
// in, then marks the resync complete with the current global sequence so
// the client can resume delta processing.
func (c *Client) handleSyncRequest(ctx context.Context, session Session) {
	if err := session.Resync(ctx, c.id); err != nil {
		logging.Warn().Err(err).Str("client_id", c.id).Msg("resync failed")
	}
	c.reply(statesync.WireSyncComplete, map[string]any{
		"server_seq": session.GlobalSequence(),
		"timestamp":  time.Now().UnixMilli(),
	})
}

// reply queues a message on the client's own send channel. A full buffer
// drops the reply; the connection-level slow client handling applies to
// broadcasts only.
func (c *Client) reply(event string, payload any) {
	select {
	case c.send <- Message{Event: event, Payload: payload}:
	default:
		logging.Warn().Str("client_id", c.id).Str("event", event).Msg("send buffer full, dropping reply")
	}
}

// payloadPlaylistID extracts the playlist id from an inbound payload.
func payloadPlaylistID(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := m["playlist_id"].(string)
	return id
}

// writePump writes queued messages and pings the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Str("client_id", c.id).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				logging.Error().Err(err).Str("event", message.Event).Msg("failed to marshal outbound message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Warn().Err(err).Str("client_id", c.id).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
