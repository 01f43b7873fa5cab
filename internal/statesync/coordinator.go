// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package statesync

import (
	"context"
	"sync"
	"time"

	"github.com/melobox/melobox/internal/logging"
	"github.com/melobox/melobox/internal/metrics"
)

// BroadcastOptions tunes a single broadcast.
type BroadcastOptions struct {
	// PlaylistID scopes the event to a playlist; required for
	// playlist-scoped event types, and stamps a playlist sequence number
	// whenever set.
	PlaylistID string

	// Room overrides the type-based default room mapping.
	Room string

	// Immediate synchronously flushes the outbox after the broadcast.
	// Used for latency-sensitive events like live position.
	Immediate bool
}

// Coordinator builds versioned event envelopes, stamps them with sequence
// numbers, buffers them in the outbox and pushes them over the transport.
//
// Sequence assignment and outbox insertion happen under one mutex, so two
// concurrent broadcasts can never buffer envelopes out of sequence order.
// The transport emit happens outside the critical section.
type Coordinator struct {
	seq       *SequenceGenerator
	outbox    *EventOutbox
	transport Transport

	// mu serializes sequence stamping + outbox insertion.
	mu sync.Mutex

	// posMu guards the position-throttle clock.
	posMu        sync.Mutex
	lastPosition time.Time
	throttle     time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewCoordinator creates a Coordinator. transport may be nil during
// startup; envelopes are then buffered without an immediate push.
func NewCoordinator(seq *SequenceGenerator, outbox *EventOutbox, transport Transport, positionThrottle time.Duration) *Coordinator {
	return &Coordinator{
		seq:       seq,
		outbox:    outbox,
		transport: transport,
		throttle:  positionThrottle,
		now:       time.Now,
	}
}

// BroadcastStateChange stamps, buffers and pushes one state change event.
// It returns the broadcast envelope for caller inspection.
//
// Unknown event types and playlist-scoped types without a playlist id fail
// fast before a sequence number is consumed. Transport failures are not
// errors here: the envelope keeps its sequence number and stays buffered
// for the next flush.
func (c *Coordinator) BroadcastStateChange(ctx context.Context, eventType EventType, data map[string]any, opts BroadcastOptions) (*Envelope, error) {
	wire, err := eventType.WireName()
	if err != nil {
		return nil, err
	}
	room := opts.Room
	if room == "" {
		room, err = eventType.Room(opts.PlaylistID)
		if err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	env := &Envelope{
		EventType:  eventType,
		ServerSeq:  c.seq.NextGlobal(),
		Data:       data,
		Timestamp:  c.now().UnixMilli(),
		EventID:    newEventID(),
		PlaylistID: opts.PlaylistID,
	}
	if opts.PlaylistID != "" {
		playlistSeq := c.seq.NextPlaylist(opts.PlaylistID)
		env.PlaylistSeq = &playlistSeq
	}
	c.outbox.Add(env)
	c.mu.Unlock()

	metrics.EventsBroadcast.WithLabelValues(string(eventType)).Inc()

	if c.transport != nil {
		if err := c.transport.Emit(ctx, wire, env, room); err != nil {
			logging.Warn().
				Err(err).
				Str("event_type", string(eventType)).
				Str("room", room).
				Msg("immediate emit failed, event stays buffered")
		} else {
			// Delivered; drop the buffered copy so the periodic
			// flush does not redeliver it.
			c.outbox.Remove(env.EventID)
		}
		if opts.Immediate {
			c.outbox.Flush(ctx)
		}
	}

	return env, nil
}

// BroadcastPositionUpdate broadcasts a live track position, throttled to at
// most one emission per throttle window. A dropped update returns (nil, nil)
// and is not queued: a newer position supersedes it.
func (c *Coordinator) BroadcastPositionUpdate(ctx context.Context, positionMS int64, trackID string, isPlaying bool, durationMS int64) (*Envelope, error) {
	c.posMu.Lock()
	now := c.now()
	if c.throttle > 0 && !c.lastPosition.IsZero() && now.Sub(c.lastPosition) < c.throttle {
		c.posMu.Unlock()
		metrics.PositionUpdatesThrottled.Inc()
		return nil, nil
	}
	c.lastPosition = now
	c.posMu.Unlock()

	data := map[string]any{
		"position_ms": positionMS,
		"track_id":    trackID,
		"is_playing":  isPlaying,
		"duration_ms": durationMS,
	}
	return c.BroadcastStateChange(ctx, EventTrackPosition, data, BroadcastOptions{Immediate: true})
}

// SendAcknowledgment emits an operation-result event ("ack:op" on success,
// "err:op" on failure) to a specific client, or to the default room when no
// client is given. This lets a WebSocket-connected session learn that its
// mutation succeeded independently of the synchronous HTTP response.
func (c *Coordinator) SendAcknowledgment(ctx context.Context, clientOpID string, success bool, data map[string]any, clientID string) error {
	if c.transport == nil {
		logging.Debug().
			Str("client_op_id", clientOpID).
			Msg("no transport configured, skipping acknowledgment")
		return nil
	}

	wire := WireAckOp
	result := "success"
	if !success {
		wire = WireErrOp
		result = "error"
	}

	payload := map[string]any{
		"client_op_id": clientOpID,
		"success":      success,
		"data":         data,
		"server_seq":   c.seq.CurrentGlobal(),
		"timestamp":    c.now().UnixMilli(),
	}

	metrics.AcknowledgmentsSent.WithLabelValues(result).Inc()

	if clientID != "" {
		return c.transport.EmitToClient(ctx, wire, payload, clientID)
	}
	return c.transport.Emit(ctx, wire, payload, RoomPlaylists)
}
