// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package statesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/melobox/melobox/internal/logging"
	"github.com/melobox/melobox/internal/metrics"
	"github.com/melobox/melobox/internal/models"
)

// Config tunes the state synchronization core.
type Config struct {
	// OutboxMaxSize is the event outbox capacity.
	OutboxMaxSize int

	// OutboxMaxRetries bounds redelivery attempts per buffered event.
	OutboxMaxRetries int

	// OperationTTL is how long processed client operation ids are kept.
	OperationTTL time.Duration

	// CleanupInterval is the period of the background cleanup loop.
	CleanupInterval time.Duration

	// PositionThrottle is the minimum interval between live position
	// broadcasts.
	PositionThrottle time.Duration
}

// DefaultConfig returns production defaults sized for a single appliance.
func DefaultConfig() Config {
	return Config{
		OutboxMaxSize:    1000,
		OutboxMaxRetries: 3,
		OperationTTL:     10 * time.Minute,
		CleanupInterval:  5 * time.Minute,
		PositionThrottle: 200 * time.Millisecond,
	}
}

// Manager is the single entry point route handlers, the WebSocket layer and
// background services use to interact with the state synchronization core.
// Construct one per process at the composition root and inject it
// everywhere; there are no package-level singletons.
type Manager struct {
	cfg       Config
	seq       *SequenceGenerator
	subs      *SubscriptionManager
	ops       *OperationTracker
	outbox    *EventOutbox
	coord     *Coordinator
	snapshots *SnapshotService
	transport Transport

	// lifecycle guards the explicitly started cleanup task.
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager wires the state synchronization core. transport may be nil
// during startup; broadcasts are then buffered in the outbox only.
func NewManager(cfg Config, transport Transport, playlists PlaylistSource, player PlayerSource) *Manager {
	seq := NewSequenceGenerator()
	outbox := NewEventOutbox(cfg.OutboxMaxSize, cfg.OutboxMaxRetries, transport)
	return &Manager{
		cfg:       cfg,
		seq:       seq,
		subs:      NewSubscriptionManager(transport),
		ops:       NewOperationTracker(cfg.OperationTTL),
		outbox:    outbox,
		coord:     NewCoordinator(seq, outbox, transport, cfg.PositionThrottle),
		snapshots: NewSnapshotService(seq, transport, playlists, player),
		transport: transport,
	}
}

// HandleConnect acknowledges a new connection with the current global
// sequence, letting the client detect whether it is behind after a silent
// reconnect.
func (m *Manager) HandleConnect(ctx context.Context, clientID string) error {
	logging.Info().Str("client_id", clientID).Msg("client connected")
	if m.transport == nil {
		return nil
	}
	payload := map[string]any{
		"status":     "connected",
		"server_seq": m.seq.CurrentGlobal(),
		"timestamp":  time.Now().UnixMilli(),
	}
	return m.transport.EmitToClient(ctx, WireConnectionStatus, payload, clientID)
}

// HandleDisconnect removes all room subscriptions for the client.
func (m *Manager) HandleDisconnect(ctx context.Context, clientID string) {
	logging.Info().Str("client_id", clientID).Msg("client disconnected")
	if err := m.subs.UnsubscribeAll(ctx, clientID); err != nil {
		logging.Warn().Err(err).Str("client_id", clientID).Msg("room cleanup on disconnect failed")
	}
}

// SubscribeClient adds the client to a room and sends it a full snapshot.
// The snapshot is enqueued for delivery before SubscribeClient returns, so
// any delta broadcast after the call reaches the client after its snapshot
// (the transport preserves per-client emission order).
func (m *Manager) SubscribeClient(ctx context.Context, clientID, room string) error {
	if _, ok := ParseRoom(room); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoom, room)
	}
	if err := m.subs.Subscribe(ctx, clientID, room); err != nil {
		return err
	}
	return m.snapshots.SendSnapshot(ctx, clientID, room)
}

// UnsubscribeClient removes the client from one room, or from all rooms
// when room is empty.
func (m *Manager) UnsubscribeClient(ctx context.Context, clientID, room string) error {
	if room == "" {
		return m.subs.UnsubscribeAll(ctx, clientID)
	}
	return m.subs.Unsubscribe(ctx, clientID, room)
}

// SubscriptionsFor returns the client's current room set.
func (m *Manager) SubscriptionsFor(clientID string) map[string]struct{} {
	return m.subs.SubscriptionsFor(clientID)
}

// Resync re-sends snapshots for every room the client is subscribed to.
// Used to serve an explicit sync:request after a suspected gap.
func (m *Manager) Resync(ctx context.Context, clientID string) error {
	var firstErr error
	for room := range m.subs.SubscriptionsFor(clientID) {
		if err := m.snapshots.SendSnapshot(ctx, clientID, room); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BroadcastStateChange stamps and broadcasts one state change event.
func (m *Manager) BroadcastStateChange(ctx context.Context, eventType EventType, data map[string]any, opts BroadcastOptions) (*Envelope, error) {
	return m.coord.BroadcastStateChange(ctx, eventType, data, opts)
}

// BroadcastPositionUpdate broadcasts a throttled live position update.
// It returns (nil, nil) when the update was dropped by throttling.
func (m *Manager) BroadcastPositionUpdate(ctx context.Context, positionMS int64, trackID string, isPlaying bool, durationMS int64) (*Envelope, error) {
	return m.coord.BroadcastPositionUpdate(ctx, positionMS, trackID, isPlaying, durationMS)
}

// SendAcknowledgment emits an ack:op / err:op event for a client operation.
func (m *Manager) SendAcknowledgment(ctx context.Context, clientOpID string, success bool, data map[string]any, clientID string) error {
	return m.coord.SendAcknowledgment(ctx, clientOpID, success, data, clientID)
}

// IsOperationProcessed reports whether a client operation id has already
// completed, letting callers short-circuit duplicate work.
func (m *Manager) IsOperationProcessed(clientOpID string) bool {
	if m.ops.IsProcessed(clientOpID) {
		metrics.DuplicateOperations.Inc()
		return true
	}
	return false
}

// MarkOperationProcessed records completion of a client operation with an
// optional cached result.
func (m *Manager) MarkOperationProcessed(clientOpID string, result any) {
	m.ops.MarkProcessed(clientOpID, result)
}

// OperationResult returns the cached result for a processed operation.
func (m *Manager) OperationResult(clientOpID string) (any, bool) {
	return m.ops.ResultFor(clientOpID)
}

// SerializePlaylist renders a playlist payload stamped with the current
// sequence values.
func (m *Manager) SerializePlaylist(p models.PlaylistRecord, includeTracks bool) map[string]any {
	return SerializePlaylist(p, includeTracks, m.seq)
}

// SerializePlaylists renders index payloads for a set of playlists.
func (m *Manager) SerializePlaylists(playlists []models.PlaylistRecord) []map[string]any {
	return SerializePlaylists(playlists, m.seq)
}

// GlobalSequence returns the current global sequence number.
func (m *Manager) GlobalSequence() uint64 {
	return m.seq.CurrentGlobal()
}

// PlaylistSequence returns the current sequence number for a playlist.
func (m *Manager) PlaylistSequence(playlistID string) uint64 {
	return m.seq.CurrentPlaylist(playlistID)
}

// Serve runs the periodic cleanup loop until ctx is canceled. It implements
// suture.Service; StartCleanupTask/StopCleanupTask wrap it for callers that
// manage the lifecycle explicitly.
func (m *Manager) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	logging.Info().
		Dur("interval", m.cfg.CleanupInterval).
		Msg("state cleanup loop started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("state cleanup loop stopped")
			return ctx.Err()
		case <-ticker.C:
			m.runCleanup(ctx)
		}
	}
}

// StartCleanupTask starts the cleanup loop in the background. Calling it
// while the loop is running is a no-op.
func (m *Manager) StartCleanupTask() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		// Serve returns ctx.Err() on cancellation, which is the
		// expected shutdown path.
		_ = m.Serve(ctx)
	}()
}

// StopCleanupTask cancels the cleanup loop and waits for it to finish.
// An in-flight cleanup pass completes before the loop exits.
func (m *Manager) StopCleanupTask() {
	m.lifecycle.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.lifecycle.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// runCleanup sweeps expired operations and flushes the outbox.
func (m *Manager) runCleanup(ctx context.Context) {
	expired := m.ops.CleanupExpired()
	flushed := m.outbox.Flush(ctx)
	if expired > 0 || flushed > 0 {
		logging.Debug().
			Int("operations_expired", expired).
			Int("events_flushed", flushed).
			Msg("cleanup pass completed")
	}
}

// HealthMetrics returns a point-in-time view of the core for the health
// endpoint.
func (m *Manager) HealthMetrics() map[string]any {
	m.lifecycle.Lock()
	cleanupRunning := m.cancel != nil
	m.lifecycle.Unlock()

	return map[string]any{
		"global_seq":         m.seq.CurrentGlobal(),
		"subscriptions":      m.subs.Count(),
		"tracked_operations": m.ops.Size(),
		"outbox":             m.outbox.Stats(),
		"cleanup_running":    cleanupRunning,
	}
}
