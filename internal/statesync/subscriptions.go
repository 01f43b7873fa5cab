// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package statesync

import (
	"context"
	"sync"

	"github.com/melobox/melobox/internal/logging"
	"github.com/melobox/melobox/internal/metrics"
)

// SubscriptionManager tracks which rooms each connected client belongs to.
// It is the sole owner of the (client, room) relation; the transport-level
// room membership is kept in step as an observable side effect.
type SubscriptionManager struct {
	mu        sync.RWMutex
	transport Transport
	rooms     map[string]map[string]struct{} // clientID -> set of rooms
}

// NewSubscriptionManager creates a SubscriptionManager. transport may be nil
// (no side effects are emitted then).
func NewSubscriptionManager(transport Transport) *SubscriptionManager {
	return &SubscriptionManager{
		transport: transport,
		rooms:     make(map[string]map[string]struct{}),
	}
}

// Subscribe adds room to the client's subscription set and joins the
// transport room. Subscribing twice is a no-op beyond refreshing membership.
func (s *SubscriptionManager) Subscribe(ctx context.Context, clientID, room string) error {
	s.mu.Lock()
	set, ok := s.rooms[clientID]
	if !ok {
		set = make(map[string]struct{})
		s.rooms[clientID] = set
	}
	_, already := set[room]
	set[room] = struct{}{}
	s.mu.Unlock()

	if !already {
		metrics.RoomSubscriptions.Inc()
	}

	if s.transport != nil {
		if err := s.transport.JoinRoom(ctx, clientID, room); err != nil {
			return err
		}
	}

	logging.Debug().
		Str("client_id", clientID).
		Str("room", room).
		Msg("client subscribed")
	return nil
}

// Unsubscribe removes one room from the client's subscription set.
// Unsubscribing a client that is not subscribed is a no-op, not an error.
func (s *SubscriptionManager) Unsubscribe(ctx context.Context, clientID, room string) error {
	s.mu.Lock()
	set, ok := s.rooms[clientID]
	var present bool
	if ok {
		_, present = set[room]
		delete(set, room)
		if len(set) == 0 {
			delete(s.rooms, clientID)
		}
	}
	s.mu.Unlock()

	if !present {
		return nil
	}
	metrics.RoomSubscriptions.Dec()

	if s.transport != nil {
		if err := s.transport.LeaveRoom(ctx, clientID, room); err != nil {
			return err
		}
	}

	logging.Debug().
		Str("client_id", clientID).
		Str("room", room).
		Msg("client unsubscribed")
	return nil
}

// UnsubscribeAll removes every room for the client. Used on disconnect.
func (s *SubscriptionManager) UnsubscribeAll(ctx context.Context, clientID string) error {
	s.mu.Lock()
	set := s.rooms[clientID]
	delete(s.rooms, clientID)
	s.mu.Unlock()

	var firstErr error
	for room := range set {
		metrics.RoomSubscriptions.Dec()
		if s.transport != nil {
			if err := s.transport.LeaveRoom(ctx, clientID, room); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	if len(set) > 0 {
		logging.Debug().
			Str("client_id", clientID).
			Int("rooms", len(set)).
			Msg("client unsubscribed from all rooms")
	}
	return firstErr
}

// SubscriptionsFor returns a copy of the client's current room set.
func (s *SubscriptionManager) SubscriptionsFor(clientID string) map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]struct{}, len(s.rooms[clientID]))
	for room := range s.rooms[clientID] {
		out[room] = struct{}{}
	}
	return out
}

// Count returns the total number of (client, room) subscriptions.
func (s *SubscriptionManager) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, set := range s.rooms {
		n += len(set)
	}
	return n
}
