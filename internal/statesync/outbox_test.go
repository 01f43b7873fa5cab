// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package statesync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func testEnvelope(seq uint64) *Envelope {
	return &Envelope{
		EventType: EventPlaylistCreated,
		ServerSeq: seq,
		Data:      map[string]any{"n": seq},
		Timestamp: time.Now().UnixMilli(),
		EventID:   fmt.Sprintf("ev-%d", seq),
	}
}

func TestEventOutbox_BoundedWithFIFOEviction(t *testing.T) {
	const maxSize = 20
	outbox := NewEventOutbox(maxSize, 3, nil)

	const extra = 5
	for i := 1; i <= maxSize+extra; i++ {
		outbox.Add(testEnvelope(uint64(i)))
	}

	if got := outbox.Len(); got > maxSize {
		t.Fatalf("outbox grew to %d, capacity is %d", got, maxSize)
	}

	stats := outbox.Stats()
	if stats.TotalEvents != outbox.Len() {
		t.Errorf("Stats.TotalEvents = %d, Len = %d", stats.TotalEvents, outbox.Len())
	}

	// Eviction is FIFO: the first entries are gone, the newest survive
	// in their original relative order.
	outbox.mu.Lock()
	first := outbox.entries[0].env.ServerSeq
	for i := 1; i < len(outbox.entries); i++ {
		if outbox.entries[i].env.ServerSeq != outbox.entries[i-1].env.ServerSeq+1 {
			t.Errorf("relative order broken at %d", i)
		}
	}
	last := outbox.entries[len(outbox.entries)-1].env.ServerSeq
	outbox.mu.Unlock()

	if last != maxSize+extra {
		t.Errorf("newest entry = %d, want %d", last, maxSize+extra)
	}
	if first == 1 {
		t.Error("oldest entry survived eviction")
	}
}

func TestEventOutbox_FlushDeliversAndClears(t *testing.T) {
	transport := &fakeTransport{}
	outbox := NewEventOutbox(10, 3, transport)

	for i := 1; i <= 3; i++ {
		outbox.Add(testEnvelope(uint64(i)))
	}

	delivered := outbox.Flush(context.Background())
	if delivered != 3 {
		t.Fatalf("delivered %d events, want 3", delivered)
	}
	if outbox.Len() != 0 {
		t.Errorf("outbox not cleared after flush: %d entries", outbox.Len())
	}

	emits := transport.emitsNamed(WireStatePlaylistCreated)
	if len(emits) != 3 {
		t.Fatalf("transport saw %d emits, want 3", len(emits))
	}
	for _, e := range emits {
		if e.Room != RoomPlaylists {
			t.Errorf("event emitted to room %q, want %q", e.Room, RoomPlaylists)
		}
	}
}

func TestEventOutbox_FlushWithoutTransportKeepsBuffer(t *testing.T) {
	outbox := NewEventOutbox(10, 3, nil)
	outbox.Add(testEnvelope(1))

	if delivered := outbox.Flush(context.Background()); delivered != 0 {
		t.Errorf("flush without transport delivered %d", delivered)
	}
	if outbox.Len() != 1 {
		t.Errorf("event dropped without transport: len = %d", outbox.Len())
	}
}

func TestEventOutbox_FailedDeliveryRequeuedThenDropped(t *testing.T) {
	transport := &fakeTransport{}
	transport.setEmitErr(errors.New("transport down"))

	const maxRetries = 2
	outbox := NewEventOutbox(10, maxRetries, transport)
	outbox.Add(testEnvelope(1))

	// Each failed flush increments the retry count; the entry survives
	// maxRetries failures and is dropped on the next one.
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if delivered := outbox.Flush(context.Background()); delivered != 0 {
			t.Fatalf("attempt %d delivered %d", attempt, delivered)
		}
		if outbox.Len() != 1 {
			t.Fatalf("attempt %d: entry not re-queued, len = %d", attempt, outbox.Len())
		}
	}

	if delivered := outbox.Flush(context.Background()); delivered != 0 {
		t.Fatalf("final attempt delivered %d", delivered)
	}
	if outbox.Len() != 0 {
		t.Errorf("entry not dropped after exhausting retries: len = %d", outbox.Len())
	}
}

func TestEventOutbox_RecoversAfterTransportReturns(t *testing.T) {
	transport := &fakeTransport{}
	transport.setEmitErr(errors.New("transport down"))

	outbox := NewEventOutbox(10, 3, transport)
	outbox.Add(testEnvelope(1))

	outbox.Flush(context.Background())
	transport.setEmitErr(nil)

	if delivered := outbox.Flush(context.Background()); delivered != 1 {
		t.Fatalf("delivered %d after transport recovery, want 1", delivered)
	}
	if outbox.Len() != 0 {
		t.Errorf("outbox not drained: len = %d", outbox.Len())
	}
}

func TestEventOutbox_Remove(t *testing.T) {
	outbox := NewEventOutbox(10, 3, nil)
	outbox.Add(testEnvelope(1))
	outbox.Add(testEnvelope(2))

	outbox.Remove("ev-1")
	if outbox.Len() != 1 {
		t.Fatalf("len = %d after remove, want 1", outbox.Len())
	}

	// Removing an unknown id is a no-op.
	outbox.Remove("ev-404")
	if outbox.Len() != 1 {
		t.Errorf("len = %d after removing unknown id, want 1", outbox.Len())
	}
}

func TestEventOutbox_Stats(t *testing.T) {
	outbox := NewEventOutbox(50, 4, nil)
	outbox.Add(testEnvelope(1))
	env := testEnvelope(2)
	env.EventType = EventPlayerState
	outbox.Add(env)

	stats := outbox.Stats()
	if stats.TotalEvents != 2 {
		t.Errorf("TotalEvents = %d, want 2", stats.TotalEvents)
	}
	if stats.MaxSize != 50 || stats.MaxRetries != 4 {
		t.Errorf("limits = (%d, %d), want (50, 4)", stats.MaxSize, stats.MaxRetries)
	}
	if stats.EventsByType[string(EventPlaylistCreated)] != 1 {
		t.Errorf("EventsByType missing playlist_created")
	}
	if stats.EventsByType[string(EventPlayerState)] != 1 {
		t.Errorf("EventsByType missing player_state")
	}
}
