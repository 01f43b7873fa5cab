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

// outboxEntry wraps an envelope with delivery bookkeeping. Entries are
// owned exclusively by the EventOutbox.
type outboxEntry struct {
	env        *Envelope
	retryCount int
	createdAt  time.Time
}

// OutboxStats is the outbox observability surface.
type OutboxStats struct {
	TotalEvents    int            `json:"total_events"`
	MaxSize        int            `json:"max_size"`
	MaxRetries     int            `json:"max_retries"`
	EventsByType   map[string]int `json:"events_by_type"`
	OldestEventAge time.Duration  `json:"oldest_event_age"`
}

// EventOutbox buffers outbound envelopes until they are delivered over the
// transport. It is a bounded best-effort log, not a durable queue: at
// capacity the oldest ~10% of entries are evicted with a warning, and
// entries whose delivery keeps failing are dropped after MaxRetries
// attempts. The periodic flush interval acts as the retry backoff.
type EventOutbox struct {
	mu         sync.Mutex
	entries    []*outboxEntry
	maxSize    int
	maxRetries int
	transport  Transport

	// now is swappable for tests.
	now func() time.Time
}

// NewEventOutbox creates an EventOutbox. transport may be nil; Flush is
// then a no-op and events stay buffered for the next flush.
func NewEventOutbox(maxSize, maxRetries int, transport Transport) *EventOutbox {
	if maxSize < 1 {
		maxSize = 1
	}
	return &EventOutbox{
		entries:    make([]*outboxEntry, 0, maxSize),
		maxSize:    maxSize,
		maxRetries: maxRetries,
		transport:  transport,
		now:        time.Now,
	}
}

// Add appends an envelope to the buffer, evicting the oldest batch first
// when the buffer is at capacity. Capacity overflow is recovered locally
// and never surfaced to broadcasters.
func (o *EventOutbox) Add(env *Envelope) {
	o.mu.Lock()
	o.evictIfFullLocked(1)
	o.entries = append(o.entries, &outboxEntry{
		env:       env,
		createdAt: o.now(),
	})
	size := len(o.entries)
	o.mu.Unlock()

	metrics.OutboxSize.Set(float64(size))
}

// evictIfFullLocked makes room for incoming new entries. Must be called
// with o.mu held.
func (o *EventOutbox) evictIfFullLocked(incoming int) {
	if len(o.entries)+incoming <= o.maxSize {
		return
	}

	batch := o.maxSize / 10
	if batch < incoming {
		batch = incoming
	}
	if batch > len(o.entries) {
		batch = len(o.entries)
	}

	o.entries = o.entries[batch:]
	metrics.OutboxEvicted.Add(float64(batch))
	logging.Warn().
		Int("evicted", batch).
		Int("max_size", o.maxSize).
		Msg("event outbox at capacity, evicting oldest entries")
}

// Remove deletes the entry with the given event id, if still buffered.
// Called after a successful immediate delivery.
func (o *EventOutbox) Remove(eventID string) {
	o.mu.Lock()
	for i, e := range o.entries {
		if e.env.EventID == eventID {
			o.entries = append(o.entries[:i], o.entries[i+1:]...)
			break
		}
	}
	size := len(o.entries)
	o.mu.Unlock()

	metrics.OutboxSize.Set(float64(size))
}

// Flush attempts delivery of every buffered entry and returns how many were
// delivered. The batch is popped before delivery; failed entries are
// re-queued with an incremented retry count and dropped once it exceeds
// MaxRetries. With no transport configured Flush is a no-op and the buffer
// is left untouched.
func (o *EventOutbox) Flush(ctx context.Context) int {
	if o.transport == nil {
		return 0
	}

	o.mu.Lock()
	batch := o.entries
	o.entries = make([]*outboxEntry, 0, o.maxSize)
	o.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}

	delivered := 0
	var failed []*outboxEntry
	for _, entry := range batch {
		if err := o.deliver(ctx, entry.env); err != nil {
			entry.retryCount++
			if entry.retryCount > o.maxRetries {
				metrics.OutboxDropped.Inc()
				logging.Warn().
					Err(err).
					Str("event_id", entry.env.EventID).
					Str("event_type", string(entry.env.EventType)).
					Int("retry_count", entry.retryCount).
					Msg("dropping outbox entry after exhausting retries")
				continue
			}
			metrics.OutboxRetried.Inc()
			failed = append(failed, entry)
			continue
		}
		delivered++
	}

	if len(failed) > 0 {
		o.mu.Lock()
		o.evictIfFullLocked(len(failed))
		o.entries = append(failed, o.entries...)
		o.mu.Unlock()
	}

	o.mu.Lock()
	size := len(o.entries)
	o.mu.Unlock()
	metrics.OutboxSize.Set(float64(size))

	if delivered > 0 || len(failed) > 0 {
		logging.Debug().
			Int("delivered", delivered).
			Int("requeued", len(failed)).
			Msg("outbox flush completed")
	}
	return delivered
}

// deliver resolves the wire name and target room for one envelope and
// emits it.
func (o *EventOutbox) deliver(ctx context.Context, env *Envelope) error {
	wire, err := env.EventType.WireName()
	if err != nil {
		return err
	}
	room, err := env.EventType.Room(env.PlaylistID)
	if err != nil {
		return err
	}
	return o.transport.Emit(ctx, wire, env, room)
}

// Len returns the number of buffered entries.
func (o *EventOutbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// Stats returns the outbox observability snapshot.
func (o *EventOutbox) Stats() OutboxStats {
	o.mu.Lock()
	defer o.mu.Unlock()

	stats := OutboxStats{
		TotalEvents:  len(o.entries),
		MaxSize:      o.maxSize,
		MaxRetries:   o.maxRetries,
		EventsByType: make(map[string]int),
	}
	for _, e := range o.entries {
		stats.EventsByType[string(e.env.EventType)]++
	}
	if len(o.entries) > 0 {
		stats.OldestEventAge = o.now().Sub(o.entries[0].createdAt)
	}
	return stats
}
