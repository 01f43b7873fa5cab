// Melobox - Networked Music Box Backend
// Copyright 2026 The Melobox Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/melobox/melobox

package statesync

import (
	"sync"
	"time"

	"github.com/melobox/melobox/internal/metrics"
)

// trackedOperation records a completed client operation and its result.
type trackedOperation struct {
	result      any
	processedAt time.Time
}

// OperationTracker deduplicates client-submitted operation ids and caches
// their results for a bounded window. HTTP clients retry after timeouts;
// the tracker turns those at-least-once retries into effectively-once
// server-side effects, provided the client reuses the same client_op_id.
//
// Entries expire after the configured TTL via CleanupExpired, which is
// driven by the Manager's cleanup loop, never by request handlers.
type OperationTracker struct {
	mu  sync.Mutex
	ops map[string]trackedOperation
	ttl time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewOperationTracker creates an OperationTracker with the given entry TTL.
func NewOperationTracker(ttl time.Duration) *OperationTracker {
	return &OperationTracker{
		ops: make(map[string]trackedOperation),
		ttl: ttl,
		now: time.Now,
	}
}

// IsProcessed reports whether clientOpID has already completed.
func (t *OperationTracker) IsProcessed(clientOpID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ops[clientOpID]
	return ok
}

// MarkProcessed records completion of clientOpID with an optional cached
// result. Re-marking an already tracked id is an idempotent overwrite.
func (t *OperationTracker) MarkProcessed(clientOpID string, result any) {
	t.mu.Lock()
	t.ops[clientOpID] = trackedOperation{
		result:      result,
		processedAt: t.now(),
	}
	size := len(t.ops)
	t.mu.Unlock()

	metrics.TrackedOperations.Set(float64(size))
}

// ResultFor returns the cached result for clientOpID. The second return
// value reports whether the operation is tracked at all; a tracked
// operation may legitimately have a nil result.
func (t *OperationTracker) ResultFor(clientOpID string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[clientOpID]
	if !ok {
		return nil, false
	}
	return op.result, true
}

// CleanupExpired removes entries older than the TTL and returns how many
// were removed.
func (t *OperationTracker) CleanupExpired() int {
	t.mu.Lock()
	cutoff := t.now().Add(-t.ttl)
	removed := 0
	for id, op := range t.ops {
		if op.processedAt.Before(cutoff) {
			delete(t.ops, id)
			removed++
		}
	}
	size := len(t.ops)
	t.mu.Unlock()

	metrics.TrackedOperations.Set(float64(size))
	return removed
}

// Size returns the number of tracked operations.
func (t *OperationTracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}
