// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memstore

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var conflictTracer = otel.Tracer("agentmem.memstore.conflict")

// DetectConflicts scans a batch of operations for coordination hazards.
//
// # Description
//
// Two hazard classes are reported:
//
//   - concurrent_write: two writes to the same (namespace, key) from
//     different agents whose timestamps fall within
//     Config.ConcurrentWriteWindow of each other. Writes per key are
//     sorted by timestamp and adjacent pairs are compared.
//   - stale_read: a read that trails the latest preceding write to the
//     same key by another agent by more than Config.StaleReadThreshold.
//
// This is a timestamp heuristic, not a causal-ordering check: it can
// miss true races and flag benign ones. Detection is advisory - the
// implicated operations have already completed and nothing is blocked
// or rolled back. The caller chooses the batch (typically Operations()
// or OperationsSince for a "since last check" window).
//
// The scan is read-only; neither the entry table nor the operation log
// is touched.
//
// # Inputs
//
//   - ctx: Carries the caller's trace context; the scan itself does
//     not block.
//   - ops: The operation batch to analyze. Not mutated.
//
// # Outputs
//
//   - []Conflict: Detected hazards, concurrent writes first.
func (s *Store) DetectConflicts(ctx context.Context, ops []Operation) []Conflict {
	_, span := conflictTracer.Start(ctx, "memstore.DetectConflicts",
		trace.WithAttributes(
			attribute.Int("batch_size", len(ops)),
		),
	)
	defer span.End()

	// Bucket by key, separating writes from reads, preserving nothing
	// of the input order (each bucket is re-sorted by timestamp).
	writes := make(map[entryKey][]Operation)
	reads := make(map[entryKey][]Operation)
	for _, op := range ops {
		ek := entryKey{op.Namespace, op.Key}
		switch op.Type {
		case OpWrite:
			writes[ek] = append(writes[ek], op)
		case OpRead:
			reads[ek] = append(reads[ek], op)
		}
	}

	var conflicts []Conflict

	for ek, keyWrites := range writes {
		sort.SliceStable(keyWrites, func(i, j int) bool {
			return keyWrites[i].Timestamp < keyWrites[j].Timestamp
		})
		window := s.cfg.ConcurrentWriteWindow.Milliseconds()
		for i := 1; i < len(keyWrites); i++ {
			prev, cur := keyWrites[i-1], keyWrites[i]
			if prev.AgentID == cur.AgentID {
				continue
			}
			if cur.Timestamp-prev.Timestamp <= window {
				conflicts = append(conflicts, Conflict{
					Type:       ConflictConcurrentWrite,
					Namespace:  ek.namespace,
					Key:        ek.key,
					Operations: []Operation{prev, cur},
				})
			}
		}
	}

	threshold := s.cfg.StaleReadThreshold.Milliseconds()
	for ek, keyReads := range reads {
		keyWrites := writes[ek]
		for _, read := range keyReads {
			write, ok := latestWriteBefore(keyWrites, read)
			if !ok {
				continue
			}
			if read.Timestamp-write.Timestamp > threshold {
				conflicts = append(conflicts, Conflict{
					Type:       ConflictStaleRead,
					Namespace:  ek.namespace,
					Key:        ek.key,
					Operations: []Operation{write, read},
				})
			}
		}
	}

	for _, c := range conflicts {
		conflictsDetectedTotal.WithLabelValues(string(c.Type)).Inc()
	}
	span.SetAttributes(attribute.Int("conflicts", len(conflicts)))

	return conflicts
}

// latestWriteBefore returns the newest write by a different agent with
// a timestamp at or before the read's.
func latestWriteBefore(writes []Operation, read Operation) (Operation, bool) {
	var best Operation
	found := false
	for _, w := range writes {
		if w.AgentID == read.AgentID || w.Timestamp > read.Timestamp {
			continue
		}
		if !found || w.Timestamp > best.Timestamp {
			best = w
			found = true
		}
	}
	return best, found
}

// ResolveConflict applies a resolution value to a conflicted key.
//
// # Description
//
// Resolution is always a fresh write through the normal mutation path,
// never a retroactive edit of history. The new version is tagged with
// metadata naming the conflict type and the implicated operation ids so
// the resolution is auditable.
//
// # Inputs
//
//   - conflict: The conflict being resolved.
//   - resolution: The value to write.
//   - agentID: The resolving agent.
//
// # Outputs
//
//   - error: ErrNotFound if the conflicted entry no longer exists.
func (s *Store) ResolveConflict(conflict Conflict, resolution Value, agentID string) error {
	ek := entryKey{s.resolveNamespace(conflict.Namespace), conflict.Key}

	s.mu.RLock()
	_, exists := s.entries[ek]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, ek.namespace, ek.key)
	}

	opIDs := make([]string, 0, len(conflict.Operations))
	for _, op := range conflict.Operations {
		opIDs = append(opIDs, op.ID)
	}

	return s.Write(conflict.Namespace, conflict.Key, resolution, agentID, map[string]any{
		"conflict_resolution":    true,
		"conflict_type":          string(conflict.Type),
		"conflict_operation_ids": opIDs,
	})
}
