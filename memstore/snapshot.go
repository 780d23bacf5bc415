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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracer for snapshot persistence operations.
var snapshotTracer = otel.Tracer("agentmem.memstore.snapshot")

// SnapshotStore is the durable blob store backing snapshot
// persistence, keyed by snapshot id.
//
// Implementations must return ErrSnapshotNotFound from Get and Latest
// lookups that miss, and should honor context cancellation on every
// call. See storage/badger for the in-tree implementation.
type SnapshotStore interface {
	// Put stores the serialized snapshot under id, overwriting any
	// previous blob with the same id.
	Put(ctx context.Context, id string, data []byte) error

	// Get returns the blob stored under id.
	Get(ctx context.Context, id string) ([]byte, error)

	// SetLatest records id as the most recent snapshot.
	SetLatest(ctx context.Context, id string) error

	// Latest returns the most recent snapshot id, or "" with a nil
	// error when no snapshot has ever been saved.
	Latest(ctx context.Context) (string, error)
}

// snapshotFile is the serialized form of the entry table.
type snapshotFile struct {
	ID        string          `json:"id"`
	CreatedAt int64           `json:"created_at"`
	Entries   []snapshotEntry `json:"entries"`
}

type snapshotEntry struct {
	Namespace   string          `json:"namespace"`
	Key         string          `json:"key"`
	Created     int64           `json:"created"`
	LastUpdated int64           `json:"last_updated"`
	Versions    []VersionRecord `json:"versions"`
}

// SaveSnapshot exports the full entry table to the snapshot store.
//
// Description:
//
//	Serializes every entry with its complete retained history, stores
//	the blob under a generated id, and advances the latest pointer.
//	Concurrent calls are deduplicated; callers racing into a save all
//	receive the same snapshot id.
//
// Inputs:
//
//	ctx - Bounds the persistence call.
//
// Outputs:
//
//	string - The generated snapshot id.
//	error - ErrPersistenceDisabled when persistence is off, or the
//	blob store's error.
func (s *Store) SaveSnapshot(ctx context.Context) (string, error) {
	if !s.cfg.PersistenceEnabled {
		return "", ErrPersistenceDisabled
	}

	id, err, _ := s.saves.Do("save", func() (any, error) {
		return s.doSaveSnapshot(ctx)
	})
	if err != nil {
		return "", err
	}
	return id.(string), nil
}

func (s *Store) doSaveSnapshot(ctx context.Context) (string, error) {
	ctx, span := snapshotTracer.Start(ctx, "memstore.SaveSnapshot")
	defer span.End()
	start := time.Now()

	snap := snapshotFile{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UnixMilli(),
	}

	s.mu.RLock()
	snap.Entries = make([]snapshotEntry, 0, len(s.entries))
	for ek, e := range s.entries {
		versions := make([]VersionRecord, len(e.versions))
		copy(versions, e.versions)
		snap.Entries = append(snap.Entries, snapshotEntry{
			Namespace:   ek.namespace,
			Key:         ek.key,
			Created:     e.created,
			LastUpdated: e.lastUpdated,
			Versions:    versions,
		})
	}
	s.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("serialize snapshot: %w", err)
	}

	if err := s.snapshots.Put(ctx, snap.ID, data); err != nil {
		return "", fmt.Errorf("persist snapshot %s: %w", snap.ID, err)
	}
	if err := s.snapshots.SetLatest(ctx, snap.ID); err != nil {
		return "", fmt.Errorf("advance latest snapshot pointer: %w", err)
	}

	snapshotSaveDuration.Observe(time.Since(start).Seconds())
	snapshotSizeBytes.Observe(float64(len(data)))
	span.SetAttributes(
		attribute.String("snapshot_id", snap.ID),
		attribute.Int("entries", len(snap.Entries)),
		attribute.Int("bytes", len(data)),
	)

	s.logger.Info("saved snapshot",
		"snapshot_id", snap.ID,
		"entries", len(snap.Entries),
		"bytes", len(data),
	)
	return snap.ID, nil
}

// LoadSnapshot replaces the entry table from a saved snapshot.
//
// Description:
//
//	Atomic from the caller's perspective: the blob is fetched and
//	decoded in full before any state is touched, so a failed load
//	leaves the store unchanged. Loaded entries bypass the operation
//	log (this is a bulk restore, not caller activity) and re-attach to
//	the live subscription registry.
//
// Inputs:
//
//	ctx - Bounds the persistence call.
//	id - The snapshot to load.
//
// Outputs:
//
//	error - ErrPersistenceDisabled, ErrSnapshotNotFound, or a decode
//	error; state is untouched in every failure case.
func (s *Store) LoadSnapshot(ctx context.Context, id string) error {
	if !s.cfg.PersistenceEnabled {
		return ErrPersistenceDisabled
	}

	ctx, span := snapshotTracer.Start(ctx, "memstore.LoadSnapshot",
		trace.WithAttributes(
			attribute.String("snapshot_id", id),
		),
	)
	defer span.End()

	data, err := s.snapshots.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch snapshot %s: %w", id, err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", id, err)
	}

	entries := make(map[entryKey]*entry, len(snap.Entries))
	for _, se := range snap.Entries {
		if len(se.Versions) == 0 {
			// An entry with no versions does not exist.
			continue
		}
		ek := entryKey{se.Namespace, se.Key}
		head := se.Versions[0]
		entries[ek] = &entry{
			namespace:   se.Namespace,
			key:         se.Key,
			current:     head.Value,
			valueType:   head.Value.Type(),
			versions:    se.Versions,
			created:     se.Created,
			lastUpdated: se.LastUpdated,
		}
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	s.logger.Info("loaded snapshot", "snapshot_id", id, "entries", len(entries))
	return nil
}

// RevertTo rewrites (namespace, key) to its value as of a timestamp.
//
// Description:
//
//	Finds the most recent version with Timestamp <= ts and performs a
//	normal write of that version's value, tagged with metadata naming
//	the revert target and the original writer. History is only ever
//	extended - the revert itself becomes a new auditable version, and
//	reverting twice to the same timestamp yields the same current
//	value with one extra version each time.
//
// Inputs:
//
//	namespace - Logical partition; empty selects the default namespace.
//	key - The key to revert.
//	ts - Epoch milliseconds; the newest version at or before this
//	instant is restored.
//	agentID - The agent performing the revert.
//
// Outputs:
//
//	error - ErrNotFound if the entry does not exist or no version
//	qualifies.
func (s *Store) RevertTo(namespace, key string, ts int64, agentID string) error {
	namespace = s.resolveNamespace(namespace)

	s.mu.RLock()
	e, ok := s.entries[entryKey{namespace, key}]
	var target VersionRecord
	found := false
	if ok {
		// versions is most-recent-first; the first hit is the newest
		// version at or before ts.
		for _, v := range e.versions {
			if v.Timestamp <= ts {
				target = v
				found = true
				break
			}
		}
	}
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, key)
	}
	if !found {
		return fmt.Errorf("%w: %s/%s has no version at or before %d", ErrNotFound, namespace, key, ts)
	}

	return s.Write(namespace, key, target.Value, agentID, map[string]any{
		"reverted_from":     target.Timestamp,
		"original_agent_id": target.AgentID,
	})
}
