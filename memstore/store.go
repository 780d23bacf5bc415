// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memstore implements the versioned shared-memory coordination
// store used by analysis agents to read, write, and observe a common
// pool of keyed values.
//
// # Design
//
// Each (namespace, key) entry holds the current value plus a bounded,
// most-recent-first version history. Every call appends to an
// append-only operation log; writes and deletes additionally notify
// subscribers registered on the affected key. Conflict detection runs
// out-of-band over caller-supplied operation batches and is advisory
// only - the store never blocks or rejects an operation because of a
// detected hazard. Snapshots export the full entry table to a pluggable
// blob store keyed by snapshot id.
//
// A Store is explicitly constructed and dependency-injected; there is
// no process-wide singleton. Multiple isolated stores may coexist in
// one process.
//
// # Thread Safety
//
// All public methods are safe for concurrent use. Notification dispatch
// happens outside the entry lock on a copied subscriber list, so a slow
// or reentrant subscriber cannot deadlock a subsequent write.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/agentmem/pkg/logging"
)

// Store is the versioned shared-memory coordination store.
type Store struct {
	cfg    Config
	logger *slog.Logger

	// now is the clock; injectable for tests.
	now func() time.Time

	mu      sync.RWMutex
	entries map[entryKey]*entry

	oplog     *operationLog
	registry  *subscriptionRegistry
	snapshots SnapshotStore

	// saves deduplicates concurrent SaveSnapshot calls.
	saves singleflight.Group

	initMu      sync.Mutex
	initialized bool
}

// entry is the internal record for one (namespace, key) pair.
//
// An entry with no versions does not exist; Delete removes the whole
// entry rather than clearing its value.
type entry struct {
	namespace string
	key       string

	current   Value
	valueType ValueType

	// versions is most-recent-first; versions[0] always matches current.
	versions []VersionRecord

	created     int64
	lastUpdated int64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the diagnostic logger. Defaults to the slog logger
// backing logging.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSnapshotStore injects the blob store backing snapshot
// persistence. Required when Config.PersistenceEnabled is true.
func WithSnapshotStore(store SnapshotStore) Option {
	return func(s *Store) {
		s.snapshots = store
	}
}

// WithClock overrides the store's clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Store with the given configuration.
//
// Description:
//
//	Validates the configuration and assembles the entry table,
//	operation log, and subscription registry. The store is usable
//	immediately; call Initialize to reload persisted state when
//	persistence is enabled.
//
// Inputs:
//
//	cfg - Store configuration. Use DefaultConfig() for defaults.
//	opts - Optional logger, snapshot store, and clock injection.
//
// Outputs:
//
//	*Store - The constructed store.
//	error - Non-nil if the configuration is invalid.
func New(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		cfg:      cfg,
		logger:   logging.Default().Slog(),
		now:      time.Now,
		entries:  make(map[entryKey]*entry),
		oplog:    newOperationLog(),
		registry: newSubscriptionRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.PersistenceEnabled && s.snapshots == nil {
		return nil, ErrNoSnapshotStore
	}

	return s, nil
}

// Initialize prepares the store for use.
//
// Description:
//
//	Idempotent. When persistence is enabled and a latest snapshot
//	exists in the blob store, the entry table is reloaded from it.
//	Calling Initialize again after Cleanup re-enables a fresh load.
//
// Inputs:
//
//	ctx - Bounds the snapshot load when persistence is enabled.
//
// Outputs:
//
//	error - Non-nil if a persisted snapshot exists but cannot be loaded.
func (s *Store) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.initialized {
		return nil
	}

	if s.cfg.PersistenceEnabled {
		id, err := s.snapshots.Latest(ctx)
		switch {
		case err == nil && id != "":
			if err := s.LoadSnapshot(ctx, id); err != nil {
				return fmt.Errorf("load latest snapshot %s: %w", id, err)
			}
			s.logger.Info("restored state from snapshot", "snapshot_id", id)
		case err != nil:
			return fmt.Errorf("resolve latest snapshot: %w", err)
		}
	}

	s.initialized = true
	return nil
}

// Cleanup clears all store state.
//
// Description:
//
//	Idempotent. Removes every entry, truncates the operation log, and
//	drops all subscriptions. Writes issued after Cleanup notify nobody
//	until new subscriptions are registered.
func (s *Store) Cleanup() {
	s.mu.Lock()
	s.entries = make(map[entryKey]*entry)
	s.mu.Unlock()

	s.oplog.reset()
	s.registry.clear()

	s.initMu.Lock()
	s.initialized = false
	s.initMu.Unlock()
}

// Read returns a copy of the current value for (namespace, key).
//
// Description:
//
//	Missing keys yield the absent sentinel, not an error. The read is
//	appended to the operation log but does not notify subscribers. The
//	returned value is copy-by-value; mutating structures derived from
//	it cannot corrupt store state.
//
// Inputs:
//
//	namespace - Logical partition; empty selects the default namespace.
//	key - The key to read.
//	agentID - The calling agent, recorded in the operation log.
//
// Outputs:
//
//	Value - The current value, or the absent sentinel.
func (s *Store) Read(namespace, key, agentID string) Value {
	namespace = s.resolveNamespace(namespace)

	s.mu.RLock()
	e, ok := s.entries[entryKey{namespace, key}]
	var val Value
	if ok {
		val = e.current
	}
	s.mu.RUnlock()

	s.logOperation(Operation{
		Type:      OpRead,
		Namespace: namespace,
		Key:       key,
		AgentID:   agentID,
	})

	if !ok {
		return AbsentValue()
	}
	return val
}

// Write stores a value under (namespace, key).
//
// Description:
//
//	Creates the entry on first write; otherwise prepends a new version
//	and evicts the oldest once the history exceeds MaxHistoryLength.
//	Writing a value equal to the current one still creates a version -
//	auditability is favored over storage efficiency. The write is
//	logged and subscribers are notified with the old and new values
//	after the entry lock is released.
//
// Inputs:
//
//	namespace - Logical partition; empty selects the default namespace.
//	key - The key to write.
//	value - The value to store. The absent sentinel is rejected.
//	agentID - The writing agent.
//	metadata - Optional caller context attached to the version and the
//	logged operation.
//
// Outputs:
//
//	error - ErrAbsentWrite if value is the absent sentinel.
func (s *Store) Write(namespace, key string, value Value, agentID string, metadata map[string]any) error {
	if value.IsAbsent() {
		return ErrAbsentWrite
	}
	namespace = s.resolveNamespace(namespace)
	md := copyMetadata(metadata)
	ek := entryKey{namespace, key}

	s.mu.Lock()
	// Stamped under the lock so per-entry history stays descending.
	ts := s.now().UnixMilli()
	version := VersionRecord{
		Value:     value,
		Timestamp: ts,
		AgentID:   agentID,
		Operation: OpWrite,
		Metadata:  md,
	}

	e, ok := s.entries[ek]
	var oldValue Value
	if ok {
		oldValue = e.current
		e.versions = append([]VersionRecord{version}, e.versions...)
		if len(e.versions) > s.cfg.MaxHistoryLength {
			e.versions = e.versions[:s.cfg.MaxHistoryLength]
		}
		e.current = value
		e.valueType = value.Type()
		e.lastUpdated = ts
	} else {
		e = &entry{
			namespace:   namespace,
			key:         key,
			current:     value,
			valueType:   value.Type(),
			versions:    []VersionRecord{version},
			created:     ts,
			lastUpdated: ts,
		}
		s.entries[ek] = e
	}
	s.mu.Unlock()

	s.logOperation(Operation{
		Type:      OpWrite,
		Namespace: namespace,
		Key:       key,
		Value:     value,
		Metadata:  md,
		AgentID:   agentID,
		Timestamp: ts,
	})

	s.notify(UpdateNotification{
		ID:        uuid.NewString(),
		Operation: OpWrite,
		Namespace: namespace,
		Key:       key,
		NewValue:  value,
		OldValue:  oldValue,
		AgentID:   agentID,
		Timestamp: ts,
		Metadata:  md,
	})

	return nil
}

// Delete removes the entry for (namespace, key).
//
// Description:
//
//	Deleting a missing key is a deliberate no-op (still logged), not an
//	error. On success the entry and its entire history are removed and
//	subscribers are notified with a null new value.
//
// Inputs:
//
//	namespace - Logical partition; empty selects the default namespace.
//	key - The key to delete.
//	agentID - The deleting agent.
func (s *Store) Delete(namespace, key, agentID string) {
	namespace = s.resolveNamespace(namespace)
	ek := entryKey{namespace, key}

	s.mu.Lock()
	ts := s.now().UnixMilli()
	e, ok := s.entries[ek]
	var oldValue Value
	if ok {
		oldValue = e.current
		delete(s.entries, ek)
	}
	s.mu.Unlock()

	s.logOperation(Operation{
		Type:      OpDelete,
		Namespace: namespace,
		Key:       key,
		AgentID:   agentID,
		Timestamp: ts,
	})

	if !ok {
		return
	}

	s.notify(UpdateNotification{
		ID:        uuid.NewString(),
		Operation: OpDelete,
		Namespace: namespace,
		Key:       key,
		NewValue:  NullValue(),
		OldValue:  oldValue,
		AgentID:   agentID,
		Timestamp: ts,
	})
}

// GetHistory returns the version history for (namespace, key),
// most-recent-first.
//
// Outputs:
//
//	[]VersionRecord - Copy of the history.
//	error - ErrNotFound if the entry does not exist.
func (s *Store) GetHistory(namespace, key string) ([]VersionRecord, error) {
	namespace = s.resolveNamespace(namespace)

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[entryKey{namespace, key}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, key)
	}
	history := make([]VersionRecord, len(e.versions))
	copy(history, e.versions)
	return history, nil
}

// Stats aggregates the entry table and operation log.
//
// Recomputed in full on every call; see Stats for field semantics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	stats := Stats{
		TotalEntries:       len(s.entries),
		EntriesByNamespace: make(map[string]int),
	}
	for ek, e := range s.entries {
		stats.EntriesByNamespace[ek.namespace]++
		stats.TotalVersions += len(e.versions)
	}
	s.mu.RUnlock()

	stats.OperationCounts = s.oplog.countsByType()
	if stats.TotalEntries > 0 {
		stats.AverageVersionsPerKey = float64(stats.TotalVersions) / float64(stats.TotalEntries)
	}
	return stats
}

// Operations returns a copy of the full operation log, oldest first.
func (s *Store) Operations() []Operation {
	return s.oplog.all()
}

// OperationsSince returns logged operations with Timestamp >= ts,
// oldest first. Useful for "since last check" conflict scans.
func (s *Store) OperationsSince(ts int64) []Operation {
	return s.oplog.since(ts)
}

// resolveNamespace substitutes the configured default for an empty
// namespace.
func (s *Store) resolveNamespace(namespace string) string {
	if namespace == "" {
		return s.cfg.DefaultNamespace
	}
	return namespace
}

// logOperation assigns identity and timestamp, then appends to the log.
func (s *Store) logOperation(op Operation) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Timestamp == 0 {
		op.Timestamp = s.now().UnixMilli()
	}
	s.oplog.append(op)
	operationsTotal.WithLabelValues(string(op.Type)).Inc()
}

// notify delivers a notification to the subscribers of the affected
// key. Runs after the entry lock is released.
func (s *Store) notify(n UpdateNotification) {
	start := time.Now()
	delivered, failures := s.registry.dispatch(n, s.logger)
	notifyDispatchDuration.Observe(time.Since(start).Seconds())

	if delivered > 0 || failures > 0 {
		s.logger.Debug("notified subscribers",
			"namespace", n.Namespace,
			"key", n.Key,
			"operation", string(n.Operation),
			"delivered", delivered,
			"failed", failures,
		)
	}
}
