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

// OperationType identifies the kind of store interaction an Operation
// records.
type OperationType string

const (
	// OpRead is a single-key read.
	OpRead OperationType = "read"

	// OpWrite is a single-key write (creation or update).
	OpWrite OperationType = "write"

	// OpDelete is a single-key delete.
	OpDelete OperationType = "delete"

	// OpQuery is a multi-key query.
	OpQuery OperationType = "query"

	// OpSubscribe is a subscription registration.
	OpSubscribe OperationType = "subscribe"

	// OpUnsubscribe is a subscription removal.
	OpUnsubscribe OperationType = "unsubscribe"
)

// Operation is an immutable record of a single store interaction.
//
// Operations are append-only: once logged they are never mutated or
// removed by the store itself. They are the audit substrate for conflict
// detection and statistics.
type Operation struct {
	// ID uniquely identifies the operation (UUID).
	ID string `json:"id"`

	// Type is the kind of interaction.
	Type OperationType `json:"type"`

	// Namespace and Key identify the affected entry. Empty for
	// cross-key operations such as query.
	Namespace string `json:"namespace"`
	Key       string `json:"key,omitempty"`

	// Value is the written value for write operations; absent otherwise.
	Value Value `json:"value,omitempty"`

	// Metadata carries caller-supplied context (e.g. conflict
	// resolution tags).
	Metadata map[string]any `json:"metadata,omitempty"`

	// AgentID identifies the caller.
	AgentID string `json:"agent_id"`

	// Timestamp is epoch milliseconds at log time.
	Timestamp int64 `json:"timestamp"`
}

// VersionRecord is one historical value of an entry.
type VersionRecord struct {
	// Value is the value written by this version.
	Value Value `json:"value"`

	// Timestamp is epoch milliseconds at write time.
	Timestamp int64 `json:"timestamp"`

	// AgentID identifies the writer.
	AgentID string `json:"agent_id"`

	// Operation is the operation type that produced this version
	// (always a write; reverts and conflict resolutions are writes too).
	Operation OperationType `json:"operation"`

	// Metadata carries caller-supplied context for this version.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ConflictType classifies a detected hazard.
type ConflictType string

const (
	// ConflictConcurrentWrite marks two writes to the same key from
	// different agents within the concurrent-write window.
	ConflictConcurrentWrite ConflictType = "concurrent_write"

	// ConflictStaleRead marks a read that trails another agent's write
	// to the same key by more than the staleness threshold.
	ConflictStaleRead ConflictType = "stale_read"
)

// Conflict is a detected hazard derived from a batch of operations.
//
// Conflicts are computed on demand and never persisted; detection is
// advisory and never blocks or rejects the implicated operations.
type Conflict struct {
	// Type is the hazard class.
	Type ConflictType `json:"type"`

	// Namespace and Key identify the contested entry.
	Namespace string `json:"namespace"`
	Key       string `json:"key"`

	// Operations are the two or more operations implicated, in
	// timestamp order.
	Operations []Operation `json:"operations"`
}

// UpdateNotification is delivered to subscribers after a write or
// delete completes.
type UpdateNotification struct {
	// ID uniquely identifies the notification (UUID).
	ID string `json:"id"`

	// Operation is OpWrite or OpDelete.
	Operation OperationType `json:"operation"`

	// Namespace and Key identify the changed entry.
	Namespace string `json:"namespace"`
	Key       string `json:"key"`

	// NewValue is the value after the mutation; null for deletes.
	NewValue Value `json:"new_value"`

	// OldValue is the value before the mutation; absent for creations.
	OldValue Value `json:"old_value,omitempty"`

	// AgentID identifies the mutating caller.
	AgentID string `json:"agent_id"`

	// Timestamp is epoch milliseconds at mutation time.
	Timestamp int64 `json:"timestamp"`

	// Metadata carries the mutation's caller-supplied context.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Callback receives change notifications for a subscribed key.
//
// Callbacks run synchronously on the mutating goroutine, after the
// entry lock is released. A panicking callback is recovered and logged;
// it does not affect other subscribers or the underlying write.
type Callback func(UpdateNotification)

// Stats is a point-in-time aggregation over the entry table and the
// operation log. It is recomputed in full on every call; there are no
// incremental counters that could drift.
type Stats struct {
	// TotalEntries is the number of live entries across all namespaces.
	TotalEntries int `json:"total_entries"`

	// EntriesByNamespace maps namespace to live entry count.
	EntriesByNamespace map[string]int `json:"entries_by_namespace"`

	// OperationCounts maps operation type to logged occurrences.
	OperationCounts map[OperationType]int `json:"operation_counts"`

	// TotalVersions is the sum of history lengths across live entries.
	TotalVersions int `json:"total_versions"`

	// AverageVersionsPerKey is TotalVersions / TotalEntries, or 0 when
	// the store is empty.
	AverageVersionsPerKey float64 `json:"average_versions_per_key"`
}

// entryKey is the composite identity of an entry.
type entryKey struct {
	namespace string
	key       string
}

// copyMetadata shallow-copies caller metadata so later caller mutation
// cannot reach logged operations or version records.
func copyMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
