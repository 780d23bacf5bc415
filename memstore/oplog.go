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

import "sync"

// operationLog is the append-only ledger of all store activity.
//
// The log is independent of the entry table: deletes remove entries but
// never log records. Retention/truncation is an external concern; the
// store itself only ever appends (reset happens on Cleanup).
type operationLog struct {
	mu  sync.RWMutex
	ops []Operation
}

func newOperationLog() *operationLog {
	return &operationLog{}
}

// append adds one operation. O(1) amortized.
func (l *operationLog) append(op Operation) {
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

// all returns a copy of the log, oldest first.
func (l *operationLog) all() []Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Operation, len(l.ops))
	copy(out, l.ops)
	return out
}

// since returns operations with Timestamp >= ts, oldest first.
func (l *operationLog) since(ts int64) []Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Operation
	for _, op := range l.ops {
		if op.Timestamp >= ts {
			out = append(out, op)
		}
	}
	return out
}

// countsByType aggregates logged operations by type.
func (l *operationLog) countsByType() map[OperationType]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := make(map[OperationType]int)
	for _, op := range l.ops {
		counts[op.Type]++
	}
	return counts
}

// reset truncates the log. Called only from Store.Cleanup.
func (l *operationLog) reset() {
	l.mu.Lock()
	l.ops = nil
	l.mu.Unlock()
}
