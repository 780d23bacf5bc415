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

import "errors"

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned when an operation that requires an existing
	// entry (GetHistory, RevertTo, ResolveConflict) targets a missing key
	// or version. Plain reads of missing keys return the absent sentinel
	// instead of this error.
	ErrNotFound = errors.New("entry not found")

	// ErrPersistenceDisabled is returned when a snapshot operation is
	// invoked on a store constructed with PersistenceEnabled=false.
	ErrPersistenceDisabled = errors.New("persistence is disabled")

	// ErrSnapshotNotFound is returned when no snapshot exists under the
	// requested id. SnapshotStore implementations must return this from
	// Get for unknown ids so callers can errors.Is on it.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrNoSnapshotStore is returned when persistence is enabled but no
	// SnapshotStore was injected at construction time.
	ErrNoSnapshotStore = errors.New("no snapshot store configured")

	// ErrInvalidPattern is returned when a query key pattern (glob or
	// regexp) fails to compile. Surfaced synchronously to the caller.
	ErrInvalidPattern = errors.New("invalid key pattern")

	// ErrUnsupportedValue is returned by FromAny for dynamic types that
	// have no store representation.
	ErrUnsupportedValue = errors.New("unsupported value type")

	// ErrValueTypeMismatch is returned when a serialized value's payload
	// disagrees with its type tag. Indicates a corrupted snapshot.
	ErrValueTypeMismatch = errors.New("value type mismatch")

	// ErrAbsentWrite is returned when a caller tries to write the absent
	// sentinel. Use Delete to remove an entry, or write an explicit null.
	ErrAbsentWrite = errors.New("cannot write absent value")

	// ErrNilCallback is returned by Subscribe when the callback is nil.
	ErrNilCallback = errors.New("callback must not be nil")
)
