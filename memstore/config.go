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
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance for config and query options.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds construction-time configuration for a Store.
type Config struct {
	// MaxHistoryLength bounds the version history kept per entry.
	// Oldest versions are evicted first.
	// Default: 100
	MaxHistoryLength int `validate:"gte=1,lte=1000000"`

	// DefaultNamespace is used when a caller passes an empty namespace.
	// Default: "default"
	DefaultNamespace string `validate:"required"`

	// PersistenceEnabled gates the snapshot operations. When false,
	// SaveSnapshot and LoadSnapshot fail with ErrPersistenceDisabled.
	// Default: false
	PersistenceEnabled bool

	// ConcurrentWriteWindow is the time window within which two writes
	// to the same key by different agents are flagged as a concurrent
	// write. Detection is a heuristic, not concurrency control.
	// Default: 1 second
	ConcurrentWriteWindow time.Duration `validate:"gt=0"`

	// StaleReadThreshold is the read-after-write gap beyond which a
	// read trailing another agent's write is flagged as stale.
	// Default: 30 seconds
	StaleReadThreshold time.Duration `validate:"gt=0"`
}

// DefaultConfig returns the standard configuration.
//
// Outputs:
//
//	Config - 100 versions per key, "default" namespace, persistence
//	disabled, 1s concurrent-write window, 30s stale-read threshold.
func DefaultConfig() Config {
	return Config{
		MaxHistoryLength:      100,
		DefaultNamespace:      "default",
		PersistenceEnabled:    false,
		ConcurrentWriteWindow: time.Second,
		StaleReadThreshold:    30 * time.Second,
	}
}

// Validate checks the configuration against its struct tags.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}
	return nil
}
