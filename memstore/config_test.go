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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestDefaultConfig verifies the documented defaults.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 100, cfg.MaxHistoryLength)
	assert.Equal(t, "default", cfg.DefaultNamespace)
	assert.False(t, cfg.PersistenceEnabled)
	assert.Equal(t, time.Second, cfg.ConcurrentWriteWindow)
	assert.Equal(t, 30*time.Second, cfg.StaleReadThreshold)
	assert.NoError(t, cfg.Validate())
}

// TestConfigValidation verifies each field's constraints.
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero history", func(c *Config) { c.MaxHistoryLength = 0 }, true},
		{"negative history", func(c *Config) { c.MaxHistoryLength = -1 }, true},
		{"empty namespace", func(c *Config) { c.DefaultNamespace = "" }, true},
		{"zero write window", func(c *Config) { c.ConcurrentWriteWindow = 0 }, true},
		{"zero stale threshold", func(c *Config) { c.StaleReadThreshold = 0 }, true},
		{"small history ok", func(c *Config) { c.MaxHistoryLength = 1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
