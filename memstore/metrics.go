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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for store activity.
var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memstore_operations_total",
		Help: "Total store operations by type",
	}, []string{"type"})

	conflictsDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memstore_conflicts_detected_total",
		Help: "Conflicts detected by type",
	}, []string{"type"})

	notifyCallbackFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memstore_notify_callback_failures_total",
		Help: "Subscriber callbacks that panicked during dispatch",
	})

	notifyDispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "memstore_notify_dispatch_duration_seconds",
		Help:    "Time spent delivering one notification to all subscribers",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	snapshotSaveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "memstore_snapshot_save_duration_seconds",
		Help:    "Time spent serializing and persisting a snapshot",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	snapshotSizeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "memstore_snapshot_size_bytes",
		Help:    "Serialized snapshot size",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	})
)
