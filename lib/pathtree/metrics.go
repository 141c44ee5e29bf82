// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package pathtree

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "linkfield",
		Subsystem: "pathtree",
		Name:      "entries",
		Help:      "Number of entries resident in the path tree after the last scan",
	})
	metricFilesScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "pathtree",
		Name:      "files_scanned_total",
		Help:      "Total number of files stat'ed by directory scans, by scan mode",
	}, []string{"mode"})
	metricScanErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "pathtree",
		Name:      "scan_errors_total",
		Help:      "Total number of directories or files skipped because they could not be read",
	})
	metricBatchesFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "pathtree",
		Name:      "batches_flushed_total",
		Help:      "Total number of batches committed and evicted by streaming scans",
	})
	metricDiffRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "pathtree",
		Name:      "diff_records_total",
		Help:      "Total number of records seen by diffs, by outcome",
	}, []string{"outcome"})
)

const (
	modeFull      = "full"
	modeStreaming = "streaming"
)
