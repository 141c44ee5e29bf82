// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package rescan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRescans = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "rescan",
		Name:      "rescans_total",
		Help:      "Total number of completed rescans",
	})
	metricRescanSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "linkfield",
		Subsystem: "rescan",
		Name:      "rescan_duration_seconds",
		Help:      "Duration of completed rescans",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	})
	metricReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "rescan",
		Name:      "reconciled_records_total",
		Help:      "Total number of store records corrected by reconciliation, per action",
	}, []string{"action"})
)

const (
	actionRewritten = "rewritten"
	actionDeleted   = "deleted"
)
