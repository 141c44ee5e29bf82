// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package movedetect

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRemovesBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "movedetect",
		Name:      "removes_buffered_total",
		Help:      "Total number of remove events buffered for pairing",
	})
	metricRemovesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "movedetect",
		Name:      "removes_expired_total",
		Help:      "Total number of buffered remove events that expired unpaired",
	})
	metricMovesPaired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "movedetect",
		Name:      "moves_paired_total",
		Help:      "Total number of create events paired with a remove",
	})
	metricPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "linkfield",
		Subsystem: "movedetect",
		Name:      "pending_removes",
		Help:      "Number of remove events currently buffered",
	})
)
