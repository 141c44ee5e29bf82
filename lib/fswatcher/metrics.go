// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fswatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "fswatcher",
		Name:      "events_total",
		Help:      "Total number of raw filesystem events received, by kind",
	}, []string{"kind"})
	metricBatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "fswatcher",
		Name:      "batches_total",
		Help:      "Total number of debounced batches delivered",
	})
)
