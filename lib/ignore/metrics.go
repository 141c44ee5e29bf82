// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package ignore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPatterns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "linkfield",
		Subsystem: "ignore",
		Name:      "pattern_lines",
		Help:      "Number of pattern lines currently loaded",
	})
	metricMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "ignore",
		Name:      "matches_total",
		Help:      "Total number of match lookups, by cache outcome",
	}, []string{"cache"})
)

const (
	cacheHit  = "hit"
	cacheMiss = "miss"
)
