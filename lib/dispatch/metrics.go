// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "dispatch",
		Name:      "events_total",
		Help:      "Total number of events handled, per kind",
	}, []string{"kind"})
	metricIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "dispatch",
		Name:      "ignored_total",
		Help:      "Total number of events dropped because a path is ignored",
	})
	metricSwallowed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "dispatch",
		Name:      "swallowed_total",
		Help:      "Total number of modify events swallowed without logging",
	})
	metricMoves = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "dispatch",
		Name:      "moves_detected_total",
		Help:      "Total number of create events recognized as moves",
	})
)

const (
	kindRemove = "remove"
	kindCreate = "create"
	kindRename = "rename"
	kindMove   = "move"
	kindModify = "modify"
)

func init() {
	for _, kind := range []string{kindRemove, kindCreate, kindRename, kindMove, kindModify} {
		metricEvents.WithLabelValues(kind)
	}
}
