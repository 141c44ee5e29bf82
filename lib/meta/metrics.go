// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package meta

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricCodecErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "linkfield",
	Subsystem: "meta",
	Name:      "codec_errors_total",
	Help:      "Total number of records that failed to encode or decode",
}, []string{"direction"})
