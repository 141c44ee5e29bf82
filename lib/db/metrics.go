// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package db

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "db",
		Name:      "transactions_total",
		Help:      "Total number of write transactions, by result",
	}, []string{"result"})
	metricRecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "db",
		Name:      "records_written_total",
		Help:      "Total number of records written, by operation",
	}, []string{"operation"})
	metricCorruptRecords = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "linkfield",
		Subsystem: "db",
		Name:      "corrupt_records_total",
		Help:      "Total number of undecodable records dropped while loading",
	})
)

const (
	resultSuccess = "success"
	resultFailure = "failure"

	opUpsert = "upsert"
	opRemove = "remove"
)
