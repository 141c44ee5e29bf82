// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package automaxprocs sets GOMAXPROCS to match the container CPU quota
// when imported. The scan worker pool defaults to GOMAXPROCS, so a
// quota-limited process does not oversubscribe its CPUs.
package automaxprocs

import (
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/linkfield/linkfield/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("maxprocs", "GOMAXPROCS adjustment")

func init() {
	if _, err := maxprocs.Set(maxprocs.Logger(l.Debugf)); err != nil {
		l.Debugln("Setting GOMAXPROCS:", err)
	}
}
