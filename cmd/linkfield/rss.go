// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"os"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/process"
)

// processRSS returns the resident set size of this process.
func processRSS() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return mem.RSS, nil
}

func logRSS(label string) {
	rss, err := processRSS()
	if err != nil {
		l.Debugln("Reading memory usage:", err)
		return
	}
	l.Infof("%s: RSS %s", label, humanize.IBytes(rss))
}
