// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package build holds version information stamped in at link time.
package build

import (
	"fmt"
	"regexp"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"
)

var (
	// Injected with -ldflags "-X github.com/linkfield/linkfield/lib/build.Version=..."
	Version = "unknown-dev"
	Host    = "unknown"
	User    = "unknown"
	Stamp   = "0"

	// Set by init()
	Date        time.Time
	IsRelease   bool
	LongVersion string

	AllowedVersionExp = regexp.MustCompile(`^v\d+\.\d+\.\d+(-[a-z0-9]+)*(\.\d+)*(\+\d+-g[0-9a-f]+)?(-[^\s]+)?$`)
	releaseExp        = regexp.MustCompile(`^v\d+\.\d+\.\d+$`)
)

func init() {
	if Version == "unknown-dev" {
		// go install of a tagged module records the version itself.
		if bi, ok := debug.ReadBuildInfo(); ok && AllowedVersionExp.MatchString(bi.Main.Version) {
			Version = bi.Main.Version
		}
	}
	setBuildData()
}

func setBuildData() {
	IsRelease = releaseExp.MatchString(Version)

	stamp, _ := strconv.ParseInt(Stamp, 10, 64)
	Date = time.Unix(stamp, 0)

	LongVersion = fmt.Sprintf("linkfield %s (%s %s-%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if stamp > 0 {
		LongVersion = fmt.Sprintf("%s %s@%s %s", LongVersion, User, Host, Date.UTC().Format("2006-01-02 15:04:05 MST"))
	}
}
