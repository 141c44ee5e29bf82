// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package meta

import (
	"io/fs"
	"syscall"
	"time"
)

func birthTime(_ string, fi fs.FileInfo) *time.Time {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	t := time.Unix(st.Birthtimespec.Unix())
	return &t
}
