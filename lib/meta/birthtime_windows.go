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
	attrs, ok := fi.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return nil
	}
	t := time.Unix(0, attrs.CreationTime.Nanoseconds())
	return &t
}
