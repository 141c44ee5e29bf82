// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build !linux && !darwin && !windows
// +build !linux,!darwin,!windows

package meta

import (
	"io/fs"
	"time"
)

func birthTime(string, fs.FileInfo) *time.Time {
	return nil
}
