// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build !linux

package fswatcher

import (
	"github.com/syncthing/notify"
)

// renameCookie is only available with inotify.
func renameCookie(notify.EventInfo) (uint32, renameSide, bool) {
	return 0, 0, false
}
