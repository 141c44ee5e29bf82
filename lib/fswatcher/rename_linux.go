// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build linux

package fswatcher

import (
	"syscall"

	"github.com/syncthing/notify"
	"golang.org/x/sys/unix"
)

// renameCookie returns the inotify cookie linking the two halves of a
// rename. notify reports IN_MOVED_FROM as a rename and IN_MOVED_TO as a
// create; both carry the same cookie.
func renameCookie(ei notify.EventInfo) (uint32, renameSide, bool) {
	var mask, cookie uint32
	switch sys := ei.Sys().(type) {
	case *unix.InotifyEvent:
		if sys == nil {
			return 0, 0, false
		}
		mask, cookie = sys.Mask, sys.Cookie
	case *syscall.InotifyEvent:
		if sys == nil {
			return 0, 0, false
		}
		mask, cookie = sys.Mask, sys.Cookie
	default:
		return 0, 0, false
	}
	if cookie == 0 {
		return 0, 0, false
	}
	switch {
	case mask&unix.IN_MOVED_FROM != 0:
		return cookie, sideFrom, true
	case mask&unix.IN_MOVED_TO != 0:
		return cookie, sideTo, true
	default:
		return 0, 0, false
	}
}
