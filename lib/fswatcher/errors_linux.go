// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build linux

package fswatcher

import (
	"errors"

	"golang.org/x/sys/unix"
)

func interpretNotifyWatchError(err error, folder string) error {
	if isWatchesTooFew(err) {
		return WatchesLimitTooLowError(folder)
	}
	return err
}

func isWatchesTooFew(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENOSPC)
}
