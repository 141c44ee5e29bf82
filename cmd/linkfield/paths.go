// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"os"
	"path/filepath"
)

// DefaultDBName is the database name used inside a watched directory, and
// in the working directory when no usable path is given.
const DefaultDBName = "linkfield.db"

// Files that mark a directory as a database rather than a tree to watch.
var dbMarkers = []string{
	"CURRENT",     // leveldb
	"KEYREGISTRY", // badger
}

// resolvePaths derives the database location and the watched directory
// from the path argument:
//
//   - an existing database gives that database, watching its parent
//   - a directory gives <dir>/linkfield.db, watching the directory
//   - anything else gives linkfield.db in the working directory, watching
//     the working directory
func resolvePaths(arg string) (dbPath, root string) {
	if arg != "" {
		if fi, err := os.Stat(arg); err == nil {
			if !fi.IsDir() || isDatabaseDir(arg) {
				return arg, filepath.Dir(filepath.Clean(arg))
			}
			return filepath.Join(arg, DefaultDBName), arg
		}
		l.Infof("Path %q does not exist, using the working directory", arg)
	}
	return DefaultDBName, "."
}

func isDatabaseDir(dir string) bool {
	for _, marker := range dbMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}
