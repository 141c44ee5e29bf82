// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package meta describes the metadata captured for a single file.
package meta

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// A Record is a snapshot of a file's metadata at the time it was captured.
// Records are never modified in place; an update replaces the whole value.
// Optional fields are nil when the platform or file system does not provide
// them.
type Record struct {
	Path      string     `yaml:"path"`
	Size      uint64     `yaml:"size"`
	Modified  *time.Time `yaml:"modified,omitempty"`
	Created   *time.Time `yaml:"created,omitempty"`
	Extension *string    `yaml:"extension,omitempty"`
}

// FromPath stats the file at path, following symlinks, and returns its
// record.
func FromPath(path string) (Record, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Record{}, err
	}
	return FromFileInfo(path, fi), nil
}

// FromFileInfo builds the record for path from an existing stat result.
func FromFileInfo(path string, fi fs.FileInfo) Record {
	r := Record{
		Path:      path,
		Size:      uint64(fi.Size()),
		Created:   birthTime(path, fi),
		Extension: Extension(path),
	}
	if mod := fi.ModTime(); !mod.IsZero() {
		r.Modified = &mod
	}
	return r
}

// Extension returns the part of the base name after the final dot. Names
// without a dot, and dot files without a further dot, have no extension.
func Extension(path string) *string {
	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) {
		return nil
	}
	idx := strings.LastIndexByte(name, '.')
	if idx <= 0 {
		return nil
	}
	ext := name[idx+1:]
	return &ext
}

// Equal reports whether the two records are structurally identical.
func (r Record) Equal(other Record) bool {
	return r.Path == other.Path &&
		r.Size == other.Size &&
		timeEqual(r.Modified, other.Modified) &&
		timeEqual(r.Created, other.Created) &&
		stringEqual(r.Extension, other.Extension)
}

// ModifiedWithin reports whether both records carry a modification time and
// those are less than d apart.
func (r Record) ModifiedWithin(other Record, d time.Duration) bool {
	if r.Modified == nil || other.Modified == nil {
		return false
	}
	diff := r.Modified.Sub(*other.Modified)
	if diff < 0 {
		diff = -diff
	}
	return diff < d
}

func (r Record) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Record{Path:%q, Size:%d", r.Path, r.Size)
	if r.Modified != nil {
		fmt.Fprintf(&sb, ", Modified:%v", r.Modified.Format(time.RFC3339Nano))
	}
	if r.Created != nil {
		fmt.Fprintf(&sb, ", Created:%v", r.Created.Format(time.RFC3339Nano))
	}
	if r.Extension != nil {
		fmt.Fprintf(&sb, ", Extension:%q", *r.Extension)
	}
	sb.WriteString("}")
	return sb.String()
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func stringEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
