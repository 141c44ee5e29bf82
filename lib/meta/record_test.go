// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package meta

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func TestExtension(t *testing.T) {
	cases := []struct {
		path string
		ext  *string
	}{
		{"a.txt", strPtr("txt")},
		{filepath.Join("dir", "archive.tar.gz"), strPtr("gz")},
		{"noext", nil},
		{".bashrc", nil},
		{".config.yaml", strPtr("yaml")},
		{"trailing.", strPtr("")},
		{filepath.Join("dir.d", "file"), nil},
	}

	for _, tc := range cases {
		got := Extension(tc.path)
		if !stringEqual(got, tc.ext) {
			t.Errorf("Extension(%q) = %v, expected %v", tc.path, deref(got), deref(tc.ext))
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

func TestRoundTrip(t *testing.T) {
	mod := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.UTC)
	created := mod.Add(-time.Hour)

	records := []Record{
		{},
		{Path: "a.txt", Size: 100},
		{
			Path:      filepath.Join("dir", "sub", "b.bin"),
			Size:      1 << 40,
			Modified:  &mod,
			Created:   &created,
			Extension: strPtr("bin"),
		},
		{Path: "c", Modified: &mod, Extension: strPtr("")},
	}

	for _, r := range records {
		bs := r.Marshal()
		if len(bs) != r.XDRSize() {
			t.Errorf("%v: encoded %d bytes, expected %d", r, len(bs), r.XDRSize())
		}
		if len(bs)%4 != 0 {
			t.Errorf("%v: encoded length %d is not 4 byte aligned", r, len(bs))
		}

		dec, err := Unmarshal(bs)
		if err != nil {
			t.Fatalf("%v: %v", r, err)
		}
		if !dec.Equal(r) {
			t.Errorf("Round trip mismatch:\n  %v\n  %v", r, dec)
		}
	}
}

func TestUnmarshalGarbage(t *testing.T) {
	valid := Record{Path: "x.txt", Size: 3, Extension: strPtr("txt")}.Marshal()

	cases := map[string][]byte{
		"empty":     nil,
		"short":     {0, 0, 0},
		"truncated": valid[:len(valid)-4],
		"trailing":  append(append([]byte{}, valid...), 0, 0, 0, 0),
		"oversized": {0xff, 0xff, 0xff, 0xff, 'a'},
	}

	for name, bs := range cases {
		if _, err := Unmarshal(bs); err == nil {
			t.Errorf("%s: expected decoding error", name)
		}
	}
}

func TestMarshalTooLong(t *testing.T) {
	r := Record{Path: strings.Repeat("a", maxPathLen+1)}
	if bs := r.Marshal(); len(bs) != 0 {
		t.Errorf("Expected empty output for oversized path, got %d bytes", len(bs))
	}
}

func TestFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.dat")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2023, 1, 2, 3, 4, 5, 0, time.Local)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	r, err := FromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if r.Path != path {
		t.Errorf("Path %q != %q", r.Path, path)
	}
	if r.Size != 11 {
		t.Errorf("Size %d != 11", r.Size)
	}
	if r.Modified == nil || !r.Modified.Equal(mtime) {
		t.Errorf("Modified %v != %v", r.Modified, mtime)
	}
	if r.Extension == nil || *r.Extension != "dat" {
		t.Errorf("Extension %v != dat", deref(r.Extension))
	}

	if _, err := FromPath(filepath.Join(dir, "missing")); !os.IsNotExist(err) {
		t.Errorf("Expected not exist error, got %v", err)
	}
}

func TestEqual(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	base := Record{Path: "a", Size: 1, Modified: timePtr(t0), Extension: strPtr("x")}

	same := base
	same.Modified = timePtr(t0.In(time.UTC))
	if !base.Equal(same) {
		t.Error("Records with equal instants in different zones should be equal")
	}

	changes := []Record{
		{Path: "b", Size: 1, Modified: timePtr(t0), Extension: strPtr("x")},
		{Path: "a", Size: 2, Modified: timePtr(t0), Extension: strPtr("x")},
		{Path: "a", Size: 1, Extension: strPtr("x")},
		{Path: "a", Size: 1, Modified: timePtr(t0.Add(time.Nanosecond)), Extension: strPtr("x")},
		{Path: "a", Size: 1, Modified: timePtr(t0), Created: timePtr(t0), Extension: strPtr("x")},
		{Path: "a", Size: 1, Modified: timePtr(t0)},
	}
	for _, c := range changes {
		if base.Equal(c) {
			t.Errorf("%v should differ from %v", c, base)
		}
	}
}

func TestModifiedWithin(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	a := Record{Modified: timePtr(t0)}
	b := Record{Modified: timePtr(t0.Add(1999 * time.Millisecond))}
	c := Record{Modified: timePtr(t0.Add(-2 * time.Second))}

	if !a.ModifiedWithin(b, 2*time.Second) || !b.ModifiedWithin(a, 2*time.Second) {
		t.Error("1.999s apart should be within 2s")
	}
	if a.ModifiedWithin(c, 2*time.Second) {
		t.Error("2s apart should not be within 2s")
	}
	if a.ModifiedWithin(Record{}, time.Hour) {
		t.Error("Missing modification time should never be within")
	}
}
