// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package ignore

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestIgnore(t *testing.T) {
	pats := New(".", true)
	defer pats.Stop()
	err := pats.Load("testdata/.linkfieldignore")
	if err != nil {
		t.Fatal(err)
	}

	var tests = []struct {
		f string
		r bool
	}{
		{"afile", false},
		{"a.tmp", true},
		{filepath.Join("sub", "a.tmp"), true},
		{"keep.tmp", false},
		{filepath.Join("sub", "keep.tmp"), false},

		{"build", true},
		{filepath.Join("build", "out.o"), true},
		{filepath.Join("sub", "build"), false},

		{filepath.Join("src", "node_modules", "bar.js"), true},
		{filepath.Join("node_modules", "bar.js"), true},
		// Directory only; Match never sees directories.
		{"node_modules", false},

		{"thumbs.db", true},
		{filepath.Join("pics", "THUMBS.DB"), true},

		{"dir3", true},
		{filepath.Join("dir3", "afile"), true},
		{filepath.Join("x", "dir3"), true},

		{filepath.Join("src", "main.go"), false},
	}

	for i, tc := range tests {
		if r := pats.Match(tc.f); r != tc.r {
			t.Errorf("Incorrect Match() #%d (%s); E: %v, A: %v", i, tc.f, tc.r, r)
		}
	}

	expected := []string{"!keep.tmp", "*.tmp", "/build", "node_modules/", "(?i)Thumbs.db", "dir3"}
	lines := pats.Lines()
	if len(lines) != len(expected) {
		t.Fatalf("Lines() = %q, expected %q", lines, expected)
	}
	for i := range lines {
		if lines[i] != expected[i] {
			t.Errorf("Lines()[%d] = %q, expected %q", i, lines[i], expected[i])
		}
	}
}

func TestIsIgnored(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub", "node_modules"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "other"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "other", "node_modules"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	pats := New(root, true)
	defer pats.Stop()
	if err := pats.Parse(bytes.NewBufferString("*.tmp\n**/node_modules/\n"), DefaultFile); err != nil {
		t.Fatal(err)
	}

	var tests = []struct {
		f string
		r bool
	}{
		{filepath.Join(root, "a.tmp"), true},
		{filepath.Join(root, "deep", "er", "a.tmp"), true},
		{filepath.Join(root, "a.txt"), false},
		{filepath.Join(root, "sub", "node_modules"), true},
		{filepath.Join(root, "sub", "node_modules", "x.js"), true},
		{filepath.Join(root, "other", "node_modules"), false},
		{root, false},
		{filepath.Join(root, "..", "outside.tmp"), false},
		{filepath.Join("rel", "b.tmp"), true},
	}

	for i, tc := range tests {
		if r := pats.IsIgnored(tc.f); r != tc.r {
			t.Errorf("Incorrect IsIgnored() #%d (%s); E: %v, A: %v", i, tc.f, tc.r, r)
		}
	}
}

func TestNilMatcher(t *testing.T) {
	var m *Matcher
	if m.IsIgnored("/anything") || m.Match("anything") {
		t.Error("nil matcher should ignore nothing")
	}
	if m.Lines() != nil {
		t.Error("nil matcher should have no patterns")
	}
}

func TestMissingFile(t *testing.T) {
	pats := New(".", false)
	if err := pats.Parse(bytes.NewBufferString("*.tmp"), DefaultFile); err != nil {
		t.Fatal(err)
	}
	if err := pats.Load("testdata/does-not-exist"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if pats.Match("a.tmp") {
		t.Error("patterns survived loading a missing file")
	}
}

func TestExcludes(t *testing.T) {
	ignore := `
	!iex2
	!ign1/ex
	ign1
	i*2
	!ign2
	`
	pats := New(".", true)
	defer pats.Stop()
	err := pats.Parse(bytes.NewBufferString(ignore), DefaultFile)
	if err != nil {
		t.Fatal(err)
	}

	var tests = []struct {
		f string
		r bool
	}{
		{"ign1", true},
		{"ign2", true},
		{"ibla2", true},
		{"iex2", false},
		{filepath.Join("ign1", "ign"), true},
		{filepath.Join("ign1", "ex"), false},
		{filepath.Join("ign1", "iex2"), false},
		{filepath.Join("iex2", "ign"), false},
		{filepath.Join("foo", "bar", "ign1"), true},
		{filepath.Join("foo", "bar", "ign2"), true},
		{filepath.Join("foo", "bar", "iex2"), false},
	}

	for _, tc := range tests {
		if r := pats.Match(tc.f); r != tc.r {
			t.Errorf("Incorrect match for %s: %v != %v", tc.f, r, tc.r)
		}
	}
}

func TestBadPatterns(t *testing.T) {
	var badPatterns = []string{
		"[",
		"/[",
		"**/[",
		"#include nonexistent",
		"#include " + DefaultFile,
		"!#include makesnosense",
	}

	for _, pat := range badPatterns {
		pats := New(".", false)
		if err := pats.Parse(bytes.NewBufferString("*.tmp\n"+pat), DefaultFile); err == nil {
			t.Errorf("No error for pattern %q", pat)
		}
		if pats.Match("a.tmp") {
			t.Errorf("Patterns kept after a bad pattern %q", pat)
		}
	}
}

func TestCaseSensitivity(t *testing.T) {
	ign := New(".", true)
	defer ign.Stop()
	err := ign.Parse(bytes.NewBufferString("test"), DefaultFile)
	if err != nil {
		t.Error(err)
	}

	match := []string{"test"}
	dontMatch := []string{"foo"}

	switch runtime.GOOS {
	case "darwin", "windows":
		match = append(match, "TEST", "Test", "tESt")
	default:
		dontMatch = append(dontMatch, "TEST", "Test", "tESt")
	}

	for _, tc := range match {
		if !ign.Match(tc) {
			t.Errorf("Incorrect match for %q: should be matched", tc)
		}
	}

	for _, tc := range dontMatch {
		if ign.Match(tc) {
			t.Errorf("Incorrect match for %q: should not be matched", tc)
		}
	}
}

func TestCaching(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, DefaultFile)
	inc := filepath.Join(dir, "included")
	if err := os.WriteFile(main, []byte("x\n#include included\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(inc, []byte("y\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	pats := New(dir, true)
	defer pats.Stop()
	if err := pats.Load(main); err != nil {
		t.Fatal(err)
	}

	if pats.matches.len() != 0 {
		t.Fatal("Expected empty cache")
	}
	if len(pats.patterns) != 8 {
		t.Fatal("Incorrect number of patterns loaded", len(pats.patterns), "!=", 8)
	}

	// Cache some outcomes

	for _, letter := range []string{"a", "b", "x", "y"} {
		pats.Match(letter)
	}
	if pats.matches.len() != 4 {
		t.Fatal("Expected 4 cached results")
	}

	// Reload file, expect old outcomes to be preserved

	if err := pats.Load(main); err != nil {
		t.Fatal(err)
	}
	if pats.matches.len() != 4 {
		t.Fatal("Expected 4 cached results")
	}

	// Modify the include file, expect empty cache

	if err := os.WriteFile(inc, []byte("y\nz\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := pats.Load(main); err != nil {
		t.Fatal(err)
	}
	if pats.matches.len() != 0 {
		t.Fatal("Expected 0 cached results")
	}
	if !pats.Match("z") {
		t.Error("new pattern not in effect")
	}
}

func TestDirOnlyNotCached(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "cache"), 0o755); err != nil {
		t.Fatal(err)
	}
	pats := New(root, true)
	defer pats.Stop()
	if err := pats.Parse(bytes.NewBufferString("cache/\n"), DefaultFile); err != nil {
		t.Fatal(err)
	}

	// Match does not know about directories. Its result must not leak into
	// IsIgnored, which does.
	if pats.Match("cache") {
		t.Error("Match should not apply directory patterns")
	}
	if !pats.IsIgnored(filepath.Join(root, "cache")) {
		t.Error("directory should be ignored")
	}
	if pats.matches.len() != 0 {
		t.Errorf("cached %d directory dependent results", pats.matches.len())
	}
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

func TestCacheClean(t *testing.T) {
	fc := &fakeClock{now: time.Unix(1700000000, 0)}
	clock = fc
	defer func() { clock = defaultClock{} }()

	c := newCache()
	c.set("old", true)
	fc.now = fc.now.Add(time.Hour)
	c.set("new", false)
	fc.now = fc.now.Add(30 * time.Minute)

	c.clean(time.Hour)
	if _, ok := c.get("old"); ok {
		t.Error("old entry survived cleaning")
	}
	if res, ok := c.get("new"); !ok || res {
		t.Error("new entry should have been kept")
	}
}

func TestExclude(t *testing.T) {
	root := t.TempDir()
	pats := New(root, false)
	pats.Exclude(filepath.Join(root, "linkfield.db"))

	var tests = []struct {
		f string
		r bool
	}{
		{filepath.Join(root, "linkfield.db"), true},
		{filepath.Join(root, "linkfield.db", "000001.log"), true},
		{filepath.Join("linkfield.db", "MANIFEST"), true},
		{filepath.Join(root, "linkfield.dbx"), false},
		{filepath.Join(root, "other"), false},
	}
	for i, tc := range tests {
		if r := pats.IsIgnored(tc.f); r != tc.r {
			t.Errorf("Incorrect IsIgnored() #%d (%s); E: %v, A: %v", i, tc.f, tc.r, r)
		}
	}
}
