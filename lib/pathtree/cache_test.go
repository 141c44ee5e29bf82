// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package pathtree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/d4l3k/messagediff"

	"github.com/linkfield/linkfield/lib/db"
	"github.com/linkfield/linkfield/lib/db/backend"
	"github.com/linkfield/linkfield/lib/meta"
)

func newTestStore(t *testing.T) *db.Table {
	t.Helper()
	kv := backend.OpenMemory()
	t.Cleanup(func() { kv.Close() })
	tbl := db.NewTable(kv)
	if err := tbl.EnsureTable(); err != nil {
		t.Fatal(err)
	}
	return tbl
}

// commitRecorder records what is committed in batches before passing it
// on to the table.
type commitRecorder struct {
	*db.Table
	commits  int
	removals []string
	upserts  []meta.Record
}

func (r *commitRecorder) BatchCommit(removals []string, upserts []meta.Record) error {
	r.commits++
	r.removals = append(r.removals, removals...)
	r.upserts = append(r.upserts, upserts...)
	return r.Table.BatchCommit(removals, upserts)
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

// checkParents verifies that every entry but the root has a parent which
// exists and is a directory.
func checkParents(t *testing.T, c *Cache) {
	t.Helper()
	c.entries.Range(func(id uint64, e Entry) bool {
		if id == RootID {
			if e.Parent != 0 {
				t.Errorf("root has parent %d", e.Parent)
			}
			return true
		}
		p, ok := c.entries.Load(e.Parent)
		if !ok {
			t.Errorf("entry %d (%s) has missing parent %d", id, e.Name, e.Parent)
			return true
		}
		if p.Kind != KindDirectory {
			t.Errorf("entry %d (%s) has non directory parent %d", id, e.Name, e.Parent)
		}
		return true
	})
}

func TestNewRoot(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	if c.Len() != 1 {
		t.Fatalf("Len = %d, expected only the root", c.Len())
	}
	e, ok := c.Entry(RootID)
	if !ok || e.Name != filepath.Base(dir) || e.Kind != KindDirectory || e.Parent != 0 {
		t.Errorf("Unexpected root entry %+v", e)
	}
	if id, ok := c.FindEntryByPath(dir); !ok || id != RootID {
		t.Errorf("root path resolved to %d, %v", id, ok)
	}
	if id, ok := c.FindEntryByPath(filepath.Base(dir)); !ok || id != RootID {
		t.Errorf("root name resolved to %d, %v", id, ok)
	}
}

func TestUpdateFileAndGet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "c.txt")
	writeFile(t, path, "hello")

	c := New(dir)
	if err := c.UpdateFile(path); err != nil {
		t.Fatal(err)
	}
	rec, ok := c.Get(path)
	if !ok {
		t.Fatal("file not cached")
	}
	if rec.Path != path || rec.Size != 5 || rec.Extension == nil || *rec.Extension != "txt" {
		t.Errorf("Unexpected record %v", rec)
	}

	// root, a, b, c.txt
	if c.Len() != 4 {
		t.Errorf("Len = %d, expected 4", c.Len())
	}
	checkParents(t, c)

	// Relative lookups, with and without the root name.
	rel := filepath.Join("a", "b", "c.txt")
	if _, ok := c.Get(rel); !ok {
		t.Error("relative lookup failed")
	}
	if _, ok := c.Get(filepath.Join(filepath.Base(dir), rel)); !ok {
		t.Error("root prefixed lookup failed")
	}

	// Directories have no record.
	if _, ok := c.Get(filepath.Join(dir, "a")); ok {
		t.Error("directory returned a record")
	}

	id, _ := c.FindEntryByPath(path)
	if got, exp := c.ReconstructPath(id), filepath.Join(filepath.Base(dir), rel); got != exp {
		t.Errorf("ReconstructPath = %q, expected %q", got, exp)
	}
}

func TestUpdateFileMissing(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	if err := c.UpdateFile(filepath.Join(dir, "nope")); err == nil {
		t.Error("expected an error for a missing file")
	}
	if c.Len() != 1 {
		t.Errorf("cache changed on a failed update, Len = %d", c.Len())
	}
	if err := c.UpdateFile("/somewhere/else"); err != ErrOutsideRoot {
		t.Errorf("got %v, expected ErrOutsideRoot", err)
	}
}

func TestUpdateFileDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "x", "y")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	store := newTestStore(t)
	c := New(dir, WithStore(store))
	if err := c.UpdateFile(sub); err != nil {
		t.Fatal(err)
	}
	id, ok := c.FindEntryByPath(sub)
	if !ok {
		t.Fatal("directory not cached")
	}
	if e, _ := c.Entry(id); e.Kind != KindDirectory {
		t.Errorf("kind = %v, expected directory", e.Kind)
	}
	if n, _ := store.Count(); n != 0 {
		t.Errorf("directories should not be stored, got %d records", n)
	}
}

func TestUpdateOrInsertIdempotent(t *testing.T) {
	c := New(t.TempDir())
	rec := meta.Record{Path: filepath.Join(c.Root(), "f"), Size: 1}
	id1, err := c.UpdateOrInsertFile("f", RootID, rec)
	if err != nil {
		t.Fatal(err)
	}
	rec.Size = 2
	id2, err := c.UpdateOrInsertFile("f", RootID, rec)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("ids differ, %d != %d", id1, id2)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, expected 2", c.Len())
	}
	if got, _ := c.Get("f"); got.Size != 2 {
		t.Errorf("Size = %d, expected the updated record", got.Size)
	}

	if _, err := c.UpdateOrInsertFile("g", 12345, rec); err != ErrNoParent {
		t.Errorf("got %v, expected ErrNoParent", err)
	}
}

func TestConcurrentInserts(t *testing.T) {
	c := New(t.TempDir())
	var wg sync.WaitGroup
	ids := make([][]uint64, 8)
	for w := range ids {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				name := fmt.Sprintf("f%d", i)
				id, err := c.UpdateOrInsertFile(name, RootID, meta.Record{Path: filepath.Join(c.Root(), name)})
				if err != nil {
					t.Error(err)
					return
				}
				ids[w] = append(ids[w], id)
			}
		}(w)
	}
	wg.Wait()

	if c.Len() != 101 {
		t.Errorf("Len = %d, expected 101", c.Len())
	}
	for w := 1; w < len(ids); w++ {
		if diff, equal := messagediff.PrettyDiff(ids[0], ids[w]); !equal {
			t.Errorf("worker %d saw different ids:\n%s", w, diff)
		}
	}
}

func TestRemoveEntrySubtree(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{"a/1", "a/2", "a/b/3", "c/4"} {
		writeFile(t, filepath.Join(dir, filepath.FromSlash(p)), p)
	}
	store := newTestStore(t)
	c := New(dir, WithStore(store))
	for _, p := range []string{"a/1", "a/2", "a/b/3", "c/4"} {
		if err := c.UpdateFile(filepath.Join(dir, filepath.FromSlash(p))); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := store.Count(); n != 4 {
		t.Fatalf("store has %d records, expected 4", n)
	}

	if err := c.RemoveFile(filepath.Join(dir, "a")); err != nil {
		t.Fatal(err)
	}
	checkParents(t, c)
	// root, c, c/4
	if c.Len() != 3 {
		t.Errorf("Len = %d, expected 3", c.Len())
	}
	if _, ok := c.FindEntryByPath(filepath.Join(dir, "a", "b", "3")); ok {
		t.Error("descendant survived removal")
	}
	keys, _ := store.Keys()
	if diff, equal := messagediff.PrettyDiff([]string{filepath.Join(dir, "c", "4")}, keys); !equal {
		t.Errorf("unexpected store contents:\n%s", diff)
	}

	// Removing the root clears everything below it but keeps the root.
	removed := c.RemoveEntry(RootID)
	if len(removed) != 1 {
		t.Errorf("removed %d files, expected 1", len(removed))
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, expected only the root", c.Len())
	}
}

func TestRemoveFileNotResident(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t)
	path := filepath.Join(dir, "gone.txt")
	if err := store.Insert(meta.Record{Path: path}); err != nil {
		t.Fatal(err)
	}
	c := New(dir, WithStore(store))
	if err := c.RemoveFile(path); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Get(path); ok {
		t.Error("record not removed from the store")
	}
}

func TestConcurrentInsertAndRemove(t *testing.T) {
	c := New(t.TempDir())
	dirID, err := c.ensureDir("d", RootID)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			name := fmt.Sprintf("f%d", i)
			// Fails with ErrNoParent once the directory is gone.
			_, _ = c.UpdateOrInsertFile(name, dirID, meta.Record{Path: filepath.Join(c.Root(), "d", name)})
		}
	}()
	go func() {
		defer wg.Done()
		c.RemoveEntry(dirID)
	}()
	wg.Wait()

	checkParents(t, c)
}

func TestLoadFromStore(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t)
	recs := []meta.Record{
		{Path: filepath.Join(dir, "a.txt"), Size: 1},
		{Path: filepath.Join(dir, "sub", "b.txt"), Size: 2},
		{Path: "/elsewhere/c.txt", Size: 3},
	}
	if err := store.BatchCommit(nil, recs); err != nil {
		t.Fatal(err)
	}

	c := New(dir, WithStore(store))
	n, err := c.LoadFromStore()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("loaded %d, expected 2", n)
	}
	checkParents(t, c)

	var paths []string
	for _, rec := range c.AllFiles() {
		paths = append(paths, rec.Path)
	}
	sort.Strings(paths)
	expected := []string{recs[0].Path, recs[1].Path}
	if diff, equal := messagediff.PrettyDiff(expected, paths); !equal {
		t.Errorf("unexpected files:\n%s", diff)
	}
}

func TestDirectoryReplacedByFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x")
	writeFile(t, filepath.Join(path, "inner"), "1")

	store := newTestStore(t)
	c := New(dir, WithStore(store))
	if err := c.UpdateFile(filepath.Join(path, "inner")); err != nil {
		t.Fatal(err)
	}

	if err := os.RemoveAll(path); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "now a file")
	if err := c.UpdateFile(path); err != nil {
		t.Fatal(err)
	}

	checkParents(t, c)
	if _, ok := c.Get(path); !ok {
		t.Error("file not cached")
	}
	keys, _ := store.Keys()
	if diff, equal := messagediff.PrettyDiff([]string{path}, keys); !equal {
		t.Errorf("unexpected store contents:\n%s", diff)
	}
}

func TestFileReplacedByDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x")
	inner := filepath.Join(path, "inner")

	store := newTestStore(t)
	c := New(dir, WithStore(store))
	writeFile(t, path, "a file")
	if err := c.UpdateFile(path); err != nil {
		t.Fatal(err)
	}

	// The directory's contents are seen before the directory itself.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	writeFile(t, inner, "1")
	if err := c.UpdateFile(inner); err != nil {
		t.Fatal(err)
	}

	checkParents(t, c)
	if _, ok := c.Get(path); ok {
		t.Error("directory still cached as a file")
	}
	if _, ok := c.Get(inner); !ok {
		t.Error("file below the new directory not cached")
	}
	keys, _ := store.Keys()
	if diff, equal := messagediff.PrettyDiff([]string{inner}, keys); !equal {
		t.Errorf("unexpected store contents:\n%s", diff)
	}
}

func TestUpdateTreeOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x")

	store := &commitRecorder{Table: newTestStore(t)}
	c := New(dir, WithStore(store))
	writeFile(t, path, "a file")
	if err := c.UpdateFile(path); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	makeTree(t, dir, "x/a", "x/b")
	n, err := c.UpdateTree(context.Background(), path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("recorded %d files, expected 2", n)
	}

	checkParents(t, c)
	expected := []string{filepath.Join(path, "a"), filepath.Join(path, "b")}
	if diff, equal := messagediff.PrettyDiff(expected, sortedKeys(c.Snapshot())); !equal {
		t.Errorf("unexpected cache contents:\n%s", diff)
	}
	keys, _ := store.Keys()
	if diff, equal := messagediff.PrettyDiff(expected, keys); !equal {
		t.Errorf("unexpected store contents:\n%s", diff)
	}
	if store.commits != 1 {
		t.Errorf("%d commits, expected the removal and upserts in one", store.commits)
	}
}

func TestRootNamedSubdirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proj")
	top := filepath.Join(dir, "a.txt")
	nested := filepath.Join(dir, "proj", "a.txt")
	writeFile(t, top, "top")
	writeFile(t, nested, "nested")

	c := New(dir, WithStore(newTestStore(t)))
	for _, path := range []string{top, nested} {
		if err := c.UpdateFile(path); err != nil {
			t.Fatal(err)
		}
	}
	checkParents(t, c)

	rec, ok := c.Get(nested)
	if !ok || rec.Path != nested || rec.Size != uint64(len("nested")) {
		t.Errorf("nested file resolved to %v, %v", rec, ok)
	}
	rec, ok = c.Get(top)
	if !ok || rec.Path != top || rec.Size != uint64(len("top")) {
		t.Errorf("top file resolved to %v, %v", rec, ok)
	}
	if id, ok := c.FindEntryByPath(filepath.Join(dir, "proj")); !ok || id == RootID {
		t.Errorf("subdirectory resolved to %d, %v", id, ok)
	}
	// Relative paths may still start with the root name.
	if rec, ok := c.Get(filepath.Join("proj", "proj", "a.txt")); !ok || rec.Path != nested {
		t.Errorf("root prefixed lookup resolved to %v, %v", rec, ok)
	}

	snap := c.Snapshot()
	if diff, equal := messagediff.PrettyDiff([]string{top, nested}, sortedKeys(snap)); !equal {
		t.Errorf("unexpected cache contents:\n%s", diff)
	}
	for path, rec := range snap {
		if rec.Path != path {
			t.Errorf("record for %s carries path %s", path, rec.Path)
		}
	}

	// Rescans agree with what is cached.
	stats, err := c.DiffAndUpdate(c.ScanDirCollect(context.Background(), dir, nil))
	if err != nil {
		t.Fatal(err)
	}
	if diff, equal := messagediff.PrettyDiff(DiffStats{Unchanged: 2}, stats); !equal {
		t.Errorf("unexpected first rescan:\n%s", diff)
	}
	stats, err = c.DiffAndUpdate(c.ScanDirCollect(context.Background(), dir, nil))
	if err != nil {
		t.Fatal(err)
	}
	if diff, equal := messagediff.PrettyDiff(DiffStats{Unchanged: 2}, stats); !equal {
		t.Errorf("unexpected second rescan:\n%s", diff)
	}
	checkParents(t, c)
}
