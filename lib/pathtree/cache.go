// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package pathtree implements the in-memory file metadata cache. Entries
// form a tree rooted at the watched directory, addressed by numeric ids.
// Each entry knows its parent; a per-directory child index makes name
// lookups cheap.
package pathtree

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/linkfield/linkfield/lib/meta"
	"github.com/linkfield/linkfield/lib/semaphore"
)

// RootID is the id of the root entry. It is never removed.
const RootID uint64 = 1

var (
	ErrNoParent    = errors.New("parent entry does not exist")
	ErrOutsideRoot = errors.New("path is not below the cache root")
)

type Kind int

const (
	KindDirectory Kind = iota
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Entry is a node in the tree. Parent is zero for the root only. Record is
// set for files.
type Entry struct {
	ID     uint64
	Name   string
	Parent uint64
	Kind   Kind
	Record meta.Record
}

func (e Entry) IsFile() bool {
	return e.Kind == KindFile
}

// Store is the durable side of the cache. *db.Table implements it.
type Store interface {
	BatchCommit(removals []string, upserts []meta.Record) error
	Insert(rec meta.Record) error
	RemoveTree(path string) error
	LoadAll() (map[string]meta.Record, error)
}

// Ignorer decides whether a path is excluded from scans.
type Ignorer interface {
	IsIgnored(path string) bool
}

func ignored(ign Ignorer, path string) bool {
	return ign != nil && ign.IsIgnored(path)
}

type Option func(*Cache)

// WithStore makes the cache write single file updates and removals through
// to the given store, and lets scans and diffs commit to it.
func WithStore(s Store) Option {
	return func(c *Cache) {
		c.store = s
	}
}

// WithWorkers limits the number of extra goroutines used by scans. Zero or
// less means one per CPU.
func WithWorkers(n int) Option {
	return func(c *Cache) {
		if n <= 0 {
			n = runtime.GOMAXPROCS(-1)
		}
		c.workers = semaphore.New(n)
	}
}

// Cache is the tree of directories and files below a root directory.
//
// Lookups are lock free. Inserts and updates run concurrently with each
// other; uniqueness of a name under a parent is guaranteed by the child
// index. Removals of entries take the structure lock exclusively, so that
// nothing can be attached below an entry that is being removed.
type Cache struct {
	root     string
	rootName string

	entries  *xsync.MapOf[uint64, Entry]
	children *xsync.MapOf[uint64, *xsync.MapOf[string, uint64]]
	nextID   atomic.Uint64
	structMu sync.RWMutex

	store   Store
	workers *semaphore.Semaphore
}

// New returns a cache holding only the root entry for the given directory.
// The root is named after the last element of the directory.
func New(root string, opts ...Option) *Cache {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	root = filepath.Clean(root)
	c := &Cache{
		root:     root,
		rootName: filepath.Base(root),
		entries:  xsync.NewMapOf[uint64, Entry](),
		children: xsync.NewMapOf[uint64, *xsync.MapOf[string, uint64]](),
	}
	c.nextID.Store(RootID + 1)
	c.entries.Store(RootID, Entry{ID: RootID, Name: c.rootName, Kind: KindDirectory})
	WithWorkers(0)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the absolute path of the watched directory.
func (c *Cache) Root() string {
	return c.root
}

func (c *Cache) allocID() uint64 {
	return c.nextID.Add(1) - 1
}

// components returns the names leading from the root to path. Absolute
// paths must be below the root and are taken as they are. For relative
// paths a leading element equal to the root name is skipped.
func (c *Cache) components(path string) ([]string, error) {
	path = filepath.Clean(path)
	relative := !filepath.IsAbs(path)
	if !relative {
		rel, err := filepath.Rel(c.root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, ErrOutsideRoot
		}
		path = rel
	}
	if path == "." {
		return nil, nil
	}
	parts := strings.Split(path, string(filepath.Separator))
	if relative && len(parts) > 0 && parts[0] == c.rootName {
		parts = parts[1:]
	}
	out := parts[:0]
	for _, p := range parts {
		if p != "" && p != "." {
			out = append(out, p)
		}
	}
	return out, nil
}

// fullPath returns the absolute path for components below the root.
func (c *Cache) fullPath(comps []string) string {
	return filepath.Join(append([]string{c.root}, comps...)...)
}

// FindChild returns the id of the child called name under parent.
func (c *Cache) FindChild(parent uint64, name string) (uint64, bool) {
	kids, ok := c.children.Load(parent)
	if !ok {
		return 0, false
	}
	return kids.Load(name)
}

// FindEntryByPath resolves a path to an entry id. The path may be absolute
// (below the root) or relative, optionally starting with the root name.
func (c *Cache) FindEntryByPath(path string) (uint64, bool) {
	comps, err := c.components(path)
	if err != nil {
		return 0, false
	}
	cur := RootID
	for _, name := range comps {
		next, ok := c.FindChild(cur, name)
		if !ok {
			return 0, false
		}
		cur = next
	}
	return cur, true
}

// Entry returns a copy of the entry with the given id.
func (c *Cache) Entry(id uint64) (Entry, bool) {
	return c.entries.Load(id)
}

// Get returns a copy of the record for the file at path. It returns false
// for unknown paths and for directories.
func (c *Cache) Get(path string) (meta.Record, bool) {
	id, ok := c.FindEntryByPath(path)
	if !ok {
		return meta.Record{}, false
	}
	e, ok := c.entries.Load(id)
	if !ok || !e.IsFile() {
		return meta.Record{}, false
	}
	return e.Record, true
}

// ReconstructPath returns the path of an entry, starting with the root
// name.
func (c *Cache) ReconstructPath(id uint64) string {
	var names []string
	for {
		e, ok := c.entries.Load(id)
		if !ok {
			break
		}
		names = append(names, e.Name)
		if e.Parent == 0 {
			break
		}
		id = e.Parent
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return filepath.Join(names...)
}

// Len returns the number of entries, including the root.
func (c *Cache) Len() int {
	return c.entries.Size()
}

// AllFiles returns copies of all file records, in no particular order.
func (c *Cache) AllFiles() []meta.Record {
	var res []meta.Record
	c.entries.Range(func(_ uint64, e Entry) bool {
		if e.IsFile() {
			res = append(res, e.Record)
		}
		return true
	})
	return res
}

// Snapshot returns all file records keyed by path.
func (c *Cache) Snapshot() map[string]meta.Record {
	res := make(map[string]meta.Record)
	c.entries.Range(func(_ uint64, e Entry) bool {
		if e.IsFile() {
			res[e.Record.Path] = e.Record
		}
		return true
	})
	return res
}

// UpdateOrInsertFile sets the record of the file called name under parent,
// creating the entry if needed. The id of an existing entry is kept.
func (c *Cache) UpdateOrInsertFile(name string, parent uint64, rec meta.Record) (uint64, error) {
	c.structMu.RLock()
	defer c.structMu.RUnlock()
	return c.upsertLocked(name, parent, KindFile, rec)
}

// ensureDir returns the id of the directory called name under parent,
// creating it if needed. A file entry of the same name becomes a directory.
func (c *Cache) ensureDir(name string, parent uint64) (uint64, error) {
	c.structMu.RLock()
	defer c.structMu.RUnlock()
	return c.upsertLocked(name, parent, KindDirectory, meta.Record{})
}

// upsertLocked must be called with structMu held, at least for reading.
func (c *Cache) upsertLocked(name string, parent uint64, kind Kind, rec meta.Record) (uint64, error) {
	if _, ok := c.entries.Load(parent); !ok {
		return 0, ErrNoParent
	}
	kids, _ := c.children.LoadOrCompute(parent, func() *xsync.MapOf[string, uint64] {
		return xsync.NewMapOf[string, uint64]()
	})

	var id uint64
	kids.Compute(name, func(old uint64, loaded bool) (uint64, bool) {
		if loaded {
			id = old
			if kind == KindDirectory {
				if e, ok := c.entries.Load(id); ok && e.Kind == KindDirectory {
					return old, false
				}
			}
		} else {
			id = c.allocID()
		}
		c.entries.Store(id, Entry{ID: id, Name: name, Parent: parent, Kind: kind, Record: rec})
		return id, false
	})
	return id, nil
}

// ensureDirs makes sure all of comps exist as directories and returns the
// id of the last one. File entries in the way become directories; their
// paths are returned so that the stored records can be dropped.
func (c *Cache) ensureDirs(comps []string) (uint64, []string, error) {
	cur := RootID
	var replaced []string
	for _, name := range comps {
		if id, ok := c.FindChild(cur, name); ok {
			if e, ok := c.entries.Load(id); ok {
				if e.Kind == KindDirectory {
					cur = id
					continue
				}
				replaced = append(replaced, e.Record.Path)
			}
		}
		id, err := c.ensureDir(name, cur)
		if err != nil {
			return 0, replaced, err
		}
		cur = id
	}
	return cur, replaced, nil
}

// dropReplaced removes the stored records of files that became directories.
func (c *Cache) dropReplaced(replaced []string) error {
	if c.store == nil || len(replaced) == 0 {
		return nil
	}
	l.Debugln("Files replaced by directories:", replaced)
	return c.store.BatchCommit(replaced, nil)
}

// RemoveEntry removes an entry and all its descendants. Removing the root
// removes everything below it but keeps the root itself. It returns the
// records of the removed files.
func (c *Cache) RemoveEntry(id uint64) []meta.Record {
	c.structMu.Lock()
	defer c.structMu.Unlock()
	var removed []meta.Record
	c.removeLocked(id, &removed)
	return removed
}

// removeLocked must be called with structMu held for writing.
func (c *Cache) removeLocked(id uint64, removed *[]meta.Record) {
	e, ok := c.entries.Load(id)
	if !ok {
		return
	}
	if kids, ok := c.children.LoadAndDelete(id); ok {
		kids.Range(func(_ string, child uint64) bool {
			c.removeLocked(child, removed)
			return true
		})
	}
	if id == RootID {
		return
	}
	if pk, ok := c.children.Load(e.Parent); ok {
		pk.Compute(e.Name, func(old uint64, loaded bool) (uint64, bool) {
			return old, !loaded || old == id
		})
	}
	c.entries.Delete(id)
	if e.IsFile() && removed != nil {
		*removed = append(*removed, e.Record)
	}
}

// evict drops the given entries from memory without touching the store.
// Directories are only dropped when they have no children left.
func (c *Cache) evict(ids ...uint64) {
	c.structMu.Lock()
	defer c.structMu.Unlock()
	for _, id := range ids {
		if kids, ok := c.children.Load(id); ok && kids.Size() > 0 {
			continue
		}
		c.removeLocked(id, nil)
	}
}

// UpdateFile stats path and records the result in the cache, creating
// intermediate directories as needed. A directory only gets directory
// entries. With a store the file record is written through. Stat failures
// are logged and returned; the cache is left unchanged.
func (c *Cache) UpdateFile(path string) error {
	comps, err := c.components(path)
	if err != nil {
		l.Debugf("Not updating %s: %v", path, err)
		return err
	}
	if len(comps) == 0 {
		return nil
	}
	full := c.fullPath(comps)
	fi, err := os.Stat(full)
	if err != nil {
		l.Debugf("Not updating %s: %v", full, err)
		return err
	}

	if fi.IsDir() {
		_, replaced, err := c.ensureDirs(comps)
		if err != nil {
			return err
		}
		return c.dropReplaced(replaced)
	}

	parent, replaced, err := c.ensureDirs(comps[:len(comps)-1])
	if err != nil {
		return err
	}
	if err := c.dropReplaced(replaced); err != nil {
		return err
	}
	name := comps[len(comps)-1]
	if id, ok := c.FindChild(parent, name); ok {
		if e, ok := c.entries.Load(id); ok && e.Kind == KindDirectory {
			// A directory was replaced by a file.
			c.RemoveEntry(id)
			if c.store != nil {
				if err := c.store.RemoveTree(full); err != nil {
					return err
				}
			}
		}
	}
	rec := meta.FromFileInfo(full, fi)
	if _, err := c.UpdateOrInsertFile(name, parent, rec); err != nil {
		return err
	}
	if c.store != nil {
		if err := c.store.Insert(rec); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFile removes the entry for path and everything below it. With a
// store the removal is written through as one transaction, which also
// covers records that are no longer resident in memory.
func (c *Cache) RemoveFile(path string) error {
	comps, err := c.components(path)
	if err != nil {
		l.Debugf("Not removing %s: %v", path, err)
		return err
	}
	if id, ok := c.FindEntryByPath(path); ok {
		c.RemoveEntry(id)
	}
	if c.store != nil && len(comps) > 0 {
		return c.store.RemoveTree(c.fullPath(comps))
	}
	return nil
}

// insertRecord places rec in the tree by its path without touching the
// store. It returns the paths of cached files that had to become
// directories on the way.
func (c *Cache) insertRecord(rec meta.Record) ([]string, error) {
	comps, err := c.components(rec.Path)
	if err != nil {
		return nil, err
	}
	if len(comps) == 0 {
		return nil, ErrOutsideRoot
	}
	parent, replaced, err := c.ensureDirs(comps[:len(comps)-1])
	if err != nil {
		return replaced, err
	}
	_, err = c.UpdateOrInsertFile(comps[len(comps)-1], parent, rec)
	return replaced, err
}

// LoadFromStore fills the cache from the store. Records whose path is not
// below the root are skipped.
func (c *Cache) LoadFromStore() (int, error) {
	if c.store == nil {
		return 0, nil
	}
	recs, err := c.store.LoadAll()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if _, err := c.insertRecord(rec); err != nil {
			l.Debugf("Skipping stored record %s: %v", rec.Path, err)
			continue
		}
		n++
	}
	metricEntries.Set(float64(c.Len()))
	return n, nil
}
