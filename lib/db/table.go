// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package db keeps the durable copy of the file metadata cache: one logical
// table mapping path strings to encoded metadata records.
package db

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/linkfield/linkfield/lib/db/backend"
	"github.com/linkfield/linkfield/lib/meta"
)

// TableName is the name of the metadata table. Its keys live under the
// prefix TableName + "/" in the backend.
const TableName = "file_cache"

// SchemaVersion is written to the table marker on creation. A database with
// a newer version is refused.
const SchemaVersion = 1

const markerPrefix = "\x00tables/"

var ErrNewerSchema = errors.New("database was created by a newer version")

// Table is the file_cache table on top of a backend. All mutating
// operations are single transactions. A failed transaction is logged and
// returned; nothing is retried.
type Table struct {
	kv     backend.Backend
	prefix []byte
	marker []byte
}

// NewTable returns the file_cache table in the given database. Call
// EnsureTable before using it.
func NewTable(kv backend.Backend) *Table {
	return newNamedTable(kv, TableName)
}

func newNamedTable(kv backend.Backend, name string) *Table {
	prefix := []byte(name + "/")
	// Cut the capacity so that append() on the prefix always allocates.
	prefix = prefix[:len(prefix):len(prefix)]
	return &Table{
		kv:     kv,
		prefix: prefix,
		marker: []byte(markerPrefix + name),
	}
}

// EnsureTable creates the table if it does not exist yet. It is idempotent.
// An error here means the database is unusable.
func (t *Table) EnsureTable() error {
	val, err := t.kv.Get(t.marker)
	switch {
	case backend.IsNotFound(err):
		var bs [8]byte
		binary.BigEndian.PutUint64(bs[:], SchemaVersion)
		if err := t.kv.Put(t.marker, bs[:]); err != nil {
			return fmt.Errorf("creating table %s: %w", t.name(), err)
		}
		l.Infof("Created table %s in %s", t.name(), t.kv.Location())
		return nil
	case err != nil:
		return fmt.Errorf("opening table %s: %w", t.name(), err)
	case len(val) != 8:
		return fmt.Errorf("opening table %s: malformed marker", t.name())
	}

	if v := binary.BigEndian.Uint64(val); v > SchemaVersion {
		return fmt.Errorf("table %s has schema version %d, expected at most %d: %w", t.name(), v, SchemaVersion, ErrNewerSchema)
	}
	l.Debugf("Opened table %s in %s", t.name(), t.kv.Location())
	return nil
}

func (t *Table) name() string {
	return string(t.prefix[:len(t.prefix)-1])
}

// Key returns the store key for a path. Paths that are not valid UTF-8 are
// converted lossily.
func Key(path string) string {
	if utf8.ValidString(path) {
		return path
	}
	return strings.ToValidUTF8(path, string(utf8.RuneError))
}

func (t *Table) key(path string) []byte {
	return append(t.prefix, Key(path)...)
}

// BatchCommit removes and upserts the given records in one transaction.
// Upserts are keyed by the record's path.
func (t *Table) BatchCommit(removals []string, upserts []meta.Record) error {
	l.Debugf("Committing batch of %d files, removing %d", len(upserts), len(removals))

	tx, err := t.kv.NewWriteTransaction()
	if err != nil {
		return t.failed("begin transaction", err)
	}
	defer tx.Release()

	for _, path := range removals {
		if err := tx.Delete(t.key(path)); err != nil {
			l.Warnf("Removing %q from %s: %v", path, t.name(), err)
		}
	}
	for _, rec := range upserts {
		if err := tx.Put(t.key(rec.Path), rec.Marshal()); err != nil {
			l.Warnf("Storing %q in %s: %v", rec.Path, t.name(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return t.failed("commit", err)
	}

	metricTransactions.WithLabelValues(resultSuccess).Inc()
	metricRecordsWritten.WithLabelValues(opRemove).Add(float64(len(removals)))
	metricRecordsWritten.WithLabelValues(opUpsert).Add(float64(len(upserts)))
	return nil
}

func (t *Table) failed(what string, err error) error {
	metricTransactions.WithLabelValues(resultFailure).Inc()
	err = fmt.Errorf("%s %s: %w", t.name(), what, err)
	l.Warnln("Durable write lost:", err)
	return err
}

// Insert stores a single record.
func (t *Table) Insert(rec meta.Record) error {
	return t.BatchCommit(nil, []meta.Record{rec})
}

// Remove deletes the record for a single path. Removing a path that is not
// stored is not an error.
func (t *Table) Remove(path string) error {
	return t.BatchCommit([]string{path}, nil)
}

// RemoveTree deletes the record for path and every record below it, as
// one transaction.
func (t *Table) RemoveTree(path string) error {
	tx, err := t.kv.NewWriteTransaction()
	if err != nil {
		return t.failed("begin transaction", err)
	}
	defer tx.Release()

	dirPrefix := append(t.key(path), filepath.Separator)
	it, err := tx.NewPrefixIterator(dirPrefix)
	if err != nil {
		return t.failed("iterate", err)
	}
	keys := [][]byte{t.key(path)}
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return t.failed("iterate", err)
	}

	for _, key := range keys {
		if err := tx.Delete(key); err != nil {
			l.Warnf("Removing %q from %s: %v", key[len(t.prefix):], t.name(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return t.failed("commit", err)
	}

	metricTransactions.WithLabelValues(resultSuccess).Inc()
	metricRecordsWritten.WithLabelValues(opRemove).Add(float64(len(keys)))
	return nil
}

// Get returns the stored record for path. The boolean is false if there is
// no such record.
func (t *Table) Get(path string) (meta.Record, bool, error) {
	bs, err := t.kv.Get(t.key(path))
	if backend.IsNotFound(err) {
		return meta.Record{}, false, nil
	}
	if err != nil {
		return meta.Record{}, false, err
	}
	rec, err := meta.Unmarshal(bs)
	if err != nil {
		return meta.Record{}, false, fmt.Errorf("%q: %w", path, err)
	}
	return rec, true, nil
}

// Iterate calls fn for each decodable record in key order until fn returns
// false. Keys whose value cannot be decoded are passed to bad, if set.
func (t *Table) Iterate(fn func(meta.Record) bool, bad func(key string, err error)) error {
	it, err := t.kv.NewPrefixIterator(t.prefix)
	if err != nil {
		return err
	}
	defer it.Release()

	for it.Next() {
		rec, err := meta.Unmarshal(it.Value())
		if err != nil {
			if bad != nil {
				bad(string(it.Key()[len(t.prefix):]), err)
			}
			continue
		}
		if !fn(rec) {
			break
		}
	}
	return it.Error()
}

// LoadAll returns every stored record, keyed by path. Records that cannot
// be decoded are logged, left out of the result and purged from the table,
// so that they can never resurface as bogus entries.
func (t *Table) LoadAll() (map[string]meta.Record, error) {
	res := make(map[string]meta.Record)
	var corrupt []string
	err := t.Iterate(func(rec meta.Record) bool {
		res[rec.Path] = rec
		return true
	}, func(key string, err error) {
		l.Warnf("Dropping undecodable record %q: %v", key, err)
		corrupt = append(corrupt, key)
	})
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", t.name(), err)
	}

	if len(corrupt) > 0 {
		metricCorruptRecords.Add(float64(len(corrupt)))
		// A failure here is logged by BatchCommit; the purge is retried on
		// the next load.
		_ = t.BatchCommit(corrupt, nil)
	}
	l.Debugf("Loaded %d records from %s", len(res), t.name())
	return res, nil
}

// Keys returns every key in the table, including those whose values cannot
// be decoded.
func (t *Table) Keys() ([]string, error) {
	it, err := t.kv.NewPrefixIterator(t.prefix)
	if err != nil {
		return nil, err
	}
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()[len(t.prefix):]))
	}
	return keys, it.Error()
}

// Count returns the number of keys in the table.
func (t *Table) Count() (int, error) {
	it, err := t.kv.NewPrefixIterator(t.prefix)
	if err != nil {
		return 0, err
	}
	defer it.Release()

	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}

// Compact asks the backend to reclaim space.
func (t *Table) Compact() error {
	return t.kv.Compact()
}
