// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package backend

import (
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	KiB = 10
	MiB = 20
)

// LevelDBOptions are the tunables accepted under backend.leveldb in the
// configuration. Zero values mean the goleveldb defaults.
type LevelDBOptions struct {
	BlockCacheCapacity     int  `mapstructure:"block_cache_capacity"`
	WriteBuffer            int  `mapstructure:"write_buffer"`
	OpenFilesCacheCapacity int  `mapstructure:"open_files_cache_capacity"`
	NoSync                 bool `mapstructure:"no_sync"`
	NoCompression          bool `mapstructure:"no_compression"`
}

func (o LevelDBOptions) options() *opt.Options {
	opts := &opt.Options{
		BlockCacheCapacity:     o.BlockCacheCapacity,
		WriteBuffer:            o.WriteBuffer,
		OpenFilesCacheCapacity: o.OpenFilesCacheCapacity,
		NoSync:                 o.NoSync,
	}
	if opts.WriteBuffer == 0 {
		opts.WriteBuffer = 4 << MiB
	}
	if o.NoCompression {
		opts.Compression = opt.NoCompression
	}
	return opts
}

// OpenLevelDB opens or creates a leveldb database at location. A database
// found to be corrupt is recovered rather than refused.
func OpenLevelDB(location string, opts LevelDBOptions) (Backend, error) {
	lopts := opts.options()
	ldb, err := leveldb.OpenFile(location, lopts)
	if leveldbIsCorrupted(err) {
		l.Warnln("Database", location, "is corrupt, attempting recovery:", err)
		ldb, err = leveldb.RecoverFile(location, lopts)
	}
	if err != nil {
		return nil, wrapLeveldbErr(err)
	}
	return newLeveldbBackend(ldb, location), nil
}

// OpenLevelDBMemory returns a leveldb database kept entirely in memory.
func OpenLevelDBMemory() Backend {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		// Opening in-memory should never be able to fail.
		panic(err)
	}
	return newLeveldbBackend(ldb, ":memory:")
}

func leveldbIsCorrupted(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.IsCorrupted(err):
		return true
	case strings.Contains(err.Error(), "corrupted"):
		return true
	}
	return false
}

// leveldbBackend implements Backend on top of a leveldb
type leveldbBackend struct {
	ldb      *leveldb.DB
	closeWG  *closeWaitGroup
	location string
}

func newLeveldbBackend(ldb *leveldb.DB, location string) *leveldbBackend {
	return &leveldbBackend{
		ldb:      ldb,
		closeWG:  &closeWaitGroup{},
		location: location,
	}
}

func (b *leveldbBackend) NewReadTransaction() (ReadTransaction, error) {
	return b.newSnapshot()
}

func (b *leveldbBackend) newSnapshot() (leveldbSnapshot, error) {
	rel, err := newReleaser(b.closeWG)
	if err != nil {
		return leveldbSnapshot{}, err
	}
	snap, err := b.ldb.GetSnapshot()
	if err != nil {
		rel.Release()
		return leveldbSnapshot{}, wrapLeveldbErr(err)
	}
	return leveldbSnapshot{
		snap: snap,
		rel:  rel,
	}, nil
}

func (b *leveldbBackend) NewWriteTransaction() (WriteTransaction, error) {
	rel, err := newReleaser(b.closeWG)
	if err != nil {
		return nil, err
	}
	snap, err := b.newSnapshot()
	if err != nil {
		rel.Release()
		return nil, err // already wrapped
	}
	return &leveldbTransaction{
		leveldbSnapshot: snap,
		ldb:             b.ldb,
		batch:           new(leveldb.Batch),
		rel:             rel,
	}, nil
}

func (b *leveldbBackend) Close() error {
	b.closeWG.CloseWait()
	return wrapLeveldbErr(b.ldb.Close())
}

func (b *leveldbBackend) Get(key []byte) ([]byte, error) {
	val, err := b.ldb.Get(key, nil)
	return val, wrapLeveldbErr(err)
}

func (b *leveldbBackend) NewPrefixIterator(prefix []byte) (Iterator, error) {
	rel, err := newReleaser(b.closeWG)
	if err != nil {
		return nil, err
	}
	return &leveldbIterator{
		Iterator: b.ldb.NewIterator(util.BytesPrefix(prefix), nil),
		rel:      rel,
	}, nil
}

func (b *leveldbBackend) Put(key, val []byte) error {
	return wrapLeveldbErr(b.ldb.Put(key, val, nil))
}

func (b *leveldbBackend) Delete(key []byte) error {
	return wrapLeveldbErr(b.ldb.Delete(key, nil))
}

func (b *leveldbBackend) Compact() error {
	// Race is detected during testing when db is closed while compaction
	// is ongoing.
	if err := b.closeWG.Add(1); err != nil {
		return err
	}
	defer b.closeWG.Done()
	return wrapLeveldbErr(b.ldb.CompactRange(util.Range{}))
}

func (b *leveldbBackend) Location() string {
	return b.location
}

// leveldbSnapshot implements backend.ReadTransaction
type leveldbSnapshot struct {
	snap *leveldb.Snapshot
	rel  *releaser
}

func (l leveldbSnapshot) Get(key []byte) ([]byte, error) {
	val, err := l.snap.Get(key, nil)
	return val, wrapLeveldbErr(err)
}

func (l leveldbSnapshot) NewPrefixIterator(prefix []byte) (Iterator, error) {
	return &leveldbIterator{Iterator: l.snap.NewIterator(util.BytesPrefix(prefix), nil)}, nil
}

func (l leveldbSnapshot) Release() {
	l.snap.Release()
	l.rel.Release()
}

// leveldbTransaction implements backend.WriteTransaction using a batch (not
// an actual leveldb transaction). The batch is written atomically on
// Commit.
type leveldbTransaction struct {
	leveldbSnapshot
	ldb   *leveldb.DB
	batch *leveldb.Batch
	rel   *releaser
}

func (t *leveldbTransaction) Delete(key []byte) error {
	t.batch.Delete(key)
	return nil
}

func (t *leveldbTransaction) Put(key, val []byte) error {
	t.batch.Put(key, val)
	return nil
}

func (t *leveldbTransaction) Commit() error {
	var err error
	if t.batch.Len() > 0 {
		l.Debugf("Committing batch of %d operations (%d bytes)", t.batch.Len(), len(t.batch.Dump()))
		err = wrapLeveldbErr(t.ldb.Write(t.batch, nil))
		t.batch.Reset()
	}
	t.leveldbSnapshot.Release()
	t.rel.Release()
	return err
}

func (t *leveldbTransaction) Release() {
	t.leveldbSnapshot.Release()
	t.rel.Release()
}

type leveldbIterator struct {
	iterator.Iterator
	rel *releaser
}

func (it *leveldbIterator) Error() error {
	return wrapLeveldbErr(it.Iterator.Error())
}

func (it *leveldbIterator) Release() {
	it.Iterator.Release()
	if it.rel != nil {
		it.rel.Release()
	}
}

// wrapLeveldbErr wraps errors so that the backend package can recognize them
func wrapLeveldbErr(err error) error {
	switch err {
	case leveldb.ErrClosed:
		return errClosed
	case leveldb.ErrNotFound:
		return errNotFound
	}
	return err
}
