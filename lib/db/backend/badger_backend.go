// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package backend

import (
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerOptions are the tunables accepted under backend.badger in the
// configuration. Zero values mean the defaults below.
type BadgerOptions struct {
	InMemory         bool  `mapstructure:"in_memory"`
	SyncWrites       bool  `mapstructure:"sync_writes"`
	BlockCacheSize   int64 `mapstructure:"block_cache_size"`
	IndexCacheSize   int64 `mapstructure:"index_cache_size"`
	ValueLogFileSize int64 `mapstructure:"value_log_file_size"`
}

const (
	defaultBadgerBlockCache = 64 << MiB
	defaultBadgerIndexCache = 16 << MiB
)

// OpenBadger opens or creates a badger database in the directory location.
func OpenBadger(location string, o BadgerOptions) (Backend, error) {
	opts := badger.DefaultOptions(location).
		WithLogger(nil).
		WithSyncWrites(o.SyncWrites).
		WithCompactL0OnClose(false)
	if o.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if o.BlockCacheSize > 0 {
		opts = opts.WithBlockCacheSize(o.BlockCacheSize)
	} else {
		opts = opts.WithBlockCacheSize(defaultBadgerBlockCache)
	}
	if o.IndexCacheSize > 0 {
		opts = opts.WithIndexCacheSize(o.IndexCacheSize)
	} else {
		opts = opts.WithIndexCacheSize(defaultBadgerIndexCache)
	}
	if o.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(o.ValueLogFileSize)
	}
	return openBadger(opts, location)
}

// OpenBadgerMemory returns a badger database kept entirely in memory.
func OpenBadgerMemory() Backend {
	backend, err := OpenBadger("", BadgerOptions{InMemory: true})
	if err != nil {
		// Opening in-memory should never be able to fail, and is anyway
		// used just by tests.
		panic(err)
	}
	return backend
}

func openBadger(opts badger.Options, location string) (Backend, error) {
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, wrapBadgerErr(err)
	}
	return &badgerBackend{
		bdb:      bdb,
		closeWG:  &closeWaitGroup{},
		location: location,
	}, nil
}

// badgerBackend implements Backend on top of a badger
type badgerBackend struct {
	bdb      *badger.DB
	closeWG  *closeWaitGroup
	location string
}

func (b *badgerBackend) NewReadTransaction() (ReadTransaction, error) {
	rel, err := newReleaser(b.closeWG)
	if err != nil {
		return nil, err
	}
	return badgerSnapshot{
		txn: b.bdb.NewTransaction(false),
		rel: rel,
	}, nil
}

func (b *badgerBackend) NewWriteTransaction() (WriteTransaction, error) {
	rel1, err := newReleaser(b.closeWG)
	if err != nil {
		return nil, err
	}
	rel2, err := newReleaser(b.closeWG)
	if err != nil {
		rel1.Release()
		return nil, err
	}

	// We use two transactions here to preserve the property that our
	// leveldb wrapper has, that writes in a transaction are completely
	// invisible until it's committed, even inside that same transaction.
	rtxn := b.bdb.NewTransaction(false)
	wtxn := b.bdb.NewTransaction(true)
	return &badgerTransaction{
		badgerSnapshot: badgerSnapshot{
			txn: rtxn,
			rel: rel1,
		},
		txn: wtxn,
		bdb: b.bdb,
		rel: rel2,
	}, nil
}

func (b *badgerBackend) Close() error {
	b.closeWG.CloseWait()
	return wrapBadgerErr(b.bdb.Close())
}

func (b *badgerBackend) Get(key []byte) ([]byte, error) {
	if err := b.closeWG.Add(1); err != nil {
		return nil, err
	}
	defer b.closeWG.Done()

	var val []byte
	err := b.bdb.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	return val, wrapBadgerErr(err)
}

func (b *badgerBackend) NewPrefixIterator(prefix []byte) (Iterator, error) {
	if err := b.closeWG.Add(1); err != nil {
		return nil, err
	}

	txn := b.bdb.NewTransaction(false)
	it := badgerPrefixIterator(txn, prefix)
	it.releaseFn = func() {
		defer b.closeWG.Done()
		txn.Discard()
	}
	return it, nil
}

func (b *badgerBackend) Put(key, val []byte) error {
	if err := b.closeWG.Add(1); err != nil {
		return err
	}
	defer b.closeWG.Done()

	return wrapBadgerErr(b.bdb.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	}))
}

func (b *badgerBackend) Delete(key []byte) error {
	if err := b.closeWG.Add(1); err != nil {
		return err
	}
	defer b.closeWG.Done()

	return wrapBadgerErr(b.bdb.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}))
}

func (b *badgerBackend) Compact() error {
	if err := b.closeWG.Add(1); err != nil {
		return err
	}
	defer b.closeWG.Done()

	// RunValueLogGC picks a promising value log file, rewrites it and
	// returns nil if that improved things, or ErrNoRewrite once there is
	// nothing more to collect.
	var err error
	t0 := time.Now()
	for err == nil {
		if time.Since(t0) > time.Hour {
			l.Warnln("Database compaction is taking a long time, performance may be impacted.")
			t0 = time.Now()
		}
		err = b.bdb.RunValueLogGC(0.5)
	}

	switch {
	case errors.Is(err, badger.ErrNoRewrite):
		// GC did nothing, because nothing needed to be done
		return nil
	case errors.Is(err, badger.ErrRejected):
		// GC was already running
		return nil
	case errors.Is(err, badger.ErrGCInMemoryMode):
		return nil
	}
	return wrapBadgerErr(err)
}

func (b *badgerBackend) Location() string {
	if b.location == "" {
		return ":memory:"
	}
	return b.location
}

// badgerSnapshot implements backend.ReadTransaction
type badgerSnapshot struct {
	txn *badger.Txn
	rel *releaser
}

func (l badgerSnapshot) Get(key []byte) ([]byte, error) {
	item, err := l.txn.Get(key)
	if err != nil {
		return nil, wrapBadgerErr(err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, wrapBadgerErr(err)
	}
	return val, nil
}

func (l badgerSnapshot) NewPrefixIterator(prefix []byte) (Iterator, error) {
	return badgerPrefixIterator(l.txn, prefix), nil
}

func (l badgerSnapshot) Release() {
	defer l.rel.Release()
	l.txn.Discard()
}

type badgerTransaction struct {
	badgerSnapshot
	txn *badger.Txn
	bdb *badger.DB
	rel *releaser
}

func (t *badgerTransaction) Delete(key []byte) error {
	kc := make([]byte, len(key))
	copy(kc, key)
	return t.transactionRetried(func(txn *badger.Txn) error {
		return txn.Delete(kc)
	})
}

func (t *badgerTransaction) Put(key, val []byte) error {
	kc := make([]byte, len(key))
	copy(kc, key)
	vc := make([]byte, len(val))
	copy(vc, val)
	return t.transactionRetried(func(txn *badger.Txn) error {
		return txn.Set(kc, vc)
	})
}

// transactionRetried performs the given operation in the current
// transaction, with commit and retry if Badger says the transaction has
// grown too large.
func (t *badgerTransaction) transactionRetried(fn func(*badger.Txn) error) error {
	if err := fn(t.txn); errors.Is(err, badger.ErrTxnTooBig) {
		l.Debugln("Badger transaction too big, committing early")
		if err := t.txn.Commit(); err != nil {
			return wrapBadgerErr(err)
		}
		t.txn = t.bdb.NewTransaction(true)
		return wrapBadgerErr(fn(t.txn))
	} else if err != nil {
		return wrapBadgerErr(err)
	}
	return nil
}

func (t *badgerTransaction) Commit() error {
	defer t.rel.Release()
	defer t.badgerSnapshot.Release()
	return wrapBadgerErr(t.txn.Commit())
}

func (t *badgerTransaction) Release() {
	defer t.rel.Release()
	defer t.badgerSnapshot.Release()
	t.txn.Discard()
}

type badgerIterator struct {
	it        *badger.Iterator
	prefix    []byte
	releaseFn func()
	didSeek   bool
	err       error
}

func badgerPrefixIterator(txn *badger.Txn, prefix []byte) *badgerIterator {
	it := iteratorForPrefix(txn, prefix)
	return &badgerIterator{it: it, prefix: prefix}
}

func iteratorForPrefix(txn *badger.Txn, prefix []byte) *badger.Iterator {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	return txn.NewIterator(opts)
}

func (i *badgerIterator) Next() bool {
	if i.err != nil {
		return false
	}
	if !i.didSeek {
		i.it.Seek(i.prefix)
		i.didSeek = true
	} else {
		i.it.Next()
	}
	return i.it.ValidForPrefix(i.prefix)
}

func (i *badgerIterator) Key() []byte {
	return i.it.Item().KeyCopy(nil)
}

func (i *badgerIterator) Value() []byte {
	val, err := i.it.Item().ValueCopy(nil)
	if err != nil {
		i.err = err
	}
	return val
}

func (i *badgerIterator) Error() error {
	return wrapBadgerErr(i.err)
}

func (i *badgerIterator) Release() {
	i.it.Close()
	if i.releaseFn != nil {
		i.releaseFn()
	}
}

// wrapBadgerErr wraps errors so that the backend package can recognize them
func wrapBadgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrDiscardedTxn), errors.Is(err, badger.ErrDBClosed):
		return errClosed
	case errors.Is(err, badger.ErrKeyNotFound):
		return errNotFound
	}
	return err
}
