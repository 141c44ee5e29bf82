// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package backend abstracts the embedded key/value databases the metadata
// store can live in.
package backend

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// The Reader interface specifies the read-only operations available on the
// main database and on read-only transactions (snapshots).
type Reader interface {
	Get(key []byte) ([]byte, error)
	NewPrefixIterator(prefix []byte) (Iterator, error)
}

// The Writer interface specifies the mutating operations available on the
// main database and on writable transactions. When called directly on the
// database handle each operation is its own implicit transaction.
type Writer interface {
	Put(key, val []byte) error
	Delete(key []byte) error
}

// The ReadTransaction interface specifies the operations on read-only
// transactions. Every ReadTransaction must be Released when no longer
// required.
type ReadTransaction interface {
	Reader
	Release()
}

// The WriteTransaction interface specifies the operations on writable
// transactions. Every WriteTransaction must be either Committed or Released
// (i.e., discarded) when no longer required. It is fine to Release an
// already Committed transaction.
//
// Writes are not visible to reads on the same transaction before Commit.
type WriteTransaction interface {
	ReadTransaction
	Writer
	Commit() error
}

// The Iterator interface specifies the operations available on iterators
// returned by NewPrefixIterator. Errors are reported by Error once Next
// returns false.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

type Backend interface {
	Reader
	Writer
	NewReadTransaction() (ReadTransaction, error)
	NewWriteTransaction() (WriteTransaction, error)
	Compact() error
	Location() string
	Close() error
}

type Type string

const (
	TypeLevelDB Type = "leveldb"
	TypeBadger  Type = "badger"
	TypeMemory  Type = "memory"
)

// Open opens or creates the database of the given type at location. The
// options map holds backend specific settings; unknown keys are an error.
func Open(typ Type, location string, options map[string]any) (Backend, error) {
	switch typ {
	case TypeLevelDB, "":
		var opts LevelDBOptions
		if err := decodeOptions(options, &opts); err != nil {
			return nil, fmt.Errorf("leveldb options: %w", err)
		}
		return OpenLevelDB(location, opts)
	case TypeBadger:
		var opts BadgerOptions
		if err := decodeOptions(options, &opts); err != nil {
			return nil, fmt.Errorf("badger options: %w", err)
		}
		return OpenBadger(location, opts)
	case TypeMemory:
		return OpenMemory(), nil
	default:
		return nil, fmt.Errorf("unknown database backend %q", typ)
	}
}

// OpenMemory returns an empty database that lives in memory only.
func OpenMemory() Backend {
	return OpenLevelDBMemory()
}

func decodeOptions(options map[string]any, into any) error {
	if len(options) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           into,
	})
	if err != nil {
		return err
	}
	return dec.Decode(options)
}

var (
	errClosed   = errors.New("database is closed")
	errNotFound = errors.New("key not found")
)

func IsClosed(err error) bool {
	return errors.Is(err, errClosed)
}

func IsNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}

// closeWaitGroup tracks outstanding transactions and iterators so that
// Close can wait for them, and refuses new ones once closing has begun.
type closeWaitGroup struct {
	sync.WaitGroup
	closed   bool
	closeMut sync.RWMutex
}

func (cg *closeWaitGroup) Add(i int) error {
	cg.closeMut.RLock()
	defer cg.closeMut.RUnlock()
	if cg.closed {
		return errClosed
	}
	cg.WaitGroup.Add(i)
	return nil
}

func (cg *closeWaitGroup) CloseWait() {
	cg.closeMut.Lock()
	cg.closed = true
	cg.closeMut.Unlock()
	cg.WaitGroup.Wait()
}

// releaser manages counting on top of a closeWaitGroup
type releaser struct {
	wg   *closeWaitGroup
	once *sync.Once
}

func newReleaser(wg *closeWaitGroup) (*releaser, error) {
	if err := wg.Add(1); err != nil {
		return nil, err
	}
	return &releaser{
		wg:   wg,
		once: new(sync.Once),
	}, nil
}

func (r releaser) Release() {
	// We use the Once because we may get called multiple times from
	// Commit() and deferred Release().
	r.once.Do(func() {
		r.wg.Done()
	})
}
