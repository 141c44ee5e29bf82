// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package pathtree

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/linkfield/linkfield/lib/meta"
)

// streamScan is one run of ScanDirCollectWithIgnoreAndCommit.
type streamScan struct {
	c         *Cache
	ign       Ignorer
	batchSize int
	counter   *scanCounter

	cbMut   sync.Mutex
	onBatch func(batch int)
	batches int
}

// ScanDirCollectWithIgnoreAndCommit walks dir like ScanDirCollect but
// bounds memory: file records are inserted into the cache, committed to the
// store in batches of at most batchSize per directory and evicted from
// memory right after each commit. Directories are evicted once their whole
// subtree is done and nothing is left below them. The optional onBatch is
// called after every flushed batch with the running batch count; calls are
// serialized.
//
// When it returns, the store holds every scanned file and the cache holds
// only what was added concurrently by others.
func (c *Cache) ScanDirCollectWithIgnoreAndCommit(ctx context.Context, dir string, ign Ignorer, batchSize int, onBatch func(batch int)) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	comps, err := c.components(dir)
	if err != nil {
		return err
	}
	parent, replaced, err := c.ensureDirs(comps)
	if err != nil {
		return err
	}
	if err := c.dropReplaced(replaced); err != nil {
		return err
	}

	s := &streamScan{
		c:         c,
		ign:       ign,
		batchSize: batchSize,
		counter:   newScanCounter(),
		onBatch:   onBatch,
	}
	defer s.counter.Close()

	s.scan(ctx, c.fullPath(comps), parent)
	if parent != RootID {
		c.evict(parent)
	}

	metricFilesScanned.WithLabelValues(modeStreaming).Add(float64(s.counter.Total()))
	metricEntries.Set(float64(c.Len()))
	l.Debugf("Streamed %d files below %s in %d batches", s.counter.Total(), dir, s.batches)
	return ctx.Err()
}

// scan returns once dir and everything below it has been committed.
func (s *streamScan) scan(ctx context.Context, dir string, parent uint64) {
	if ctx.Err() != nil {
		return
	}
	if ignored(s.ign, dir) {
		l.Infoln("Ignoring directory due to ignore config:", dir)
		return
	}
	files, dirs, err := readDir(dir, s.ign)
	if err != nil {
		l.Warnln("Error reading dir:", err)
		metricScanErrors.Inc()
		return
	}

	n := min(s.batchSize, len(files))
	batch := make([]meta.Record, 0, n)
	ids := make([]uint64, 0, n)
	for _, rec := range files {
		id, err := s.c.UpdateOrInsertFile(filepath.Base(rec.Path), parent, rec)
		if err != nil {
			l.Debugf("Not caching %s: %v", rec.Path, err)
			continue
		}
		batch = append(batch, rec)
		ids = append(ids, id)
		if len(batch) >= s.batchSize {
			s.flush(batch, ids)
			batch = batch[:0]
			ids = ids[:0]
		}
	}
	if len(batch) > 0 {
		s.flush(batch, ids)
	}

	var wg sync.WaitGroup
	for _, sub := range dirs {
		id, err := s.c.ensureDir(filepath.Base(sub), parent)
		if err != nil {
			continue
		}
		if s.c.workers.TryTake(1) {
			wg.Add(1)
			go func(sub string, id uint64) {
				defer wg.Done()
				defer s.c.workers.Give(1)
				s.scan(ctx, sub, id)
				s.c.evict(id)
			}(sub, id)
			continue
		}
		s.scan(ctx, sub, id)
		s.c.evict(id)
	}
	wg.Wait()
}

func (s *streamScan) flush(batch []meta.Record, ids []uint64) {
	if s.c.store != nil {
		// Failures are logged by the store; the records are evicted
		// regardless and picked up again by the next scan.
		_ = s.c.store.BatchCommit(nil, batch)
	}
	s.c.evict(ids...)
	s.counter.Update(int64(len(batch)))
	metricBatchesFlushed.Inc()

	s.cbMut.Lock()
	s.batches++
	if s.onBatch != nil {
		s.onBatch(s.batches)
	}
	s.cbMut.Unlock()
}
