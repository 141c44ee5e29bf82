// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package pathtree

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	metrics "github.com/rcrowley/go-metrics"
	"golang.org/x/time/rate"

	"github.com/linkfield/linkfield/lib/meta"
)

// DefaultBatchSize is the number of records per transaction in streaming
// scans when nothing else is configured.
const DefaultBatchSize = 1000

// readDir lists dir and splits it into file records and subdirectory
// paths. Ignored entries are skipped before they are stat'ed. Symlinks are
// followed.
func readDir(dir string, ign Ignorer) ([]meta.Record, []string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	var files []meta.Record
	var dirs []string
	for _, de := range des {
		path := filepath.Join(dir, de.Name())
		if ignored(ign, path) {
			l.Debugln("Ignoring", path)
			continue
		}
		fi, err := statEntry(path, de)
		if err != nil {
			l.Debugf("Skipping %s: %v", path, err)
			metricScanErrors.Inc()
			continue
		}
		if fi.IsDir() {
			dirs = append(dirs, path)
			continue
		}
		files = append(files, meta.FromFileInfo(path, fi))
	}
	return files, dirs, nil
}

func statEntry(path string, de fs.DirEntry) (fs.FileInfo, error) {
	if de.Type()&fs.ModeSymlink != 0 {
		return os.Stat(path)
	}
	return de.Info()
}

// scanCounter tracks the number of files seen by a scan and the rate at
// which they are seen.
type scanCounter struct {
	metrics.EWMA
	mut   sync.Mutex
	total int64
	start time.Time
	every rate.Sometimes
	stop  chan struct{}
}

func newScanCounter() *scanCounter {
	c := &scanCounter{
		EWMA:  metrics.NewEWMA1(),
		start: time.Now(),
		every: rate.Sometimes{Every: 100, Interval: 2 * time.Second},
		stop:  make(chan struct{}),
	}
	go c.ticker()
	return c
}

func (c *scanCounter) ticker() {
	// The metrics.EWMA expects clock ticks every five seconds in order to
	// decay the average properly.
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.Tick()
		case <-c.stop:
			return
		}
	}
}

func (c *scanCounter) Update(n int64) {
	c.EWMA.Update(n)
	c.mut.Lock()
	c.total += n
	total := c.total
	c.mut.Unlock()
	c.every.Do(func() {
		l.Verbosef("Scanned %d files (%.0f files/s)", total, c.filesPerSecond(total))
	})
}

func (c *scanCounter) Total() int64 {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.total
}

func (c *scanCounter) filesPerSecond(total int64) float64 {
	// The EWMA has no value before its first tick.
	if r := c.Rate(); r > 0 {
		return r
	}
	if d := time.Since(c.start).Seconds(); d > 0 {
		return float64(total) / d
	}
	return 0
}

func (c *scanCounter) Close() {
	close(c.stop)
}

// ScanDirCollect walks dir recursively and returns a record for every file
// not excluded by ign, keyed by path. The cache is not modified.
// Subdirectories are scanned in parallel when workers are available and
// inline otherwise. Unreadable directories are logged and skipped.
func (c *Cache) ScanDirCollect(ctx context.Context, dir string, ign Ignorer) map[string]meta.Record {
	res := xsync.NewMapOf[string, meta.Record]()
	counter := newScanCounter()
	defer counter.Close()

	c.collect(ctx, dir, ign, res, counter)

	out := make(map[string]meta.Record, res.Size())
	res.Range(func(path string, rec meta.Record) bool {
		out[path] = rec
		return true
	})
	metricFilesScanned.WithLabelValues(modeFull).Add(float64(len(out)))
	l.Debugf("Collected %d files below %s", len(out), dir)
	return out
}

// collect returns once dir and everything below it has been scanned.
func (c *Cache) collect(ctx context.Context, dir string, ign Ignorer, res *xsync.MapOf[string, meta.Record], counter *scanCounter) {
	if ctx.Err() != nil {
		return
	}
	if ignored(ign, dir) {
		l.Infoln("Ignoring directory due to ignore config:", dir)
		return
	}
	files, dirs, err := readDir(dir, ign)
	if err != nil {
		l.Warnln("Error reading dir:", err)
		metricScanErrors.Inc()
		return
	}
	for _, rec := range files {
		res.Store(rec.Path, rec)
	}
	counter.Update(int64(len(files)))

	var wg sync.WaitGroup
	for _, sub := range dirs {
		if c.workers.TryTake(1) {
			wg.Add(1)
			go func(sub string) {
				defer wg.Done()
				defer c.workers.Give(1)
				c.collect(ctx, sub, ign, res, counter)
			}(sub)
			continue
		}
		c.collect(ctx, sub, ign, res, counter)
	}
	wg.Wait()
}

// DiffStats counts the outcome of a DiffAndUpdate.
type DiffStats struct {
	Added     int
	Updated   int
	Removed   int
	Unchanged int
}

// Upserts is the number of records written by the diff.
func (s DiffStats) Upserts() int {
	return s.Added + s.Updated
}

// Changed reports whether the diff staged anything.
func (s DiffStats) Changed() bool {
	return s.Upserts()+s.Removed > 0
}

// DiffAndUpdate brings the cache in line with newState, a full scan result
// keyed by path. Paths that disappeared are removed, new and modified ones
// are upserted and identical ones are left alone. The changes are committed
// to the store in one transaction and then applied to memory. When nothing
// changed no transaction is made. A failed commit is returned after memory
// has been updated anyway.
func (c *Cache) DiffAndUpdate(newState map[string]meta.Record) (DiffStats, error) {
	old := c.Snapshot()

	var stats DiffStats
	var removals []string
	var upserts []meta.Record
	for path := range old {
		if _, ok := newState[path]; !ok {
			removals = append(removals, path)
		}
	}
	for path, rec := range newState {
		prev, ok := old[path]
		switch {
		case !ok:
			upserts = append(upserts, rec)
			stats.Added++
		case !prev.Equal(rec):
			upserts = append(upserts, rec)
			stats.Updated++
		default:
			stats.Unchanged++
		}
	}
	stats.Removed = len(removals)

	metricDiffRecords.WithLabelValues("added").Add(float64(stats.Added))
	metricDiffRecords.WithLabelValues("updated").Add(float64(stats.Updated))
	metricDiffRecords.WithLabelValues("removed").Add(float64(stats.Removed))
	metricDiffRecords.WithLabelValues("unchanged").Add(float64(stats.Unchanged))

	if !stats.Changed() {
		l.Debugf("Diff: nothing changed (%d files)", stats.Unchanged)
		return stats, nil
	}

	sort.Strings(removals)
	sort.Slice(upserts, func(a, b int) bool { return upserts[a].Path < upserts[b].Path })

	var err error
	if c.store != nil {
		err = c.store.BatchCommit(removals, upserts)
	}

	for _, path := range removals {
		if id, ok := c.FindEntryByPath(path); ok {
			c.RemoveEntry(id)
		}
	}
	for _, rec := range upserts {
		// Replaced files are not in newState and so already in removals.
		if _, err := c.insertRecord(rec); err != nil {
			l.Debugf("Not caching %s: %v", rec.Path, err)
		}
	}
	metricEntries.Set(float64(c.Len()))

	l.Debugf("Diff: %d added, %d updated, %d removed, %d unchanged", stats.Added, stats.Updated, stats.Removed, stats.Unchanged)
	return stats, err
}

// UpdateTree records every file below dir, as needed after a directory was
// moved into place. With a store the records are committed in one
// transaction. It returns the number of files recorded.
func (c *Cache) UpdateTree(ctx context.Context, dir string, ign Ignorer) (int, error) {
	recs := c.ScanDirCollect(ctx, dir, ign)
	if len(recs) == 0 {
		return 0, nil
	}
	upserts := make([]meta.Record, 0, len(recs))
	var removals []string
	for _, rec := range recs {
		replaced, err := c.insertRecord(rec)
		removals = append(removals, replaced...)
		if err != nil {
			l.Debugf("Not caching %s: %v", rec.Path, err)
			continue
		}
		upserts = append(upserts, rec)
	}
	if c.store != nil && len(upserts)+len(removals) > 0 {
		sort.Strings(removals)
		if err := c.store.BatchCommit(removals, upserts); err != nil {
			return len(upserts), err
		}
	}
	return len(upserts), nil
}
