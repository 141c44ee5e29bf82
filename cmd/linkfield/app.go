// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/thejerf/suture/v4"

	"github.com/linkfield/linkfield/lib/build"
	"github.com/linkfield/linkfield/lib/config"
	"github.com/linkfield/linkfield/lib/db"
	"github.com/linkfield/linkfield/lib/db/backend"
	"github.com/linkfield/linkfield/lib/dispatch"
	"github.com/linkfield/linkfield/lib/fswatcher"
	"github.com/linkfield/linkfield/lib/ignore"
	"github.com/linkfield/linkfield/lib/meta"
	"github.com/linkfield/linkfield/lib/movedetect"
	"github.com/linkfield/linkfield/lib/pathtree"
	"github.com/linkfield/linkfield/lib/rescan"
	"github.com/linkfield/linkfield/lib/svcutil"
)

// App scans a directory into the database and then keeps it current from
// filesystem notifications until stopped.
type App struct {
	cfg    config.Configuration
	dbPath string
	root   string

	// Replaced in tests.
	source dispatch.EventSource

	kv    backend.Backend
	table *db.Table
	ign   *ignore.Matcher
	cache *pathtree.Cache
	sup   *suture.Supervisor
	ready chan struct{}
}

func newApp(cfg config.Configuration, dbPath, root string) (*App, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	absDB, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, err
	}
	return &App{
		cfg:    cfg,
		dbPath: absDB,
		root:   absRoot,
		source: fswatcher.New(absRoot, cfg.Watch.Debounce),
		ready:  make(chan struct{}),
	}, nil
}

func (a *App) streaming() bool {
	return a.cfg.Scan.Mode == config.ScanModeStreaming
}

// Ready is closed once the initial scan is done and the watcher is up.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Run starts the app and blocks until ctx is cancelled or a service fails
// fatally. Cancellation is not an error.
func (a *App) Run(ctx context.Context) error {
	l.Infoln(build.LongVersion)
	l.Infof("Database %s (%s), watching %s", a.dbPath, a.cfg.Backend.Type, a.root)

	if err := a.openDatabase(); err != nil {
		return err
	}
	defer a.kv.Close()

	a.ign = ignore.New(a.root, true)
	defer a.ign.Stop()
	a.ign.Exclude(a.dbPath)
	ignFile := filepath.Join(a.root, a.cfg.Ignore.File)
	if err := a.ign.Load(ignFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.Warnf("Loading %s: %v", ignFile, err)
	}
	for _, line := range a.ign.Lines() {
		l.Infoln("Ignore pattern:", line)
	}

	a.cache = pathtree.New(a.root, pathtree.WithStore(a.table), pathtree.WithWorkers(a.cfg.Scan.Workers))
	if !a.streaming() {
		n, err := a.cache.LoadFromStore()
		if err != nil {
			l.Warnln("Loading file cache from the database:", err)
		}
		l.Infof("Loaded %d files from the database", n)
	}

	logRSS("Before initial scan")
	if err := a.initialScan(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	logRSS("After initial scan")

	a.sup = suture.New("main", svcutil.SpecWithDebugLogger(l))
	disp := dispatch.New(a.source, a.cache, movedetect.New(a.cfg.Watch.MaxAge), dispatch.Options{
		DBPath:            a.dbPath,
		RecentlyMovedSize: a.cfg.Watch.RecentlyMovedSize,
		Store:             a.table,
		Ignore:            a.ign,
	})
	a.sup.Add(disp)
	a.addPeriodicServices()
	if a.cfg.Metrics.Listen != "" {
		a.sup.Add(svcutil.AsService(func(ctx context.Context) error {
			return serveMetrics(ctx, a.cfg.Metrics.Listen)
		}, "metrics"))
	}

	errC := a.sup.ServeBackground(ctx)
	select {
	case <-disp.Ready():
	case err := <-errC:
		return mainServiceError(err)
	}

	n, total := a.summarize()
	l.Infof("Initial files cached: %d (total size: %s)", n, humanize.IBytes(total))
	close(a.ready)

	err := <-errC
	l.Infoln("Exiting")
	return mainServiceError(err)
}

func (a *App) openDatabase() error {
	kv, err := backend.Open(backend.Type(a.cfg.Backend.Type), a.dbPath, a.cfg.Backend.Options())
	if err != nil {
		return svcutil.AsFatalErr(fmt.Errorf("opening database: %w", err), svcutil.ExitError)
	}
	table := db.NewTable(kv)
	if err := table.EnsureTable(); err != nil {
		kv.Close()
		return svcutil.AsFatalErr(fmt.Errorf("creating file cache table: %w", err), svcutil.ExitError)
	}
	a.kv, a.table = kv, table
	l.Verboseln("File cache table ready")
	return nil
}

func (a *App) initialScan(ctx context.Context) error {
	t0 := time.Now()
	if a.streaming() {
		err := a.cache.ScanDirCollectWithIgnoreAndCommit(ctx, a.root, a.ign, a.cfg.Scan.BatchSize, func(batch int) {
			l.Verbosef("Committed batch %d", batch)
		})
		if err != nil {
			return err
		}
		l.Infof("Initial streaming scan of %s took %v", a.root, time.Since(t0).Truncate(time.Millisecond))
		return nil
	}

	state := a.cache.ScanDirCollect(ctx, a.root, a.ign)
	if err := ctx.Err(); err != nil {
		return err
	}
	stats, err := a.cache.DiffAndUpdate(state)
	if err != nil {
		// The cache is still updated; the store catches up on the next
		// reconciliation or rescan.
		l.Warnln("Committing initial scan:", err)
	}
	l.Infof("Initial scan of %s took %v: %d added, %d updated, %d removed, %d unchanged", a.root, time.Since(t0).Truncate(time.Millisecond), stats.Added, stats.Updated, stats.Removed, stats.Unchanged)
	return nil
}

// addPeriodicServices adds rescans and reconciliation when configured. Both
// compare against the resident cache, which streaming mode does not keep.
func (a *App) addPeriodicServices() {
	rescanIntv, reconcileIntv := a.cfg.Scan.RescanInterval, a.cfg.Store.ReconcileInterval
	if a.streaming() {
		if rescanIntv > 0 || reconcileIntv > 0 {
			l.Infoln("Periodic rescans and reconciliation are disabled in streaming mode")
		}
		return
	}
	if rescanIntv > 0 {
		a.sup.Add(rescan.NewRescanner(a.cache, a.ign, rescanIntv))
	}
	if reconcileIntv > 0 {
		a.sup.Add(rescan.NewReconciler(a.cache, a.table, reconcileIntv))
	}
}

// summarize returns the number and total size of cached files. In
// streaming mode the database is the only complete copy.
func (a *App) summarize() (int, uint64) {
	var n int
	var total uint64
	if !a.streaming() {
		for _, rec := range a.cache.AllFiles() {
			n++
			total += rec.Size
		}
		return n, total
	}
	err := a.table.Iterate(func(rec meta.Record) bool {
		n++
		total += rec.Size
		return true
	}, nil)
	if err != nil {
		l.Warnln("Summarizing database:", err)
	}
	return n, total
}

func mainServiceError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
