// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package dispatch routes debounced filesystem events to the path tree
// cache and the move correlator.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/linkfield/linkfield/lib/fswatcher"
	"github.com/linkfield/linkfield/lib/meta"
	"github.com/linkfield/linkfield/lib/movedetect"
	"github.com/linkfield/linkfield/lib/pathtree"
	"github.com/linkfield/linkfield/lib/svcutil"
)

const DefaultRecentlyMovedSize = 1024

// EventSource delivers batches of filesystem events until ctx is done.
type EventSource interface {
	Watch(ctx context.Context) (<-chan fswatcher.Batch, error)
}

// Cache is the part of the path tree cache the dispatcher keeps current.
type Cache interface {
	Get(path string) (meta.Record, bool)
	UpdateFile(path string) error
	UpdateTree(ctx context.Context, dir string, ign pathtree.Ignorer) (int, error)
	RemoveFile(path string) error
}

// Getter looks up persisted records for paths no longer in memory.
type Getter interface {
	Get(path string) (meta.Record, bool, error)
}

type Options struct {
	// The database file or directory. Modify events for it are swallowed.
	DBPath string
	// Capacity of the recently moved set.
	RecentlyMovedSize int
	// Fallback for snapshots of removed files that are not resident.
	Store  Getter
	Ignore pathtree.Ignorer
}

// Dispatcher is a suture service consuming one event source.
type Dispatcher struct {
	source EventSource
	cache  Cache
	corr   *movedetect.Correlator
	store  Getter
	ignore pathtree.Ignorer
	dbName string

	// Destinations of detected moves and renames. The modify event that
	// follows a move is expected and not worth logging.
	recentlyMoved *lru.Cache[string, struct{}]

	ready     chan struct{}
	readyOnce sync.Once
	warnings  rate.Sometimes
}

func New(source EventSource, cache Cache, corr *movedetect.Correlator, opts Options) *Dispatcher {
	size := opts.RecentlyMovedSize
	if size <= 0 {
		size = DefaultRecentlyMovedSize
	}
	recent, err := lru.New[string, struct{}](size)
	if err != nil {
		panic(err)
	}
	d := &Dispatcher{
		source:        source,
		cache:         cache,
		corr:          corr,
		store:         opts.Store,
		ignore:        opts.Ignore,
		recentlyMoved: recent,
		ready:         make(chan struct{}),
		warnings:      rate.Sometimes{First: 5, Interval: time.Minute},
	}
	if opts.DBPath != "" {
		d.dbName = filepath.Base(opts.DBPath)
	}
	return d
}

func (d *Dispatcher) String() string {
	return fmt.Sprintf("dispatch.Dispatcher@%p", d)
}

// Ready is closed once the event source is set up for the first time.
func (d *Dispatcher) Ready() <-chan struct{} {
	return d.ready
}

func (d *Dispatcher) Serve(ctx context.Context) error {
	batches, err := d.source.Watch(ctx)
	if err != nil {
		if fswatcher.IsWatchesLimitTooLow(err) {
			// Retrying will not help and there is nothing to do without
			// notifications.
			return svcutil.AsFatalErr(err, svcutil.ExitError)
		}
		return fmt.Errorf("starting watcher: %w", err)
	}
	d.readyOnce.Do(func() {
		close(d.ready)
	})
	l.Verboseln("Watcher ready")

	for {
		select {
		case batch, ok := <-batches:
			if !ok {
				return ctx.Err()
			}
			for _, ev := range batch {
				d.handle(ctx, ev)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev fswatcher.Event) {
	if len(ev.Paths) == 0 {
		return
	}

	if ev.Kind == fswatcher.Rename && len(ev.Paths) == 2 {
		fromIgnored, toIgnored := d.isIgnored(ev.Paths[0]), d.isIgnored(ev.Paths[1])
		switch {
		case fromIgnored && toIgnored:
			metricIgnored.Inc()
			return
		case toIgnored:
			// Renamed into something ignored, the old path is gone.
			metricEvents.WithLabelValues(kindRemove).Inc()
			d.removed(ev.Paths[0])
			return
		case fromIgnored:
			metricEvents.WithLabelValues(kindCreate).Inc()
			d.created(ctx, ev.Paths[1])
			return
		}
		d.renamed(ctx, ev.Paths[0], ev.Paths[1])
		return
	}

	for _, p := range ev.Paths {
		if d.isIgnored(p) {
			metricIgnored.Inc()
			l.Debugln("Ignoring", ev)
			return
		}
	}

	switch ev.Kind {
	case fswatcher.Remove:
		metricEvents.WithLabelValues(kindRemove).Inc()
		d.removed(ev.Paths[0])

	case fswatcher.Create:
		metricEvents.WithLabelValues(kindCreate).Inc()
		d.created(ctx, ev.Paths[0])

	case fswatcher.Rename:
		metricEvents.WithLabelValues(kindRename).Inc()
		if len(ev.Paths) != 1 {
			l.Infoln("Rename/Move event with unexpected paths:", ev.Paths)
			return
		}
		path := ev.Paths[0]
		l.Infoln("Rename/Move event (single path):", path)
		if _, err := os.Lstat(path); err == nil {
			d.created(ctx, path)
		} else {
			d.removed(path)
		}

	default:
		metricEvents.WithLabelValues(kindModify).Inc()
		d.modified(ev)
	}
}

func (d *Dispatcher) isIgnored(path string) bool {
	return d.ignore != nil && d.ignore.IsIgnored(path)
}

func (d *Dispatcher) removed(path string) {
	rec := d.snapshot(path)
	d.corr.AddRemove(d.corr.NewEvent(path, movedetect.EventRemove, rec))
	if err := d.cache.RemoveFile(path); err != nil {
		d.warnf("Removing %s from the cache: %v", path, err)
	}
	l.Debugln("Remove", path)
}

func (d *Dispatcher) created(ctx context.Context, path string) {
	if err := d.cache.UpdateFile(path); err != nil {
		// Usually gone again before we got to it.
		l.Debugf("Updating %s: %v", path, err)
	}
	d.refreshTree(ctx, path)

	var recp *meta.Record
	if rec, ok := d.cache.Get(path); ok {
		recp = &rec
	}
	if cand := d.corr.PairCreate(d.corr.NewEvent(path, movedetect.EventCreate, recp)); cand != nil {
		metricMoves.Inc()
		l.Infof("Move detected: %s -> %s (score %.2f)", cand.From.Path, cand.To.Path, cand.Score)
		d.recentlyMoved.Add(cand.To.Path, struct{}{})
		return
	}
	l.Infoln("Create", path)
}

func (d *Dispatcher) renamed(ctx context.Context, from, to string) {
	label, kind := "Rename", kindRename
	if filepath.Dir(from) != filepath.Dir(to) {
		label, kind = "Move", kindMove
	}
	metricEvents.WithLabelValues(kind).Inc()
	l.Infof("%s: %s -> %s", label, from, to)

	if err := d.cache.RemoveFile(from); err != nil {
		d.warnf("Removing %s from the cache: %v", from, err)
	}
	if err := d.cache.UpdateFile(to); err != nil {
		l.Debugf("Updating %s: %v", to, err)
	}
	d.refreshTree(ctx, to)
	d.recentlyMoved.Add(to, struct{}{})
}

func (d *Dispatcher) modified(ev fswatcher.Event) {
	for _, p := range ev.Paths {
		if d.swallow(p) {
			metricSwallowed.Inc()
			return
		}
	}
	for _, p := range ev.Paths {
		if err := d.cache.UpdateFile(p); err != nil {
			l.Debugf("Updating %s: %v", p, err)
		}
	}
	l.Infoln("Event", ev)
}

// swallow reports whether a modify event for path is expected noise: our
// own database, a directory, or the tail of a move. A recently moved path
// is swallowed once.
func (d *Dispatcher) swallow(path string) bool {
	if d.dbName != "" && filepath.Base(path) == d.dbName {
		return true
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return true
	}
	return d.recentlyMoved.Remove(path)
}

// refreshTree records the contents of a directory that appeared in one
// piece, as no events are delivered for what it already contains.
func (d *Dispatcher) refreshTree(ctx context.Context, path string) {
	fi, err := os.Stat(path)
	if err != nil || !fi.IsDir() {
		return
	}
	n, err := d.cache.UpdateTree(ctx, path, d.ignore)
	if err != nil {
		d.warnf("Recording contents of %s: %v", path, err)
		return
	}
	if n > 0 {
		l.Debugf("Recorded %d files below %s", n, path)
	}
}

func (d *Dispatcher) snapshot(path string) *meta.Record {
	if rec, ok := d.cache.Get(path); ok {
		return &rec
	}
	if d.store == nil {
		return nil
	}
	rec, ok, err := d.store.Get(path)
	if err != nil {
		d.warnf("Looking up %s: %v", path, err)
		return nil
	}
	if !ok {
		return nil
	}
	return &rec
}

func (d *Dispatcher) warnf(format string, vals ...interface{}) {
	logged := false
	d.warnings.Do(func() {
		l.Warnf(format, vals...)
		logged = true
	})
	if !logged {
		l.Debugf(format, vals...)
	}
}
