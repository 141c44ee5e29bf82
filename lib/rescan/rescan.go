// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package rescan keeps the cache and the store honest between events: the
// Rescanner diffs periodic full scans into the cache, and the Reconciler
// repairs store records that drifted from memory.
package rescan

import (
	"context"
	"fmt"
	"time"

	"github.com/linkfield/linkfield/lib/pathtree"
)

// Rescanner periodically scans the cache root and applies the difference.
type Rescanner struct {
	cache    *pathtree.Cache
	ignore   pathtree.Ignorer
	interval time.Duration
}

func NewRescanner(cache *pathtree.Cache, ignore pathtree.Ignorer, interval time.Duration) *Rescanner {
	return &Rescanner{
		cache:    cache,
		ignore:   ignore,
		interval: interval,
	}
}

func (r *Rescanner) String() string {
	return fmt.Sprintf("rescan.Rescanner@%p", r)
}

func (r *Rescanner) Serve(ctx context.Context) error {
	return every(ctx, r.interval, func(ctx context.Context) {
		if _, err := r.Rescan(ctx); err != nil && ctx.Err() == nil {
			l.Warnln("Rescan:", err)
		}
	})
}

// Rescan runs one full scan and applies it. A cancelled scan is partial and
// is not applied.
func (r *Rescanner) Rescan(ctx context.Context) (pathtree.DiffStats, error) {
	t0 := time.Now()
	state := r.cache.ScanDirCollect(ctx, r.cache.Root(), r.ignore)
	if err := ctx.Err(); err != nil {
		return pathtree.DiffStats{}, err
	}

	stats, err := r.cache.DiffAndUpdate(state)
	if err != nil {
		return stats, err
	}
	metricRescans.Inc()
	metricRescanSeconds.Observe(time.Since(t0).Seconds())

	if stats.Changed() {
		l.Infof("Rescan of %s: %d added, %d updated, %d removed, %d unchanged (%v)", r.cache.Root(), stats.Added, stats.Updated, stats.Removed, stats.Unchanged, time.Since(t0).Truncate(time.Millisecond))
	} else {
		l.Debugf("Rescan of %s: no changes (%v)", r.cache.Root(), time.Since(t0))
	}
	return stats, nil
}

// every calls fn each interval until ctx is done. The interval counts from
// the end of the previous call.
func every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	t := time.NewTimer(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			fn(ctx)
			t.Reset(interval)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
