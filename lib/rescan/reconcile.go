// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package rescan

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/linkfield/linkfield/lib/meta"
	"github.com/linkfield/linkfield/lib/pathtree"
)

type Store interface {
	LoadAll() (map[string]meta.Record, error)
	BatchCommit(removals []string, upserts []meta.Record) error
}

// Reconciler makes the store agree with the in memory cache. Write-through
// failures are logged and abandoned, so without it the store may drift
// until the next full scan. It must only run while the cache is fully
// resident.
type Reconciler struct {
	cache    *pathtree.Cache
	store    Store
	interval time.Duration
}

func NewReconciler(cache *pathtree.Cache, store Store, interval time.Duration) *Reconciler {
	return &Reconciler{
		cache:    cache,
		store:    store,
		interval: interval,
	}
}

func (r *Reconciler) String() string {
	return fmt.Sprintf("rescan.Reconciler@%p", r)
}

func (r *Reconciler) Serve(ctx context.Context) error {
	return every(ctx, r.interval, func(context.Context) {
		if _, err := r.Reconcile(); err != nil {
			l.Warnln("Reconciling store:", err)
		}
	})
}

type ReconcileResult struct {
	Rewritten int
	Deleted   int
}

// Reconcile rewrites store records that are missing or differ from memory
// and deletes those memory does not have, in one transaction. Records
// outside the cache root are left alone. Changes made through the cache
// while the plan is computed are left to their own write-through.
func (r *Reconciler) Reconcile() (ReconcileResult, error) {
	// Load the store before taking the snapshot. A file written through in
	// between is then at worst rewritten, never deleted.
	stored, err := r.store.LoadAll()
	if err != nil {
		return ReconcileResult{}, err
	}
	mem := r.cache.Snapshot()

	var upserts []meta.Record
	for path, rec := range mem {
		if prev, ok := stored[path]; !ok || !prev.Equal(rec) {
			upserts = append(upserts, rec)
		}
	}
	var removals []string
	root := r.cache.Root()
	for path := range stored {
		if _, ok := mem[path]; !ok && below(path, root) {
			removals = append(removals, path)
		}
	}

	upserts, removals = r.stillCurrent(upserts, removals)

	res := ReconcileResult{Rewritten: len(upserts), Deleted: len(removals)}
	if res.Rewritten == 0 && res.Deleted == 0 {
		l.Debugln("Store agrees with the cache,", len(mem), "files")
		return res, nil
	}

	sort.Strings(removals)
	sort.Slice(upserts, func(a, b int) bool {
		return upserts[a].Path < upserts[b].Path
	})
	if err := r.store.BatchCommit(removals, upserts); err != nil {
		return ReconcileResult{}, err
	}
	metricReconciled.WithLabelValues(actionRewritten).Add(float64(res.Rewritten))
	metricReconciled.WithLabelValues(actionDeleted).Add(float64(res.Deleted))
	l.Infof("Reconciled store: %d records rewritten, %d deleted", res.Rewritten, res.Deleted)
	return res, nil
}

// stillCurrent drops planned upserts whose file has changed in the cache
// since the snapshot and planned removals for paths the cache has since
// gained. The remaining window up to the commit is closed by the next
// reconciliation.
func (r *Reconciler) stillCurrent(upserts []meta.Record, removals []string) ([]meta.Record, []string) {
	keptUpserts := upserts[:0]
	for _, rec := range upserts {
		if cur, ok := r.cache.Get(rec.Path); ok && cur.Equal(rec) {
			keptUpserts = append(keptUpserts, rec)
		} else {
			l.Debugln("Not rewriting", rec.Path, "changed since the snapshot")
		}
	}
	keptRemovals := removals[:0]
	for _, path := range removals {
		if _, ok := r.cache.Get(path); !ok {
			keptRemovals = append(keptRemovals, path)
		} else {
			l.Debugln("Not deleting", path, "added since the snapshot")
		}
	}
	return keptUpserts, keptRemovals
}

func below(path, root string) bool {
	sep := string(filepath.Separator)
	return path == root || strings.HasPrefix(path, strings.TrimSuffix(root, sep)+sep)
}
