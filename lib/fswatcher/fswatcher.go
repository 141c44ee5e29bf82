// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package fswatcher delivers debounced batches of filesystem events for a
// directory tree. Renames within the tree are reported as one event
// carrying both the old and the new path where the platform makes that
// possible.
package fswatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/syncthing/notify"
)

type EventKind int

const (
	Create EventKind = iota
	Remove
	Rename
	Modify
)

func (k EventKind) String() string {
	switch k {
	case Create:
		return "Create"
	case Remove:
		return "Remove"
	case Rename:
		return "Rename"
	case Modify:
		return "Modify"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one filesystem change. Rename events carry the old and the new
// path, or a single path when only one side of the rename was seen.
type Event struct {
	Kind  EventKind
	Paths []string
}

func (e Event) String() string {
	return fmt.Sprintf("%v %s", e.Kind, strings.Join(e.Paths, " -> "))
}

// Batch is the set of events collected during one debounce interval, in
// arrival order.
type Batch []Event

const (
	DefaultDebounce = 500 * time.Millisecond

	// Size of the channel between notify and the batching loop. notify
	// drops events when it is full.
	maxFiles = 512
)

// Watcher watches a directory tree. The zero value is not usable; use New.
type Watcher struct {
	root     string
	debounce time.Duration

	// Replaced in tests.
	watch func(path string, c chan<- notify.EventInfo, events ...notify.Event) error
	stop  func(c chan<- notify.EventInfo)
	exist func(path string) bool
}

func New(root string, debounce time.Duration) *Watcher {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		root:     filepath.Clean(root),
		debounce: debounce,
		watch:    notify.Watch,
		stop:     notify.Stop,
		exist: func(path string) bool {
			_, err := os.Lstat(path)
			return err == nil
		},
	}
}

func (w *Watcher) Root() string {
	return w.root
}

// Watch sets up recursive notifications for the root and returns the
// channel on which batches are delivered. Setup errors are returned
// directly. The channel is closed after ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) (<-chan Batch, error) {
	c := make(chan notify.EventInfo, maxFiles)
	if err := w.watch(filepath.Join(w.root, "..."), c, notify.All); err != nil {
		w.stop(c)
		return nil, interpretNotifyWatchError(err, w.root)
	}
	l.Debugf("Setup filesystem notification for %s", w.root)

	out := make(chan Batch)
	go w.loop(ctx, c, out)
	return out, nil
}

func (w *Watcher) loop(ctx context.Context, c chan notify.EventInfo, out chan<- Batch) {
	defer close(out)
	defer w.stop(c)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	b := newBatcher(w.root, w.exist)
	for {
		select {
		case ev := <-c:
			if b.empty() {
				timer.Reset(w.debounce)
			}
			b.add(ev)

		case <-timer.C:
			batch := b.flush()
			if len(batch) == 0 {
				continue
			}
			l.Debugf("Notifying about %d fs events", len(batch))
			metricBatches.Inc()
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// batcher collects events for one debounce interval.
type batcher struct {
	root  string
	exist func(string) bool

	events []Event
	// Index of the last event per path, for deduplication.
	last map[string]int
	// Renames waiting for their destination, by inotify cookie.
	movedFrom map[uint32]int
	// Index of a rename without cookie whose source no longer exists.
	pendingFrom int
}

func newBatcher(root string, exist func(string) bool) *batcher {
	b := &batcher{root: root, exist: exist}
	b.reset()
	return b
}

func (b *batcher) reset() {
	b.events = nil
	b.last = make(map[string]int)
	b.movedFrom = make(map[uint32]int)
	b.pendingFrom = -1
}

func (b *batcher) empty() bool {
	return len(b.events) == 0
}

func (b *batcher) flush() Batch {
	res := Batch(b.events)
	b.reset()
	return res
}

func (b *batcher) add(ei notify.EventInfo) {
	path := filepath.Clean(ei.Path())
	if !isSubpath(path, b.root) || path == b.root {
		l.Debugln("Dropping event outside the watched tree:", path)
		return
	}

	if cookie, side, ok := renameCookie(ei); ok {
		metricEvents.WithLabelValues(Rename.String()).Inc()
		switch side {
		case sideFrom:
			b.movedFrom[cookie] = b.append(Event{Kind: Rename, Paths: []string{path}})
			return
		case sideTo:
			if idx, ok := b.movedFrom[cookie]; ok {
				delete(b.movedFrom, cookie)
				b.events[idx].Paths = append(b.events[idx].Paths, path)
				b.last[path] = idx
				return
			}
			// Moved in from outside the tree.
			b.append(Event{Kind: Create, Paths: []string{path}})
			return
		}
	}

	var kind EventKind
	switch {
	case ei.Event()&notify.Rename != 0:
		kind = Rename
	case ei.Event()&notify.Create != 0:
		kind = Create
	case ei.Event()&notify.Remove != 0:
		kind = Remove
	default:
		kind = Modify
	}
	metricEvents.WithLabelValues(kind.String()).Inc()

	if kind == Rename {
		b.addUnpairedRename(path)
		return
	}

	if idx, ok := b.last[path]; ok {
		prev := b.events[idx]
		if len(prev.Paths) == 1 && (prev.Kind == kind || kind == Modify && prev.Kind == Create) {
			return
		}
	}
	b.append(Event{Kind: kind, Paths: []string{path}})
}

// addUnpairedRename pairs renames on platforms that report both sides of a
// rename without linking them: the side that no longer exists is the
// source, and a following rename of an existing path is its destination.
func (b *batcher) addUnpairedRename(path string) {
	if !b.exist(path) {
		b.pendingFrom = b.append(Event{Kind: Rename, Paths: []string{path}})
		return
	}
	if b.pendingFrom >= 0 {
		idx := b.pendingFrom
		b.pendingFrom = -1
		b.events[idx].Paths = append(b.events[idx].Paths, path)
		b.last[path] = idx
		return
	}
	b.append(Event{Kind: Rename, Paths: []string{path}})
}

func (b *batcher) append(ev Event) int {
	idx := len(b.events)
	b.events = append(b.events, ev)
	for _, p := range ev.Paths {
		b.last[p] = idx
	}
	return idx
}

type renameSide int

const (
	sideFrom renameSide = iota + 1
	sideTo
)

// isSubpath reports whether path is folderPath or below it.
func isSubpath(path string, folderPath string) bool {
	if len(path) > 1 && os.IsPathSeparator(path[len(path)-1]) {
		path = path[0 : len(path)-1]
	}
	if len(folderPath) > 1 && os.IsPathSeparator(folderPath[len(folderPath)-1]) {
		folderPath = folderPath[0 : len(folderPath)-1]
	}
	if path == folderPath {
		return true
	}
	if len(folderPath) == 1 && os.IsPathSeparator(folderPath[0]) {
		return strings.HasPrefix(path, folderPath)
	}
	return strings.HasPrefix(path, folderPath+string(filepath.Separator))
}

var errWatchesLimit = errors.New("too few inotify watches")

// WatchesLimitTooLowError is returned when the OS refuses to add more
// watches.
func WatchesLimitTooLowError(folder string) error {
	return fmt.Errorf("failed to install inotify handler for %s: please increase inotify limits (fs.inotify.max_user_watches): %w", folder, errWatchesLimit)
}

// IsWatchesLimitTooLow reports whether err is a WatchesLimitTooLowError.
func IsWatchesLimitTooLow(err error) bool {
	return errors.Is(err, errWatchesLimit)
}
