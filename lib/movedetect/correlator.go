// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package movedetect pairs remove events with later create events that look
// like the same file, so that a delete followed by a create can be reported
// as a move. The pairing is a cheap heuristic on metadata and names; no file
// contents are read.
package movedetect

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/linkfield/linkfield/lib/meta"
)

const (
	// DefaultMaxAge is how long a remove stays eligible for pairing.
	DefaultMaxAge = 5 * time.Second

	// Threshold is the score a pair must exceed to count as a move.
	Threshold = 0.5

	scoreSizeExact = 0.7
	scoreSizeNear  = 0.4
	scoreExtension = 0.2
	scoreNameExact = 0.2
	scoreNamePart  = 0.1
	scoreMtime     = 0.1

	sizeNearBytes = 16
	mtimeWindow   = 2 * time.Second
)

type EventKind int

const (
	EventRemove EventKind = iota
	EventCreate
)

func (k EventKind) String() string {
	switch k {
	case EventRemove:
		return "remove"
	case EventCreate:
		return "create"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// FileEvent is a remove or create as seen by the correlator. Meta is nil
// when no metadata was known for the path.
type FileEvent struct {
	Path string
	Kind EventKind
	Meta *meta.Record
	Time time.Time
}

// MoveCandidate is a remove paired with a create.
type MoveCandidate struct {
	From  FileEvent
	To    FileEvent
	Score float64
}

func (c MoveCandidate) String() string {
	return fmt.Sprintf("%s -> %s (score %.2f)", c.From.Path, c.To.Path, c.Score)
}

type nower interface {
	Now() time.Time
}

type defaultClock struct{}

func (defaultClock) Now() time.Time { return time.Now() }

// Correlator buffers remove events and pairs creates against them. It is
// safe for concurrent use.
type Correlator struct {
	maxAge time.Duration
	clock  nower

	mut     sync.Mutex
	removes []FileEvent
}

func New(maxAge time.Duration) *Correlator {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Correlator{
		maxAge: maxAge,
		clock:  defaultClock{},
	}
}

// NewEvent returns an event of the given kind for path, stamped with the
// current time of the correlator's clock.
func (c *Correlator) NewEvent(path string, kind EventKind, rec *meta.Record) FileEvent {
	return FileEvent{Path: path, Kind: kind, Meta: rec, Time: c.clock.Now()}
}

// AddRemove buffers a remove event.
func (c *Correlator) AddRemove(ev FileEvent) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.removes = append(c.removes, ev)
	metricRemovesBuffered.Inc()
	c.pruneLocked()
}

// PairCreate scores the create against every buffered remove and returns
// the best pair scoring above the threshold, or nil. The paired remove is
// consumed and cannot be paired again. Ties go to the remove buffered
// first.
func (c *Correlator) PairCreate(ev FileEvent) *MoveCandidate {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.pruneLocked()

	best := -1
	var bestScore float64
	for i, rm := range c.removes {
		score := ScorePair(rm, ev)
		l.Debugf("Score for remove %s / create %s: %.2f", rm.Path, ev.Path, score)
		if score > Threshold && (best < 0 || score > bestScore) {
			best = i
			bestScore = score
		}
	}
	if best < 0 {
		return nil
	}

	cand := &MoveCandidate{From: c.removes[best], To: ev, Score: bestScore}
	c.removes = append(c.removes[:best], c.removes[best+1:]...)
	metricMovesPaired.Inc()
	metricPending.Set(float64(len(c.removes)))
	return cand
}

// Pending returns the number of buffered removes that have not expired.
func (c *Correlator) Pending() int {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.pruneLocked()
	return len(c.removes)
}

// pruneLocked drops removes older than maxAge. The buffer is in arrival
// order, but times may come from callers, so every entry is checked.
func (c *Correlator) pruneLocked() {
	now := c.clock.Now()
	kept := c.removes[:0]
	for _, rm := range c.removes {
		if now.Sub(rm.Time) < c.maxAge {
			kept = append(kept, rm)
			continue
		}
		l.Debugln("Expired unpaired remove", rm.Path)
		metricRemovesExpired.Inc()
	}
	// Clear the tail so that dropped records can be collected.
	for i := len(kept); i < len(c.removes); i++ {
		c.removes[i] = FileEvent{}
	}
	c.removes = kept
	metricPending.Set(float64(len(c.removes)))
}

// ScorePair returns how likely it is that create is remove moved
// elsewhere, between 0 and 1.
func ScorePair(remove, create FileEvent) float64 {
	var score float64

	if remove.Meta != nil && create.Meta != nil {
		rs, cs := remove.Meta.Size, create.Meta.Size
		switch {
		case rs == cs && rs > 0:
			score += scoreSizeExact
		case absDiff(rs, cs) < sizeNearBytes:
			score += scoreSizeNear
		}
	}

	if sameExtension(remove.Path, create.Path) {
		score += scoreExtension
	}

	rn, cn := filepath.Base(remove.Path), filepath.Base(create.Path)
	switch {
	case rn == cn:
		score += scoreNameExact
	case strings.HasPrefix(rn, cn) || strings.HasPrefix(cn, rn):
		score += scoreNamePart
	}

	if remove.Meta != nil && create.Meta != nil && remove.Meta.ModifiedWithin(*create.Meta, mtimeWindow) {
		score += scoreMtime
	}

	return min(score, 1.0)
}

// sameExtension compares the extensions of two paths. Two paths without an
// extension match.
func sameExtension(a, b string) bool {
	ea, eb := meta.Extension(a), meta.Extension(b)
	if ea == nil || eb == nil {
		return ea == nil && eb == nil
	}
	return *ea == *eb
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
