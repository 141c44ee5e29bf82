// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package movedetect

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/linkfield/linkfield/lib/meta"
)

type fakeClock struct {
	mut sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mut.Lock()
	defer f.mut.Unlock()
	return f.now
}

func (f *fakeClock) wind(d time.Duration) {
	f.mut.Lock()
	f.now = f.now.Add(d)
	f.mut.Unlock()
}

func newTestCorrelator(maxAge time.Duration) (*Correlator, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := New(maxAge)
	c.clock = clock
	return c, clock
}

func rec(path string, size uint64, mtime time.Time) *meta.Record {
	return &meta.Record{Path: path, Size: size, Modified: &mtime, Extension: meta.Extension(path)}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScorePair(t *testing.T) {
	t0 := time.Unix(1700000000, 0)

	cases := []struct {
		name           string
		remove, create FileEvent
		score          float64
	}{
		{
			"everything matches, clamped",
			FileEvent{Path: "/a/report.pdf", Meta: rec("/a/report.pdf", 100, t0)},
			FileEvent{Path: "/b/report.pdf", Meta: rec("/b/report.pdf", 100, t0.Add(time.Second))},
			1.0,
		},
		{
			"size and extension only",
			FileEvent{Path: "/a/x.txt", Meta: rec("/a/x.txt", 100, t0)},
			FileEvent{Path: "/a/y.txt", Meta: rec("/a/y.txt", 100, t0.Add(time.Hour))},
			0.9,
		},
		{
			"near size, prefix name",
			FileEvent{Path: "/a/notes.md", Meta: rec("/a/notes.md", 100, t0)},
			FileEvent{Path: "/a/notes.md.bak", Meta: rec("/a/notes.md.bak", 110, t0.Add(time.Hour))},
			0.5,
		},
		{
			"zero size is not an exact match",
			FileEvent{Path: "/a/e", Meta: rec("/a/e", 0, t0)},
			FileEvent{Path: "/b/f", Meta: rec("/b/f", 0, t0.Add(time.Hour))},
			0.6, // near size 0.4 + both without extension 0.2
		},
		{
			"no metadata",
			FileEvent{Path: "/a/same.go"},
			FileEvent{Path: "/b/same.go"},
			0.4,
		},
		{
			"mtime window is strict",
			FileEvent{Path: "/a/p.bin", Meta: rec("/a/p.bin", 1000, t0)},
			FileEvent{Path: "/b/q.dat", Meta: rec("/b/q.dat", 5000, t0.Add(2*time.Second))},
			0,
		},
		{
			"mtime within window",
			FileEvent{Path: "/a/p.bin", Meta: rec("/a/p.bin", 1000, t0)},
			FileEvent{Path: "/b/q.dat", Meta: rec("/b/q.dat", 5000, t0.Add(1999*time.Millisecond))},
			0.1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if s := ScorePair(tc.remove, tc.create); !approx(s, tc.score) {
				t.Errorf("score = %.3f, expected %.3f", s, tc.score)
			}
			if s := ScorePair(tc.create, tc.remove); !approx(s, tc.score) {
				t.Errorf("reversed score = %.3f, expected %.3f", s, tc.score)
			}
		})
	}
}

func TestPairCreateMove(t *testing.T) {
	c, clock := newTestCorrelator(5 * time.Second)
	t0 := clock.Now()

	c.AddRemove(c.NewEvent("/w/a.txt", EventRemove, rec("/w/a.txt", 100, t0)))
	clock.wind(100 * time.Millisecond)
	cand := c.PairCreate(c.NewEvent("/w/b/a.txt", EventCreate, rec("/w/b/a.txt", 100, t0)))
	if cand == nil {
		t.Fatal("expected a move")
	}
	if cand.From.Path != "/w/a.txt" || cand.To.Path != "/w/b/a.txt" || !approx(cand.Score, 1.0) {
		t.Errorf("unexpected candidate %v", cand)
	}
	if n := c.Pending(); n != 0 {
		t.Errorf("paired remove still pending, %d left", n)
	}

	// The remove was consumed.
	if cand := c.PairCreate(c.NewEvent("/w/c/a.txt", EventCreate, rec("/w/c/a.txt", 100, t0))); cand != nil {
		t.Errorf("remove paired twice: %v", cand)
	}
}

func TestPairCreateBest(t *testing.T) {
	c, clock := newTestCorrelator(5 * time.Second)
	t0 := clock.Now()

	c.AddRemove(c.NewEvent("/w/x.txt", EventRemove, rec("/w/x.txt", 100, t0.Add(time.Hour))))
	c.AddRemove(c.NewEvent("/w/doc.txt", EventRemove, rec("/w/doc.txt", 100, t0)))
	c.AddRemove(c.NewEvent("/w/y.bin", EventRemove, rec("/w/y.bin", 7, t0)))

	cand := c.PairCreate(c.NewEvent("/v/doc.txt", EventCreate, rec("/v/doc.txt", 100, t0)))
	if cand == nil || cand.From.Path != "/w/doc.txt" {
		t.Fatalf("expected /w/doc.txt to win, got %v", cand)
	}
	if n := c.Pending(); n != 2 {
		t.Errorf("Pending = %d, expected 2", n)
	}
}

func TestPairCreateBelowThreshold(t *testing.T) {
	c, clock := newTestCorrelator(5 * time.Second)
	t0 := clock.Now()

	// Near size and a prefix name reach exactly 0.5, which is not enough.
	c.AddRemove(c.NewEvent("/w/notes.md", EventRemove, rec("/w/notes.md", 100, t0)))
	cand := c.PairCreate(c.NewEvent("/w/notes.md.bak", EventCreate, rec("/w/notes.md.bak", 110, t0.Add(time.Hour))))
	if cand != nil {
		t.Errorf("unexpected pairing %v", cand)
	}
	if n := c.Pending(); n != 1 {
		t.Errorf("Pending = %d, expected the remove to stay buffered", n)
	}
}

func TestExpiry(t *testing.T) {
	c, clock := newTestCorrelator(5 * time.Second)
	t0 := clock.Now()

	c.AddRemove(c.NewEvent("/w/a.txt", EventRemove, rec("/w/a.txt", 100, t0)))
	clock.wind(4 * time.Second)
	c.AddRemove(c.NewEvent("/w/b.txt", EventRemove, rec("/w/b.txt", 200, t0)))
	if n := c.Pending(); n != 2 {
		t.Fatalf("Pending = %d, expected 2", n)
	}

	clock.wind(time.Second)
	if n := c.Pending(); n != 1 {
		t.Errorf("Pending = %d, expected the first remove to expire at max age", n)
	}
	if cand := c.PairCreate(c.NewEvent("/v/a.txt", EventCreate, rec("/v/a.txt", 100, t0))); cand != nil {
		t.Errorf("paired with an expired remove: %v", cand)
	}

	clock.wind(5 * time.Second)
	if n := c.Pending(); n != 0 {
		t.Errorf("Pending = %d, expected everything expired", n)
	}
}

func TestConcurrentUse(t *testing.T) {
	c := New(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.AddRemove(c.NewEvent("/w/f.txt", EventRemove, rec("/w/f.txt", 10, time.Now())))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.PairCreate(c.NewEvent("/v/f.txt", EventCreate, rec("/v/f.txt", 10, time.Now())))
			}
		}()
	}
	wg.Wait()
	if n := c.Pending(); n < 0 || n > 400 {
		t.Errorf("Pending = %d out of range", n)
	}
}
