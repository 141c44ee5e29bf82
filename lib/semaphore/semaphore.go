// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package semaphore provides a counting semaphore used to bound the number
// of concurrent scan workers.
package semaphore

import "sync"

type Semaphore struct {
	max       int
	available int
	mut       sync.Mutex
}

func New(max int) *Semaphore {
	if max < 0 {
		max = 0
	}
	return &Semaphore{
		max:       max,
		available: max,
	}
}

// TryTake takes size units if they are available right now and reports
// whether it did. Callers that get false do the work themselves instead of
// waiting.
func (s *Semaphore) TryTake(size int) bool {
	s.mut.Lock()
	defer s.mut.Unlock()
	if size > s.max {
		size = s.max
	}
	if size > s.available {
		return false
	}
	s.available -= size
	return true
}

func (s *Semaphore) Give(size int) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if size > s.max {
		size = s.max
	}
	if s.available+size > s.max {
		s.available = s.max
	} else {
		s.available += size
	}
}
