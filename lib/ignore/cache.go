// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package ignore

import "time"

type nower interface {
	Now() time.Time
}

var clock = nower(defaultClock{})

// cache remembers match results per path. It is guarded by the matcher's
// mutex.
type cache struct {
	entries map[string]cacheEntry
}

type cacheEntry struct {
	result bool
	access int64 // Unix nanosecond count. Sufficient until the year 2262.
}

func newCache() *cache {
	return &cache{
		entries: make(map[string]cacheEntry),
	}
}

// clean drops entries that have not been used for d.
func (c *cache) clean(d time.Duration) {
	now := clock.Now()
	for k, v := range c.entries {
		if now.Sub(time.Unix(0, v.access)) > d {
			delete(c.entries, k)
		}
	}
}

func (c *cache) get(key string) (bool, bool) {
	entry, ok := c.entries[key]
	if ok {
		entry.access = clock.Now().UnixNano()
		c.entries[key] = entry
	}
	return entry.result, ok
}

func (c *cache) set(key string, result bool) {
	c.entries[key] = cacheEntry{result, clock.Now().UnixNano()}
}

func (c *cache) len() int {
	return len(c.entries)
}

type defaultClock struct{}

func (defaultClock) Now() time.Time {
	return time.Now()
}
