// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package ignore implements the ignore predicate used by scans and the
// event dispatcher. Patterns are read from an ignore file in the watched
// directory, one glob per line, and are tried in order; the first pattern
// that matches decides.
//
//	*.tmp          any file or directory called *.tmp, at any depth
//	/build         build in the root only
//	**/cache/      any directory called cache, and everything below it
//	!keep.tmp      never ignore keep.tmp
//	(?i)thumbs.db  case insensitive
//	#include other include patterns from another file
//	// comment
package ignore

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// DefaultFile is the name of the ignore file in the watched directory.
const DefaultFile = ".linkfieldignore"

type Pattern struct {
	pattern  string
	match    glob.Glob
	include  bool
	foldCase bool
	dirOnly  bool
}

func (p Pattern) String() string {
	ret := p.pattern
	if !p.include {
		ret = "!" + ret
	}
	if p.foldCase {
		ret = "(?i)" + ret
	}
	if p.dirOnly {
		ret += "/"
	}
	return ret
}

// Matcher decides whether paths below a root directory are ignored. The
// zero patterns matcher ignores nothing. A nil *Matcher is valid and
// ignores nothing.
type Matcher struct {
	root      string
	excluded  []string
	patterns  []Pattern
	lines     []string
	withCache bool
	matches   *cache
	curHash   string
	stop      chan struct{}
	stopOnce  sync.Once
	mut       sync.Mutex
}

// New returns a matcher for paths below root. With a cache, results are
// remembered until unused for two hours; call Stop to end the cleaner.
func New(root string, withCache bool) *Matcher {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	m := &Matcher{
		root:      filepath.Clean(root),
		withCache: withCache,
		stop:      make(chan struct{}),
	}
	if withCache {
		go m.clean(2 * time.Hour)
	}
	return m
}

// Load reads patterns from file. A missing or broken file leaves the
// matcher without patterns and returns the error.
func (m *Matcher) Load(file string) error {
	// No locking, Parse() does the locking

	fd, err := os.Open(file)
	if err != nil {
		// We do a parse with empty patterns to clear out the hash, cache etc.
		m.Parse(&bytes.Buffer{}, file)
		return err
	}
	defer fd.Close()

	return m.Parse(fd, file)
}

func (m *Matcher) Parse(r io.Reader, file string) error {
	m.mut.Lock()
	defer m.mut.Unlock()

	seen := map[string]bool{file: true}
	lines, patterns, err := parseIgnoreFile(r, file, seen)
	if err != nil {
		// Nothing is ignored rather than something arbitrary.
		lines, patterns = nil, nil
	}

	newHash := hashPatterns(patterns)
	if newHash == m.curHash {
		// We've already loaded exactly these patterns.
		return err
	}

	m.curHash = newHash
	m.patterns = patterns
	m.lines = lines
	if m.withCache {
		m.matches = newCache()
	}
	metricPatterns.Set(float64(len(lines)))
	l.Debugf("Loaded %d ignore patterns from %s", len(lines), file)

	return err
}

// Exclude marks absolute paths, and everything below them, as always
// ignored regardless of patterns. It must be called before the matcher is
// shared.
func (m *Matcher) Exclude(paths ...string) {
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			m.excluded = append(m.excluded, filepath.Clean(abs))
		}
	}
}

// IsIgnored reports whether path is ignored. Absolute paths are taken
// relative to the root; paths outside the root are never ignored. The root
// itself is matched by its name.
func (m *Matcher) IsIgnored(path string) bool {
	if m == nil {
		return false
	}
	if len(m.excluded) > 0 {
		abs := path
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(m.root, abs)
		}
		abs = filepath.Clean(abs)
		for _, ex := range m.excluded {
			if abs == ex || strings.HasPrefix(abs, ex+string(filepath.Separator)) {
				return true
			}
		}
	}
	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(m.root, path)
		if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			return false
		}
		if r == "." {
			r = filepath.Base(m.root)
		}
		rel = r
	} else {
		path = filepath.Join(m.root, path)
	}
	return m.match(rel, func() bool {
		fi, err := os.Stat(path)
		return err == nil && fi.IsDir()
	})
}

// Match reports whether the relative path file is ignored. Patterns that
// only apply to directories never match here.
func (m *Matcher) Match(file string) bool {
	if m == nil {
		return false
	}
	return m.match(file, nil)
}

func (m *Matcher) match(file string, isDir func() bool) (result bool) {
	m.mut.Lock()
	defer m.mut.Unlock()

	if len(m.patterns) == 0 {
		return false
	}

	// Set once a directory-only pattern had to be consulted.
	dir := -1

	if m.matches != nil {
		// Check the cache for a known result.
		key := file
		res, ok := m.matches.get(key)
		if ok {
			metricMatches.WithLabelValues(cacheHit).Inc()
			return res
		}

		// Update the cache with the result at return time, unless it
		// depends on whether the path is a directory.
		defer func() {
			if dir < 0 {
				m.matches.set(key, result)
			}
		}()
	}
	metricMatches.WithLabelValues(cacheMiss).Inc()

	// Check all the patterns for a match.
	file = filepath.ToSlash(file)
	var lowercaseFile string
	for _, pattern := range m.patterns {
		if pattern.dirOnly {
			if dir < 0 {
				dir = 0
				if isDir != nil && isDir() {
					dir = 1
				}
			}
			if dir == 0 {
				continue
			}
		}
		if pattern.foldCase {
			if lowercaseFile == "" {
				lowercaseFile = strings.ToLower(file)
			}
			if pattern.match.Match(lowercaseFile) {
				return pattern.include
			}
		} else if pattern.match.Match(file) {
			return pattern.include
		}
	}

	return false
}

// Lines returns the pattern lines as read from the ignore files, for
// logging.
func (m *Matcher) Lines() []string {
	if m == nil {
		return nil
	}

	m.mut.Lock()
	defer m.mut.Unlock()
	return append([]string(nil), m.lines...)
}

func (m *Matcher) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}

func (m *Matcher) clean(d time.Duration) {
	t := time.NewTimer(d / 2)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.mut.Lock()
			if m.matches != nil {
				m.matches.clean(d)
			}
			t.Reset(d / 2)
			m.mut.Unlock()
		}
	}
}

func hashPatterns(patterns []Pattern) string {
	h := sha256.New()
	for _, pat := range patterns {
		h.Write([]byte(pat.String()))
		h.Write([]byte("\n"))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func loadIgnoreFile(file string, seen map[string]bool) ([]string, []Pattern, error) {
	if seen[file] {
		return nil, nil, fmt.Errorf("multiple include of ignore file %q", file)
	}
	seen[file] = true

	fd, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}
	defer fd.Close()

	return parseIgnoreFile(fd, file, seen)
}

func parseIgnoreFile(fd io.Reader, currentFile string, seen map[string]bool) ([]string, []Pattern, error) {
	var lines []string
	var patterns []Pattern

	addPattern := func(line string, dirOnly bool) error {
		pattern := Pattern{
			pattern:  line,
			include:  true,
			foldCase: runtime.GOOS == "darwin" || runtime.GOOS == "windows",
			dirOnly:  dirOnly,
		}

		if strings.HasPrefix(line, "!") {
			line = line[1:]
			pattern.include = false
		}

		if strings.HasPrefix(line, "(?i)") {
			line = strings.ToLower(line[4:])
			pattern.foldCase = true
		}

		compile := func(expr string) error {
			var err error
			pattern.match, err = glob.Compile(expr, '/')
			if err != nil {
				return fmt.Errorf("invalid pattern %q in ignore file", line)
			}
			patterns = append(patterns, pattern)
			return nil
		}

		switch {
		case strings.HasPrefix(line, "/"):
			// Pattern is rooted in the watched directory only
			return compile(line[1:])
		case strings.HasPrefix(line, "**/"):
			// As is, and without **/ so that it also matches at the root
			if err := compile(line); err != nil {
				return err
			}
			return compile(line[3:])
		case strings.HasPrefix(line, "#include "):
			if !pattern.include {
				return fmt.Errorf("invalid negated include %q in ignore file", line)
			}
			includeRel := line[len("#include "):]
			includeFile := filepath.Join(filepath.Dir(currentFile), includeRel)
			incLines, includes, err := loadIgnoreFile(includeFile, seen)
			if err != nil {
				return fmt.Errorf("include of %q: %w", includeRel, err)
			}
			lines = append(lines, incLines...)
			patterns = append(patterns, includes...)
			return nil
		default:
			// Path name or pattern, add it so it matches files both in
			// the root and in subdirectories.
			if err := compile(line); err != nil {
				return err
			}
			return compile("**/" + line)
		}
	}

	scanner := bufio.NewScanner(fd)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "//"):
			continue
		}

		line = filepath.ToSlash(line)
		if !strings.HasPrefix(line, "#include ") && !strings.HasPrefix(line, "!#include ") {
			lines = append(lines, line)
		}

		var err error
		switch {
		case strings.HasPrefix(line, "#"), strings.HasPrefix(line, "!#"):
			err = addPattern(line, false)
		case strings.HasSuffix(line, "/**"):
			err = addPattern(line, false)
		case strings.HasSuffix(line, "/"):
			// The directory itself, and everything below it
			err = addPattern(strings.TrimSuffix(line, "/"), true)
			if err == nil {
				err = addPattern(line+"**", false)
			}
		default:
			err = addPattern(line, false)
			if err == nil {
				err = addPattern(line+"/**", false)
			}
		}
		if err != nil {
			return nil, nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}

	return lines, patterns, nil
}
