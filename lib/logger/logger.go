// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package logger implements a leveled, facility aware logger with callback
// functionality.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelVerbose
	LevelInfo
	LevelWarn
	NumLevels
)

var levelPrefix = [NumLevels]string{
	LevelDebug:   "DEBUG: ",
	LevelVerbose: "VERBOSE: ",
	LevelInfo:    "INFO: ",
	LevelWarn:    "WARNING: ",
}

func (l LogLevel) String() string {
	if l < 0 || l >= NumLevels {
		return fmt.Sprintf("LogLevel(%d)", int(l))
	}
	return strings.TrimSuffix(levelPrefix[l], ": ")
}

const (
	DefaultFlags = log.Ltime | log.Ldate
	DebugFlags   = log.Ltime | log.Ldate | log.Lmicroseconds | log.Lshortfile
)

// TraceEnv names the environment variable holding the facilities to debug,
// separated by commas, semicolons or spaces. "all" enables every facility.
const TraceEnv = "LFTRACE"

// A MessageHandler is called with the log level and message text.
type MessageHandler func(l LogLevel, msg string)

type Logger interface {
	AddHandler(level LogLevel, h MessageHandler)
	SetFlags(flag int)
	Debugln(vals ...interface{})
	Debugf(format string, vals ...interface{})
	Verboseln(vals ...interface{})
	Verbosef(format string, vals ...interface{})
	Infoln(vals ...interface{})
	Infof(format string, vals ...interface{})
	Warnln(vals ...interface{})
	Warnf(format string, vals ...interface{})
	ShouldDebug(facility string) bool
	SetDebug(facility string, enabled bool)
	Facilities() map[string]string
	FacilityDebugging() []string
	NewFacility(facility, description string) Logger
}

type logger struct {
	logger     *log.Logger
	handlers   [NumLevels][]MessageHandler
	facilities map[string]string   // facility name => description
	debug      map[string]struct{} // only facility names with debugging enabled
	traces     []string
	mut        sync.Mutex
}

// DefaultLogger logs to standard output with a time prefix.
var DefaultLogger = New()

func New() Logger {
	if os.Getenv("LOGGER_DISCARD") != "" {
		return NewWriter(io.Discard)
	}
	return NewWriter(controlStripper{os.Stdout})
}

// NewWriter returns a logger writing to w. Facilities listed in the trace
// environment variable start out with debugging enabled.
func NewWriter(w io.Writer) Logger {
	traces := strings.FieldsFunc(os.Getenv(TraceEnv), func(r rune) bool {
		return strings.ContainsRune(",; ", r)
	})

	if slices.Contains(traces, "all") {
		traces = []string{"all"}
	} else {
		slices.Sort(traces)
	}

	return &logger{
		logger:     log.New(w, "", DefaultFlags),
		traces:     traces,
		facilities: make(map[string]string),
		debug:      make(map[string]struct{}),
	}
}

// AddHandler registers a new MessageHandler to receive messages with the
// specified log level or above.
func (l *logger) AddHandler(level LogLevel, h MessageHandler) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.handlers[level] = append(l.handlers[level], h)
}

// See log.SetFlags
func (l *logger) SetFlags(flag int) {
	l.logger.SetFlags(flag)
}

// output writes s at the given level. The depth is the number of stack
// frames between the caller of interest and log.Output.
func (l *logger) output(depth int, level LogLevel, s string) {
	l.mut.Lock()
	defer l.mut.Unlock()
	_ = l.logger.Output(depth+1, levelPrefix[level]+s)
	for ll := LevelDebug; ll <= level; ll++ {
		for _, h := range l.handlers[ll] {
			h(level, strings.TrimSpace(s))
		}
	}
}

func (l *logger) Debugln(vals ...interface{}) {
	l.output(2, LevelDebug, fmt.Sprintln(vals...))
}

func (l *logger) Debugf(format string, vals ...interface{}) {
	l.output(2, LevelDebug, fmt.Sprintf(format, vals...))
}

func (l *logger) Verboseln(vals ...interface{}) {
	l.output(2, LevelVerbose, fmt.Sprintln(vals...))
}

func (l *logger) Verbosef(format string, vals ...interface{}) {
	l.output(2, LevelVerbose, fmt.Sprintf(format, vals...))
}

func (l *logger) Infoln(vals ...interface{}) {
	l.output(2, LevelInfo, fmt.Sprintln(vals...))
}

func (l *logger) Infof(format string, vals ...interface{}) {
	l.output(2, LevelInfo, fmt.Sprintf(format, vals...))
}

func (l *logger) Warnln(vals ...interface{}) {
	l.output(2, LevelWarn, fmt.Sprintln(vals...))
}

func (l *logger) Warnf(format string, vals ...interface{}) {
	l.output(2, LevelWarn, fmt.Sprintf(format, vals...))
}

// ShouldDebug returns true if the given facility has debugging enabled.
func (l *logger) ShouldDebug(facility string) bool {
	l.mut.Lock()
	_, res := l.debug[facility]
	l.mut.Unlock()
	return res
}

// SetDebug enabled or disables debugging for the given facility name.
func (l *logger) SetDebug(facility string, enabled bool) {
	l.mut.Lock()
	defer l.mut.Unlock()
	if _, ok := l.debug[facility]; enabled && !ok {
		l.SetFlags(DebugFlags)
		l.debug[facility] = struct{}{}
	} else if !enabled && ok {
		delete(l.debug, facility)
		if len(l.debug) == 0 {
			l.SetFlags(DefaultFlags)
		}
	}
}

func (l *logger) isTraced(facility string) bool {
	if len(l.traces) == 0 {
		return false
	}
	if l.traces[0] == "all" {
		return true
	}
	_, found := slices.BinarySearch(l.traces, facility)
	return found
}

// FacilityDebugging returns the set of facilities that have debugging
// enabled.
func (l *logger) FacilityDebugging() []string {
	l.mut.Lock()
	enabled := make([]string, 0, len(l.debug))
	for facility := range l.debug {
		enabled = append(enabled, facility)
	}
	l.mut.Unlock()
	slices.Sort(enabled)
	return enabled
}

// Facilities returns the currently known set of facilities and their
// descriptions.
func (l *logger) Facilities() map[string]string {
	l.mut.Lock()
	res := make(map[string]string, len(l.facilities))
	for facility, descr := range l.facilities {
		res[facility] = descr
	}
	l.mut.Unlock()
	return res
}

// NewFacility returns a new logger bound to the named facility.
func (l *logger) NewFacility(facility, description string) Logger {
	l.SetDebug(facility, l.isTraced(facility))

	l.mut.Lock()
	l.facilities[facility] = description
	l.mut.Unlock()

	return &facilityLogger{
		logger:   l,
		facility: facility,
	}
}

// A facilityLogger is a regular logger but bound to a facility name. The
// Debugln and Debugf methods are no-ops unless debugging has been enabled for
// this facility on the parent logger.
type facilityLogger struct {
	*logger
	facility string
}

func (l *facilityLogger) Debugln(vals ...interface{}) {
	if !l.ShouldDebug(l.facility) {
		return
	}
	l.logger.output(2, LevelDebug, fmt.Sprintln(vals...))
}

func (l *facilityLogger) Debugf(format string, vals ...interface{}) {
	if !l.ShouldDebug(l.facility) {
		return
	}
	l.logger.output(2, LevelDebug, fmt.Sprintf(format, vals...))
}

// A Recorder keeps a size limited record of log events.
type Recorder interface {
	Since(t time.Time) []Line
	Clear()
}

type recorder struct {
	lines []Line
	size  int
	mut   sync.Mutex
}

// A Line represents a single log entry.
type Line struct {
	When    time.Time `json:"when" yaml:"when"`
	Message string    `json:"message" yaml:"message"`
	Level   LogLevel  `json:"level" yaml:"level"`
}

// NewRecorder returns a Recorder holding the last size lines logged on l at
// level or above.
func NewRecorder(l Logger, level LogLevel, size int) Recorder {
	r := &recorder{
		lines: make([]Line, 0, size),
		size:  size,
	}
	l.AddHandler(level, r.append)
	return r
}

func (r *recorder) Since(t time.Time) []Line {
	r.mut.Lock()
	defer r.mut.Unlock()

	for i := range r.lines {
		if r.lines[i].When.After(t) {
			return slices.Clone(r.lines[i:])
		}
	}
	return nil
}

func (r *recorder) Clear() {
	r.mut.Lock()
	r.lines = r.lines[:0]
	r.mut.Unlock()
}

func (r *recorder) append(l LogLevel, msg string) {
	line := Line{
		When:    time.Now(), // intentionally high precision
		Message: msg,
		Level:   l,
	}

	r.mut.Lock()
	defer r.mut.Unlock()

	if r.size > 0 && len(r.lines) == r.size {
		copy(r.lines, r.lines[1:])
		r.lines[len(r.lines)-1] = line
		return
	}
	r.lines = append(r.lines, line)
}

// controlStripper is a Writer that replaces control characters
// with spaces.
type controlStripper struct {
	io.Writer
}

func (s controlStripper) Write(data []byte) (int, error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			continue
		}
		if b < 32 {
			data[i] = ' '
		}
	}
	return s.Writer.Write(data)
}
