// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/linkfield/linkfield/lib/config"
	"github.com/linkfield/linkfield/lib/db"
	"github.com/linkfield/linkfield/lib/db/backend"
	"github.com/linkfield/linkfield/lib/meta"
)

// openExisting opens the database the path argument resolves to. Unlike
// watching, inspecting never creates a database.
func openExisting(cfg config.Configuration, arg string) (*db.Table, backend.Backend, error) {
	dbPath, _ := resolvePaths(arg)
	typ := backend.Type(cfg.Backend.Type)
	if typ != backend.TypeMemory {
		if _, err := os.Stat(dbPath); err != nil {
			return nil, nil, fmt.Errorf("no database at %s", dbPath)
		}
	}
	kv, err := backend.Open(typ, dbPath, cfg.Backend.Options())
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	table := db.NewTable(kv)
	if err := table.EnsureTable(); err != nil {
		kv.Close()
		return nil, nil, err
	}
	return table, kv, nil
}

func skipBad(key string, err error) {
	l.Warnf("Skipping unreadable record %q: %v", key, err)
}

type listCommand struct {
	Path string `arg:"" optional:"" help:"Database, or the directory containing it"`
	YAML bool   `name:"yaml" help:"Print records as YAML"`
}

func (c *listCommand) Run(ctx Context) error {
	table, kv, err := openExisting(ctx.cfg, c.Path)
	if err != nil {
		return err
	}
	defer kv.Close()

	var recs []meta.Record
	if err := table.Iterate(func(rec meta.Record) bool {
		recs = append(recs, rec)
		return true
	}, skipBad); err != nil {
		return err
	}

	if c.YAML {
		enc := yaml.NewEncoder(ctx.stdout)
		defer enc.Close()
		return enc.Encode(recs)
	}

	tw := tabwriter.NewWriter(ctx.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tMODIFIED")
	for _, rec := range recs {
		mod := "-"
		if rec.Modified != nil {
			mod = rec.Modified.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", rec.Path, humanize.IBytes(rec.Size), mod)
	}
	return tw.Flush()
}

type getCommand struct {
	File string `arg:"" help:"File to look up"`
	Path string `arg:"" optional:"" help:"Database, or the directory containing it"`
}

func (c *getCommand) Run(ctx Context) error {
	table, kv, err := openExisting(ctx.cfg, c.Path)
	if err != nil {
		return err
	}
	defer kv.Close()

	file, err := filepath.Abs(c.File)
	if err != nil {
		return err
	}
	rec, ok, err := table.Get(file)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: not in the database", file)
	}
	enc := yaml.NewEncoder(ctx.stdout)
	defer enc.Close()
	return enc.Encode(rec)
}

type statsCommand struct {
	Path string `arg:"" optional:"" help:"Database, or the directory containing it"`
}

func (c *statsCommand) Run(ctx Context) error {
	table, kv, err := openExisting(ctx.cfg, c.Path)
	if err != nil {
		return err
	}
	defer kv.Close()

	var files int
	var total uint64
	if err := table.Iterate(func(rec meta.Record) bool {
		files++
		total += rec.Size
		return true
	}, skipBad); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(ctx.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Database:\t%s\n", kv.Location())
	fmt.Fprintf(tw, "Backend:\t%s\n", ctx.cfg.Backend.Type)
	fmt.Fprintf(tw, "Files:\t%d\n", files)
	fmt.Fprintf(tw, "Total size:\t%s\n", humanize.IBytes(total))
	if rss, err := processRSS(); err == nil {
		fmt.Fprintf(tw, "Process RSS:\t%s\n", humanize.IBytes(rss))
	}
	return tw.Flush()
}

type compactCommand struct {
	Path string `arg:"" optional:"" help:"Database, or the directory containing it"`
}

func (c *compactCommand) Run(ctx Context) error {
	table, kv, err := openExisting(ctx.cfg, c.Path)
	if err != nil {
		return err
	}
	defer kv.Close()

	t0 := time.Now()
	if err := table.Compact(); err != nil {
		return fmt.Errorf("compacting: %w", err)
	}
	l.Infof("Compacted %s in %v", kv.Location(), time.Since(t0).Truncate(time.Millisecond))
	return nil
}

type showConfigCommand struct{}

func (*showConfigCommand) Run(ctx Context) error {
	enc := yaml.NewEncoder(ctx.stdout)
	defer enc.Close()
	return enc.Encode(ctx.cfg)
}
