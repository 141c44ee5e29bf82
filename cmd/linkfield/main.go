// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Command linkfield keeps a database of file metadata for a directory tree
// current while files are created, modified, renamed and moved.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	_ "github.com/linkfield/linkfield/lib/automaxprocs"
	"github.com/linkfield/linkfield/lib/build"
	"github.com/linkfield/linkfield/lib/config"
	"github.com/linkfield/linkfield/lib/logger"
	"github.com/linkfield/linkfield/lib/svcutil"
)

type CLI struct {
	ConfigFile string           `name:"config" short:"c" placeholder:"PATH" env:"LINKFIELD_CONFIG" help:"Configuration file (default: config.yaml in the user config directory)"`
	Backend    string           `placeholder:"TYPE" help:"Database backend, overriding the configuration (leveldb, badger, memory)"`
	Debug      []string         `placeholder:"FACILITY" help:"Enable debug logging for the given facilities, or \"all\""`
	Version    kong.VersionFlag `help:"Show version"`

	Watch      watchCommand      `cmd:"" default:"withargs" help:"Scan a directory and keep its metadata current (default)"`
	List       listCommand       `cmd:"" help:"List the records in a database"`
	Get        getCommand        `cmd:"" help:"Show the record for one file"`
	Stats      statsCommand      `cmd:"" help:"Show database statistics"`
	Compact    compactCommand    `cmd:"" help:"Compact a database"`
	ShowConfig showConfigCommand `cmd:"" name:"show-config" help:"Print the effective configuration"`
}

// Context is bound for the commands once flags, environment and the
// configuration file have been applied.
type Context struct {
	cfg    config.Configuration
	stdout io.Writer
}

func (cli CLI) AfterApply(kongCtx *kong.Context) error {
	enableDebug(cli.Debug)

	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return err
	}
	if cli.Backend != "" {
		cfg.Backend.Type = cli.Backend
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("command line options: %w", err)
		}
	}

	kongCtx.Bind(Context{
		cfg:    cfg,
		stdout: kongCtx.Stdout,
	})
	return nil
}

func enableDebug(facilities []string) {
	for _, f := range facilities {
		if f == "all" {
			for name := range logger.DefaultLogger.Facilities() {
				logger.DefaultLogger.SetDebug(name, true)
			}
			continue
		}
		if _, ok := logger.DefaultLogger.Facilities()[f]; !ok {
			l.Warnf("Unknown debug facility %q", f)
			continue
		}
		logger.DefaultLogger.SetDebug(f, true)
	}
}

type watchCommand struct {
	Path string `arg:"" optional:"" help:"Directory to watch, or an existing database inside it"`
}

func (c *watchCommand) Run(ctx Context) error {
	dbPath, root := resolvePaths(c.Path)
	app, err := newApp(ctx.cfg, dbPath, root)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(sigCtx)
}

func main() {
	var cli CLI
	kongCtx := kong.Parse(&cli,
		kong.Name("linkfield"),
		kong.Description("Keeps file metadata for a directory tree current and detects moves."),
		kong.UsageOnError(),
		kong.Vars{"version": build.LongVersion},
	)
	if err := kongCtx.Run(); err != nil {
		l.Warnln(err)
		os.Exit(svcutil.ExitStatusOf(err).AsInt())
	}
}
