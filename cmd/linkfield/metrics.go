// Copyright (C) 2026 The Linkfield Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/linkfield/linkfield/lib/svcutil"
)

const (
	httpReadTimeout    = 5 * time.Second
	httpWriteTimeout   = 10 * time.Second
	httpMaxHeaderBytes = 1 << 14
)

// serveMetrics exposes the Prometheus metrics on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		l.Warnln("Metrics listener:", err)
		// A taken or invalid address does not fix itself.
		return svcutil.NoRestartErr(err)
	}
	return serveMetricsOn(ctx, listener)
}

func serveMetricsOn(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Handler:        mux,
		ReadTimeout:    httpReadTimeout,
		WriteTimeout:   httpWriteTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
		ErrorLog:       log.New(io.Discard, "", 0),
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	l.Infoln("Serving metrics on", listener.Addr())
	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}
