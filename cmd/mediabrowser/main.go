// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command mediabrowser serves configured root directories over HTTP: tree
// navigation, directory listing, thumbnail grids, raw file serving, and
// on-demand video transcoding to HLS.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/maruel/interrupt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/example/mediabrowser/internal/config"
	"github.com/example/mediabrowser/internal/hlsjob"
	"github.com/example/mediabrowser/internal/httpapi"
	"github.com/example/mediabrowser/internal/metrics"
	"github.com/example/mediabrowser/internal/thumbnail"
	"github.com/example/mediabrowser/internal/vpath"
)

func mainImpl() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	roots, err := vpath.NewRoots(cfg.Dirs)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	thumbs, err := thumbnail.NewCache(cfg.CacheDir, log.With().Str("component", "thumbnail").Logger(), m)
	if err != nil {
		return err
	}

	jobs := hlsjob.NewRegistry(log.With().Str("component", "hlsjob").Logger(), m)

	interrupt.HandleCtrlC()

	reapCtx, cancelReap := context.WithCancel(context.Background())
	defer cancelReap()
	go jobs.Run(reapCtx)

	srv := httpapi.NewServer(roots, thumbs, jobs, cfg.HLSDir(), log.With().Str("component", "http").Logger())
	addr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Router()}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	printBanner(cfg.Bind, cfg.Port)

	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	<-interrupt.Channel
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// printBanner prints the URL a user should open in a browser. A wildcard
// bind address isn't itself browseable, so it's swapped for the machine's
// FQDN when possible.
func printBanner(bind string, port int) {
	host := bind
	if bind == "0.0.0.0" || bind == "::" {
		host = localHostname()
	}
	fmt.Println()
	fmt.Printf("Open in browser: http://%s:%d\n", host, port)
	fmt.Println()
}

func localHostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	if addrs, err := net.LookupCNAME(name); err == nil {
		name = strings.TrimSuffix(addrs, ".")
	}
	if name == "localhost" || !strings.Contains(name, ".") {
		return "localhost"
	}
	return name
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "mediabrowser: %s\n", err)
		os.Exit(1)
	}
}
