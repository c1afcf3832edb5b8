// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config resolves the server's configuration from CLI flags
// overlaid on environment-variable defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// Config is the fully-resolved configuration for a server instance.
type Config struct {
	Bind     string `envconfig:"BIND" default:"0.0.0.0"`
	Port     int    `envconfig:"PORT" default:"7000"`
	CacheDir string `envconfig:"CACHE_DIR"`
	Dirs     []string
}

// HLSDir is where transcode job output is written, nested under CacheDir so
// a single cache root can be wiped to clear everything derived.
func (c Config) HLSDir() string {
	return filepath.Join(c.CacheDir, "hls")
}

// Load parses args against environment-variable defaults (prefixed
// MEDIABROWSER_) and CLI flags, the latter taking precedence whenever set
// explicitly. At least one root directory must be given.
func Load(args []string) (Config, error) {
	var envCfg Config
	if err := envconfig.Process("mediabrowser", &envCfg); err != nil {
		return Config{}, fmt.Errorf("config: reading environment: %w", err)
	}

	fs := flag.NewFlagSet("mediabrowser", flag.ContinueOnError)
	bind := fs.String("bind", envCfg.Bind, "IP address to bind to")
	port := fs.Int("port", envCfg.Port, "Port to listen on")
	cacheDir := fs.String("cache-dir", envCfg.CacheDir, "Directory to store cached thumbnails and videos (default: OS cache dir)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	dirs := fs.Args()
	if len(dirs) == 0 {
		return Config{}, fmt.Errorf("config: at least one root directory is required")
	}

	cfg := Config{Bind: *bind, Port: *port, CacheDir: *cacheDir, Dirs: dirs}
	if cfg.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return Config{}, fmt.Errorf("config: resolving default cache dir: %w", err)
		}
		cfg.CacheDir = filepath.Join(base, "media_browser_cache")
	} else if abs, err := filepath.Abs(cfg.CacheDir); err == nil {
		cfg.CacheDir = abs
	}

	for i, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return Config{}, fmt.Errorf("config: resolving %q: %w", d, err)
		}
		dirs[i] = abs
	}

	return cfg, nil
}
