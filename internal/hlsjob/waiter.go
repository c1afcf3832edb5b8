// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hlsjob

import (
	"context"
	"os"
	"time"
)

// ReadyTimeout is how long WaitReady polls for a non-empty file before
// giving up. A var, not a const, so tests can shorten it.
var ReadyTimeout = 10 * time.Second

// ReadyPollInterval is how often WaitReady checks for the file.
var ReadyPollInterval = 200 * time.Millisecond

// WaitReady blocks until path exists and is non-empty, or until ctx is
// cancelled or ReadyTimeout elapses, whichever comes first. It returns
// whether the file became ready in time.
func WaitReady(ctx context.Context, path string) bool {
	deadline := time.Now().Add(ReadyTimeout)
	for time.Now().Before(deadline) {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(ReadyPollInterval):
		}
	}
	return false
}
