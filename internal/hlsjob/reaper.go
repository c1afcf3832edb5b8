// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hlsjob

import (
	"context"
	"time"
)

// Run scans for idle jobs every ReapInterval until ctx is cancelled, killing
// and removing any job that hasn't been bumped within IdleTimeout.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reapOnce()
		}
	}
}

func (r *Registry) reapOnce() {
	now := time.Now()

	r.mu.Lock()
	var stale []*Job
	for key, job := range r.jobs {
		if job.idleSince(now) > IdleTimeout {
			stale = append(stale, job)
			delete(r.jobs, key)
		}
	}
	r.mu.Unlock()

	for _, job := range stale {
		if job.hasWaited() {
			r.log.Info().Str("key", job.key).Msg("idle job already finished, removing")
		} else {
			r.log.Info().Str("key", job.key).Msg("idle job, killing ffmpeg process")
			job.cmd.Process.Kill()
			select {
			case <-job.done:
			case <-time.After(5 * time.Second):
			}
		}
		if r.m != nil {
			r.m.HLSJobsReaped.Inc()
			r.m.ActiveHLSJobs.Dec()
		}
	}
}
