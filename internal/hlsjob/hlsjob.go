// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hlsjob tracks running and recently-finished ffmpeg HLS transcodes:
// one job per content-address key, deduplicated so two requests for the
// same source share a single ffmpeg process, and reaped after an idle
// timeout.
package hlsjob

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/mediabrowser/internal/addressing"
	"github.com/example/mediabrowser/internal/ffmpeg"
	"github.com/example/mediabrowser/internal/media"
	"github.com/example/mediabrowser/internal/metrics"
)

// IdleTimeout is how long a job may go without a heartbeat before the
// reaper kills it. A var, not a const, so tests can shorten it.
var IdleTimeout = 30 * time.Second

// ReapInterval is how often the reaper scans for idle jobs. A var, not a
// const, so tests can shorten it.
var ReapInterval = 5 * time.Second

// Job is one running (or just-finished) ffmpeg HLS transcode.
type Job struct {
	key  string
	dir  string
	cmd  *exec.Cmd
	done chan struct{} // closed once cmd.Wait has returned

	mu         sync.Mutex
	lastAccess time.Time
	waited     bool
}

// Registry is the in-memory set of active jobs, keyed by content address.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
	log  zerolog.Logger
	m    *metrics.Metrics
}

// NewRegistry returns an empty job Registry. m may be nil, in which case
// metrics are not recorded.
func NewRegistry(log zerolog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{jobs: make(map[string]*Job), log: log, m: m}
}

// StartOrReuse ensures a job is running for key, starting a new ffmpeg
// process if none exists yet. It returns the job and whether it was just
// created.
func (r *Registry) StartOrReuse(key, src, dir string, info *media.Info) (*Job, bool, error) {
	r.mu.Lock()
	if job, ok := r.jobs[key]; ok {
		job.bump()
		r.mu.Unlock()
		if r.m != nil {
			r.m.HLSJobsReused.Inc()
		}
		return job, false, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil && !os.IsExist(err) {
		r.mu.Unlock()
		return nil, false, fmt.Errorf("hlsjob: creating job dir: %w", err)
	}
	// A leftover playlist from a prior run would let a client keep
	// consuming stale segments while the new transcode is still warming
	// up, so clear it before starting.
	os.Remove(addressing.PlaylistFile(dir))
	os.Remove(addressing.MarkerPath(dir, addressing.MarkerComplete))
	os.Remove(addressing.MarkerPath(dir, addressing.MarkerError))
	markerPath := addressing.MarkerPath(dir, addressing.MarkerIncomplete)
	if f, err := os.Create(markerPath); err == nil {
		f.Close()
	}

	args := buildArgs(src, dir, info, r.log)
	cmd, err := ffmpeg.Start(args)
	if err != nil {
		r.mu.Unlock()
		return nil, false, fmt.Errorf("hlsjob: starting ffmpeg: %w", err)
	}

	job := &Job{key: key, dir: dir, cmd: cmd, done: make(chan struct{}), lastAccess: time.Now()}
	r.jobs[key] = job
	r.mu.Unlock()

	if r.m != nil {
		r.m.HLSJobsStarted.Inc()
		r.m.ActiveHLSJobs.Inc()
	}
	go r.awaitCompletion(key, job)
	return job, true, nil
}

// buildArgs assembles the ffmpeg argument list for an HLS transcode,
// copying codecs the player can consume directly and re-encoding anything
// else, and logs the disposition it chose.
func buildArgs(src, dir string, info *media.Info, log zerolog.Logger) []string {
	video := media.ChooseStream(info.Video, media.HLSVideoCopyCodecs)
	audio := media.ChooseStream(info.Audio, media.HLSAudioCopyCodecs)

	args := []string{"-loglevel", "error", "-i", src}
	if video != nil {
		args = append(args, "-map", fmt.Sprintf("0:%d", video.Index))
	}
	if audio != nil {
		args = append(args, "-map", fmt.Sprintf("0:%d", audio.Index))
	}

	msg := "ffmpeg:"
	switch {
	case video != nil && media.HLSVideoCopyCodecs[video.Codec]:
		msg += fmt.Sprintf(" copy video (%s)", video.Codec)
		args = append(args, "-c:v", "copy")
	case video != nil:
		msg += fmt.Sprintf(" re-encode video (%s)", video.Codec)
		args = append(args,
			"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-g", "48",
			"-keyint_min", "48",
			"-sc_threshold", "0",
		)
	default:
		msg += " no video stream"
	}

	switch {
	case audio != nil && media.HLSAudioCopyCodecs[audio.Codec]:
		msg += fmt.Sprintf(", copy audio (%s)", audio.Codec)
		args = append(args, "-c:a", "copy")
	case audio != nil:
		msg += fmt.Sprintf(", re-encode audio (%s)", audio.Codec)
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	default:
		msg += ", no audio"
	}

	log.Info().Str("dir", dir).Msg(msg)

	args = append(args,
		"-f", "hls",
		"-hls_time", "5",
		"-hls_list_size", "0",
		"-hls_segment_filename", fmt.Sprintf("%s/%s", dir, addressing.SegmentPattern),
		addressing.PlaylistFile(dir),
	)
	return args
}

// awaitCompletion waits for the ffmpeg process to exit and updates the
// marker files according to how it finished: a clean exit marks the job
// complete, a kill by signal or an exit code of 255 (host shutdown) leaves
// the markers untouched so a later request starts a fresh job, and any other
// non-zero exit marks it as an error so future requests don't keep retrying
// a doomed source.
func (r *Registry) awaitCompletion(key string, job *Job) {
	err := job.cmd.Wait()

	job.mu.Lock()
	job.waited = true
	job.mu.Unlock()
	// done closes after waited is set, not before: a receiver unblocked by
	// the close is then guaranteed (via the channel-close happens-before
	// edge) to observe waited as true, instead of racing it.
	close(job.done)

	rc := job.cmd.ProcessState.ExitCode()
	switch {
	case err == nil && rc == 0:
		r.log.Info().Str("key", key).Msg("job complete")
		os.Rename(addressing.MarkerPath(job.dir, addressing.MarkerIncomplete), addressing.MarkerPath(job.dir, addressing.MarkerComplete))
	case rc < 0:
		r.log.Info().Str("key", key).Int("signal", -rc).Msg("job killed by signal")
	case rc == 255:
		// Host is shutting down; this is not an ffmpeg failure.
	default:
		r.log.Info().Str("key", key).Int("exit_code", rc).Msg("job failed")
		if f, ferr := os.Create(addressing.MarkerPath(job.dir, addressing.MarkerError)); ferr == nil {
			f.Close()
		}
	}
}

// Bump records a heartbeat for key's job if one is running. Called on every
// segment request, even for a segment that doesn't exist yet, and on every
// playlist request that finds the playlist on disk.
func (r *Registry) Bump(key string) {
	r.mu.Lock()
	job := r.jobs[key]
	r.mu.Unlock()
	if job != nil {
		job.bump()
	}
}

func (j *Job) bump() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.waited {
		j.lastAccess = time.Now()
	}
}

func (j *Job) idleSince(now time.Time) time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return now.Sub(j.lastAccess)
}

func (j *Job) hasWaited() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.waited
}
