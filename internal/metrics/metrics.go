// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package metrics exposes the server's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the counters and gauges the server updates as it handles
// requests.
type Metrics struct {
	ThumbnailsGenerated prometheus.Counter
	ThumbnailsFailed    prometheus.Counter
	HLSJobsStarted      prometheus.Counter
	HLSJobsReused       prometheus.Counter
	HLSJobsReaped       prometheus.Counter
	ActiveHLSJobs       prometheus.Gauge
}

// New registers the server's collectors against reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ThumbnailsGenerated: f.NewCounter(prometheus.CounterOpts{
			Name: "mediabrowser_thumbnails_generated_total",
			Help: "Thumbnails successfully generated.",
		}),
		ThumbnailsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "mediabrowser_thumbnails_failed_total",
			Help: "Thumbnail generation attempts that ended in the failure sentinel.",
		}),
		HLSJobsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "mediabrowser_hls_jobs_started_total",
			Help: "HLS transcode jobs started.",
		}),
		HLSJobsReused: f.NewCounter(prometheus.CounterOpts{
			Name: "mediabrowser_hls_jobs_reused_total",
			Help: "Requests for HLS transcodes that reused an already-running job.",
		}),
		HLSJobsReaped: f.NewCounter(prometheus.CounterOpts{
			Name: "mediabrowser_hls_jobs_reaped_total",
			Help: "HLS jobs removed by the idle reaper, killing ffmpeg first if it was still running.",
		}),
		ActiveHLSJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "mediabrowser_hls_jobs_active",
			Help: "HLS transcode jobs currently tracked in the registry.",
		}),
	}
}
