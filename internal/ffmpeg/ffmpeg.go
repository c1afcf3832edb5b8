// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ffmpeg wraps the ffprobe and ffmpeg binaries.
package ffmpeg

import (
	"encoding/json"
	"fmt"
	"os/exec"
)

// Stream is one stream in the video container as output by ffprobe.
type Stream struct {
	Index         int
	CodecName     string `json:"codec_name"`
	CodecLongName string `json:"codec_long_name"`
	CodecType     string `json:"codec_type"`
	Profile       string

	RFrameRate string `json:"r_frame_rate"`
	Duration   string
	BitRate    string `json:"bit_rate"`
	Tags       map[string]string

	// Video
	Width  int
	Height int
	PixFmt string `json:"pix_fmt"`

	// Audio
	SampleRate    string `json:"sample_rate"`
	Channels      int
	ChannelLayout string `json:"channel_layout"`
}

// Format is the detected file format as output by ffprobe.
type Format struct {
	Filename       string
	NbStreams      int    `json:"nb_streams"`
	FormatName     string `json:"format_name"`
	FormatLongName string `json:"format_long_name"`
	Duration       string
	Size           string
	BitRate        string `json:"bit_rate"`
	Tags           map[string]string
}

// ProbeResult is the raw output of ffprobe.
type ProbeResult struct {
	Streams []Stream
	Format  Format
}

// Probe runs ffprobe on src and returns its typed output.
func Probe(src string) (*ProbeResult, error) {
	c := exec.Command("ffprobe", "-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", src)
	raw, err := c.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: probe %s: %w\n%s", src, err, raw)
	}
	r := &ProbeResult{}
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, fmt.Errorf("ffmpeg: probe %s: parsing output: %w", src, err)
	}
	return r, nil
}

// Run executes ffmpeg synchronously with the given arguments and returns its
// combined output, for short-lived invocations such as thumbnail generation.
func Run(args []string) ([]byte, error) {
	out, err := exec.Command("ffmpeg", append([]string{"-hide_banner", "-y"}, args...)...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("ffmpeg: %w", err)
	}
	return out, nil
}

// Start launches ffmpeg with the given arguments and returns immediately
// with the running command, for long-lived invocations such as HLS
// transcodes that a caller tracks and reaps independently.
func Start(args []string) (*exec.Cmd, error) {
	cmd := exec.Command("ffmpeg", append([]string{"-hide_banner", "-y"}, args...)...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start: %w", err)
	}
	return cmd, nil
}
