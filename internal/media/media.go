// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package media classifies files by extension and extracts the stream
// information needed to decide how a video should be packaged for HLS.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// ImageExts is the set of extensions served as static images and passed to
// the thumbnail cache's image path.
var ImageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".avif": true, ".bmp": true, ".ico": true,
}

// VideoExts is the set of extensions treated as video: probed, thumbnailed
// with ffmpeg, and eligible for on-demand HLS transcoding.
var VideoExts = map[string]bool{
	".mp4": true, ".m4v": true, ".mov": true, ".webm": true, ".ogv": true,
	".ogg": true, ".mkv": true, ".flv": true, ".avi": true, ".wmv": true,
	".mpeg": true, ".mpg": true, ".ts": true, ".m2ts": true, ".m2v": true,
	".vob": true, ".3gp": true, ".swf": true, ".asf": true, ".ra": true,
	".ram": true, ".rm": true,
}

// IsImage reports whether name's extension identifies it as an image.
func IsImage(name string) bool { return ImageExts[strings.ToLower(filepath.Ext(name))] }

// IsVideo reports whether name's extension identifies it as a video.
func IsVideo(name string) bool { return VideoExts[strings.ToLower(filepath.Ext(name))] }

// Stream describes one elementary stream of a probed file: its ffmpeg
// stream index and lower-cased codec name.
type Stream struct {
	Codec string
	Index int
}

// Info is the subset of a probed file's streams relevant to HLS packaging.
type Info struct {
	Ext   string
	Video []Stream
	Audio []Stream
}

// ffprobeStream is the shape of one entry in ffprobe's stream array, scoped
// to exactly the fields the probe requests.
type ffprobeStream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

// Probe runs ffprobe against src and reports its video/audio streams. It
// returns (nil, nil) when the file has neither — not an error, since the
// caller treats "not a probeable media file" as a normal outcome rather than
// a failure.
func Probe(ctx context.Context, src string) (*Info, error) {
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error",
		"-show_entries", "stream=index,codec_type,codec_name",
		"-of", "json", src)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("media: probe %s: %w", src, err)
	}
	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("media: probe %s: parsing output: %w", src, err)
	}

	info := &Info{Ext: strings.TrimPrefix(strings.ToLower(filepath.Ext(src)), ".")}
	for _, s := range parsed.Streams {
		if s.CodecName == "" {
			continue
		}
		stream := Stream{Codec: strings.ToLower(s.CodecName), Index: s.Index}
		switch s.CodecType {
		case "video":
			info.Video = append(info.Video, stream)
		case "audio":
			info.Audio = append(info.Audio, stream)
		}
	}
	if len(info.Video) == 0 && len(info.Audio) == 0 {
		return nil, nil
	}
	return info, nil
}

// HLSVideoCopyCodecs are video codecs an HLS player can consume directly,
// so the job registry copies rather than re-encodes them.
var HLSVideoCopyCodecs = map[string]bool{"h264": true, "avc1": true}

// HLSAudioCopyCodecs are audio codecs an HLS player can consume directly.
var HLSAudioCopyCodecs = map[string]bool{"aac": true, "mp3": true}

// ChooseStream returns the first stream whose codec is in preferred, or the
// first stream overall if none match, or nil if streams is empty. This
// mirrors a player's typical default-track selection: prefer a
// directly-playable codec, otherwise fall back to whatever is first.
func ChooseStream(streams []Stream, preferred map[string]bool) *Stream {
	for i := range streams {
		if preferred[streams[i].Codec] {
			return &streams[i]
		}
	}
	if len(streams) == 0 {
		return nil
	}
	return &streams[0]
}

// FormatDuration renders seconds as "H:MM:SS" when an hour or more has
// elapsed, or "MM:SS" otherwise, matching the overlay drawn on video
// thumbnails.
func FormatDuration(seconds float64) string {
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
