// Copyright 2017 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package thumbnail generates and caches JPEG thumbnails for images (fit
// within 320x320) and videos (scaled to 320 pixels wide, height following
// the aspect ratio), matching the freshness and failure-sentinel rules of
// the artifact cache.
package thumbnail

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoding for image.Decode
	"image/jpeg"
	_ "image/png" // register PNG decoding for image.Decode
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"  // register BMP decoding for image.Decode
	_ "golang.org/x/image/webp" // register WebP decoding for image.Decode

	"github.com/example/mediabrowser/internal/addressing"
	"github.com/example/mediabrowser/internal/ffmpeg"
	"github.com/example/mediabrowser/internal/media"
	"github.com/example/mediabrowser/internal/metrics"
)

// Size is the bounding box image thumbnails are fit into, and the width
// video thumbnails are scaled to.
const Size = 320

// fontSearchDirs are search roots for a label font used on video thumbnails'
// duration overlay, in the order they're tried.
func fontSearchDirs() []string {
	dirs := []string{
		"/usr/share/fonts",
		"/usr/local/share/fonts",
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "share", "fonts"))
	}
	return dirs
}

// Status is the outcome of an EnsureThumb call.
type Status int

const (
	// StatusOK means dst holds a usable, fresh thumbnail.
	StatusOK Status = iota
	// StatusSourceMissing means src does not exist.
	StatusSourceMissing
	// StatusFailed means thumbnail generation failed and the cache now
	// holds a zero-byte failure sentinel at dst.
	StatusFailed
)

// Cache generates and serves thumbnails rooted at a cache directory.
type Cache struct {
	root string
	log  zerolog.Logger
	m    *metrics.Metrics

	fontOnce sync.Once
	fontFile string
}

// NewCache returns a Cache rooted at root, creating it if necessary. m may
// be nil, in which case metrics are not recorded.
func NewCache(root string, log zerolog.Logger, m *metrics.Metrics) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("thumbnail: creating cache root: %w", err)
	}
	return &Cache{root: root, log: log, m: m}, nil
}

// Path returns the cache file a given resolved source path's thumbnail
// would live at, without generating it.
func (c *Cache) Path(src string) string {
	return addressing.ThumbFile(c.root, addressing.Key(src))
}

// EnsureThumb returns a fresh thumbnail for src, a resolved filesystem path,
// generating or regenerating it if the cached copy is missing, stale, or
// absent.
func (c *Cache) EnsureThumb(ctx context.Context, src string) (string, Status) {
	dst := c.Path(src)

	srcInfo, err := os.Stat(src)
	if err != nil {
		return dst, StatusSourceMissing
	}

	if dstInfo, err := os.Stat(dst); err == nil && !dstInfo.ModTime().Before(srcInfo.ModTime()) {
		if dstInfo.Size() > 0 {
			return dst, StatusOK
		}
		return dst, StatusFailed
	}

	var ok bool
	switch {
	case media.IsImage(src):
		ok = c.genImageThumb(src, dst)
	case media.IsVideo(src):
		ok = c.genVideoThumb(ctx, src, dst)
	}
	if ok {
		if c.m != nil {
			c.m.ThumbnailsGenerated.Inc()
		}
		return dst, StatusOK
	}

	// Leave a zero-byte sentinel so subsequent requests short-circuit
	// straight to StatusFailed instead of retrying a doomed decode.
	if err := c.writeAtomic(dst, nil); err != nil {
		c.log.Warn().Err(err).Str("dst", dst).Msg("failed to write failure sentinel")
	}
	if c.m != nil {
		c.m.ThumbnailsFailed.Inc()
	}
	return dst, StatusFailed
}

func (c *Cache) genImageThumb(src, dst string) bool {
	f, err := os.Open(src)
	if err != nil {
		c.log.Warn().Err(err).Str("src", src).Msg("thumbnail: opening source image")
		return false
	}
	defer f.Close()

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		c.log.Warn().Err(err).Str("src", src).Msg("thumbnail: decoding source image")
		return false
	}
	thumb := imaging.Fit(img, Size, Size, imaging.Lanczos)

	return c.writeJPEG(dst, thumb)
}

func (c *Cache) genVideoThumb(ctx context.Context, src, dst string) bool {
	vf := fmt.Sprintf("thumbnail,scale=%d:-1", Size)
	if duration, ok := c.probeDuration(ctx, src); ok {
		vf += "," + drawtextFilter(duration, c.fontFilePath())
	}

	// ffmpeg infers its output muxer from the extension, so the temp file
	// must end in .jpg rather than .tmp.
	tmp := dst + ".tmp." + uuid.NewString() + ".jpg"
	_, err := ffmpeg.Run([]string{"-loglevel", "error", "-i", src, "-frames:v", "1", "-vf", vf, tmp})
	defer os.Remove(tmp)
	if err != nil {
		c.log.Warn().Err(err).Str("src", src).Msg("thumbnail: ffmpeg failed")
		return false
	}
	data, err := os.ReadFile(tmp)
	if err != nil || len(data) == 0 {
		return false
	}
	return c.writeAtomic(dst, data) == nil
}

func (c *Cache) probeDuration(ctx context.Context, src string) (string, bool) {
	out, err := ffmpeg.Probe(src)
	if err != nil || out.Format.Duration == "" {
		return "", false
	}
	var seconds float64
	if _, err := fmt.Sscanf(out.Format.Duration, "%f", &seconds); err != nil {
		return "", false
	}
	return media.FormatDuration(seconds), true
}

// fontFilePath searches for a label font once per cache instance and
// remembers the result, since the search walks the filesystem.
func (c *Cache) fontFilePath() string {
	c.fontOnce.Do(func() {
		for _, dir := range fontSearchDirs() {
			found := ""
			_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
				if err != nil || found != "" {
					return nil
				}
				if !d.IsDir() && d.Name() == "DejaVuSans.ttf" {
					found = path
				}
				return nil
			})
			if found != "" {
				c.fontFile = found
				return
			}
		}
	})
	return c.fontFile
}

func drawtextFilter(duration, fontFile string) string {
	// ffmpeg's filtergraph syntax uses ":" to separate a filter's own
	// options, so a literal ":" inside the text= value (the duration's
	// "H:MM:SS") must be escaped or ffmpeg misparses the filter.
	escaped := strings.ReplaceAll(duration, ":", `\:`)
	f := fmt.Sprintf("drawtext=text='%s':x=w-tw-8:y=8:box=1:boxborderw=8:boxcolor=0x000000aa:fontsize=24:fontcolor=0xcccccc", escaped)
	if fontFile != "" {
		f += fmt.Sprintf(":fontfile='%s'", fontFile)
	}
	return f
}

func (c *Cache) writeJPEG(dst string, img image.Image) bool {
	tmp := dst + "." + uuid.NewString() + ".tmp"
	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		c.log.Warn().Err(err).Str("dst", dst).Msg("thumbnail: creating cache shard dir")
		return false
	}
	f, err := os.Create(tmp)
	if err != nil {
		c.log.Warn().Err(err).Str("dst", dst).Msg("thumbnail: creating temp file")
		return false
	}
	encErr := jpeg.Encode(f, img, &jpeg.Options{Quality: 85})
	closeErr := f.Close()
	if encErr != nil || closeErr != nil {
		os.Remove(tmp)
		c.log.Warn().Err(encErr).Str("dst", dst).Msg("thumbnail: encoding jpeg")
		return false
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		c.log.Warn().Err(err).Str("dst", dst).Msg("thumbnail: renaming into place")
		return false
	}
	return true
}

// writeAtomic writes data to dst via a temp file in the same directory
// followed by rename, so concurrent readers never observe a partial file.
func (c *Cache) writeAtomic(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
