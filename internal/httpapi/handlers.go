package httpapi

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/example/mediabrowser/internal/addressing"
	"github.com/example/mediabrowser/internal/hlsjob"
	"github.com/example/mediabrowser/internal/media"
	"github.com/example/mediabrowser/internal/thumbnail"
	"github.com/example/mediabrowser/internal/vpath"
)

func (s *Server) handleTree(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"dirs": s.roots.BuildTrees()})
}

type listBatchRequest struct {
	Path  string   `json:"path"`
	Since *float64 `json:"since"`
}

type listedFile struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Mtime float64 `json:"mtime"`
	Size  int64   `json:"size"`
}

// listBatchResult is one entry of a list-batch response. Its wire shape
// depends on NotModified: a fresh-enough directory serializes as the bare
// {"not_modified": true} spec.md §6 documents, with mtime/files omitted
// entirely rather than present as null, so MarshalJSON is implemented by
// hand instead of relying on struct tags alone.
type listBatchResult struct {
	NotModified bool
	Mtime       *float64
	Files       []listedFile
}

func (r listBatchResult) MarshalJSON() ([]byte, error) {
	if r.NotModified {
		return json.Marshal(struct {
			NotModified bool `json:"not_modified"`
		}{true})
	}
	return json.Marshal(struct {
		NotModified bool         `json:"not_modified"`
		Mtime       *float64     `json:"mtime"`
		Files       []listedFile `json:"files"`
	}{false, r.Mtime, r.Files})
}

// handleListBatch resolves freshness and file listings for a batch of
// directories in one request. Freshness is judged purely on the directory's
// own mtime against the client-supplied "since" timestamp; it does not
// recurse, so a change nested two levels deep in an otherwise-unchanged
// directory tree isn't detected until the client also lists that
// subdirectory directly.
//
// An invalid virtual path (unknown root or root-escape attempt) in any
// entry fails the whole request with 400, matching the original's
// safe_path exception propagating out through its surrounding
// "except Exception: raise HTTPException(400)". Only a resolved-but-absent
// directory is reported per-entry as "missing".
func (s *Server) handleListBatch(w http.ResponseWriter, req *http.Request) {
	var entries []listBatchRequest
	if err := json.NewDecoder(req.Body).Decode(&entries); err != nil {
		writeErr(w, newError(KindBadRequest, err))
		return
	}

	result := make(map[string]listBatchResult, len(entries))
	for _, entry := range entries {
		base, err := s.roots.Resolve(entry.Path)
		if err != nil {
			writeErr(w, newError(KindBadRequest, err))
			return
		}
		info, err := os.Stat(base)
		if err != nil {
			result[entry.Path] = listBatchResult{Files: []listedFile{}}
			continue
		}
		mtime := float64(info.ModTime().UnixNano()) / 1e9
		if entry.Since != nil && mtime <= *entry.Since {
			result[entry.Path] = listBatchResult{NotModified: true}
			continue
		}

		dirEntries, err := os.ReadDir(base)
		if err != nil {
			result[entry.Path] = listBatchResult{Files: []listedFile{}}
			continue
		}
		files := []listedFile{}
		for _, e := range dirEntries {
			if strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if !media.IsImage(e.Name()) && !media.IsVideo(e.Name()) {
				continue
			}
			fi, err := e.Info()
			if err != nil {
				continue
			}
			typ := "image"
			if media.IsVideo(e.Name()) {
				typ = "video"
			}
			files = append(files, listedFile{
				Name:  vpath.Encode(e.Name()),
				Type:  typ,
				Mtime: float64(fi.ModTime().UnixNano()) / 1e9,
				Size:  fi.Size(),
			})
		}
		result[entry.Path] = listBatchResult{Mtime: &mtime, Files: files}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) resolve(req *http.Request) (virtual, real string, err error) {
	virtual = req.URL.Query().Get("path")
	real, err = s.roots.Resolve(virtual)
	if err != nil {
		return virtual, "", newError(KindInvalidPath, err)
	}
	return virtual, real, nil
}

func (s *Server) handleThumb(w http.ResponseWriter, req *http.Request) {
	_, src, err := s.resolve(req)
	if err != nil {
		writeErr(w, err)
		return
	}

	dst, status := s.thumbs.EnsureThumb(req.Context(), src)
	switch status {
	case thumbnail.StatusOK:
		w.Header().Set("Cache-Control", "private")
		http.ServeFile(w, req, dst)
	case thumbnail.StatusSourceMissing:
		writeErr(w, newError(KindSourceMissing, errors.New("source not found")))
	default:
		writeErr(w, newError(KindCachedFailure, errors.New("thumbnail unavailable")))
	}
}

func (s *Server) handleFile(w http.ResponseWriter, req *http.Request) {
	_, src, err := s.resolve(req)
	if err != nil {
		writeErr(w, err)
		return
	}
	info, err := os.Stat(src)
	if err != nil || info.IsDir() {
		writeErr(w, newError(KindSourceMissing, errors.New("not found")))
		return
	}
	f, err := os.Open(src)
	if err != nil {
		writeErr(w, newError(KindSourceMissing, err))
		return
	}
	defer f.Close()

	ctype := mime.TypeByExtension(filepath.Ext(src))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	http.ServeContent(w, req, filepath.Base(src), info.ModTime(), f)
}

func (s *Server) handleStartHLS(w http.ResponseWriter, req *http.Request) {
	_, src, err := s.resolve(req)
	if err != nil {
		writeErr(w, err)
		return
	}
	if info, statErr := os.Stat(src); statErr != nil || info.IsDir() {
		writeErr(w, newError(KindSourceMissing, errors.New("not found")))
		return
	}

	info, err := media.Probe(req.Context(), src)
	if err != nil || info == nil {
		writeErr(w, newError(KindNotMedia, errors.New("not a video or audio file")))
		return
	}

	key := addressing.Key(src)
	dir := addressing.JobDir(s.hlsDir, key)
	playlistURL := "/hls/" + key + "/index.m3u8"

	if _, err := os.Stat(addressing.MarkerPath(dir, addressing.MarkerComplete)); err == nil {
		writeJSON(w, http.StatusOK, map[string]string{"playlist": playlistURL})
		return
	}
	if _, err := os.Stat(addressing.MarkerPath(dir, addressing.MarkerError)); err == nil {
		writeErr(w, newError(KindTranscodeError, errors.New("transcode unavailable")))
		return
	}

	if _, _, err := s.jobs.StartOrReuse(key, src, dir, info); err != nil {
		writeErr(w, newError(KindStartFailed, err))
		return
	}

	if !hlsjob.WaitReady(req.Context(), addressing.PlaylistFile(dir)) {
		writeErr(w, newError(KindReadinessTimeout, errors.New("transcode failed or timed out")))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"playlist": playlistURL})
}

func (s *Server) handlePlaylist(w http.ResponseWriter, req *http.Request) {
	key := chi.URLParam(req, "key")
	path := addressing.PlaylistFile(addressing.JobDir(s.hlsDir, key))
	info, err := os.Stat(path)
	if err != nil {
		writeErr(w, newError(KindSourceMissing, errors.New("not found")))
		return
	}
	s.jobs.Bump(key)
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	f, err := os.Open(path)
	if err != nil {
		writeErr(w, newError(KindSourceMissing, err))
		return
	}
	defer f.Close()
	http.ServeContent(w, req, "index.m3u8", info.ModTime(), f)
}

func (s *Server) handleSegment(w http.ResponseWriter, req *http.Request) {
	jobKey := chi.URLParam(req, "key")
	segment := chi.URLParam(req, "segment")

	// Bump even if the segment isn't ready yet: a player requesting ahead
	// of the encoder is still active viewership, not idleness.
	s.jobs.Bump(jobKey)

	path := filepath.Join(addressing.JobDir(s.hlsDir, jobKey), segment)
	info, err := os.Stat(path)
	if err != nil {
		writeErr(w, newError(KindSourceMissing, errors.New("not found")))
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeErr(w, newError(KindSourceMissing, err))
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "video/MP2T")
	http.ServeContent(w, req, segment, info.ModTime(), f)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps an error's Kind to an HTTP status. The start_hls kinds
// (NotMedia, TranscodeError, StartFailed, ReadinessTimeout) surface as a
// plain 200 {error} body rather than a 4xx/5xx, matching the Python
// original's start_hls, which always returns a bare dict.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusNotFound
	switch kindOf(err) {
	case KindInvalidPath, KindSourceMissing:
		status = http.StatusNotFound
	case KindCachedFailure:
		status = http.StatusGone
	case KindBadRequest:
		status = http.StatusBadRequest
	case KindNotMedia, KindTranscodeError, KindStartFailed, KindReadinessTimeout:
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
