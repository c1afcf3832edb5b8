// Package httpapi wires the media browser's HTTP surface: tree navigation,
// directory listing, thumbnails, raw file serving, and HLS transcode
// start/playback.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/example/mediabrowser/internal/hlsjob"
	"github.com/example/mediabrowser/internal/thumbnail"
	"github.com/example/mediabrowser/internal/vpath"
)

// Server holds everything a handler needs to serve a request. Thumbnail and
// HLS job metrics are recorded by those components directly; the server
// itself doesn't need a *metrics.Metrics of its own.
type Server struct {
	roots  *vpath.Roots
	thumbs *thumbnail.Cache
	jobs   *hlsjob.Registry
	hlsDir string
	log    zerolog.Logger
}

// NewServer builds a Server from its already-constructed dependencies.
func NewServer(roots *vpath.Roots, thumbs *thumbnail.Cache, jobs *hlsjob.Registry, hlsDir string, log zerolog.Logger) *Server {
	return &Server{roots: roots, thumbs: thumbs, jobs: jobs, hlsDir: hlsDir, log: log}
}

// Router builds the chi.Mux exposing every endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)

	r.Get("/", s.handleIndex)
	r.Get("/static/*", s.handleStatic)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/api/tree", s.handleTree)
	r.Post("/api/list-batch", s.handleListBatch)
	r.Get("/api/thumb", s.handleThumb)
	r.Get("/api/file", s.handleFile)
	r.Get("/api/start_hls", s.handleStartHLS)

	r.Get("/hls/{key}/index.m3u8", s.handlePlaylist)
	r.Get("/hls/{key}/{segment}", s.handleSegment)

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		s.log.Info().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(req.Context())).
			Msg("request")
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte("<!doctype html><title>media browser</title><p>media browser is running.</p>"))
}

func (s *Server) handleStatic(w http.ResponseWriter, req *http.Request) {
	// No front-end asset bundle ships with this distillation; /static/*
	// is mounted only as a placeholder for the route a real front-end
	// would use, and answers 404 for every asset.
	http.NotFound(w, req)
}
