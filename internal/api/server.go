// Package api exposes the HTTP interface of the generation gateway.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/docgen-gateway/internal/apperrors"
	"github.com/JakeFAU/docgen-gateway/internal/config"
	"github.com/JakeFAU/docgen-gateway/internal/download"
	"github.com/JakeFAU/docgen-gateway/internal/job"
	"github.com/JakeFAU/docgen-gateway/internal/metrics"
	"github.com/JakeFAU/docgen-gateway/internal/middleware"
	"github.com/JakeFAU/docgen-gateway/internal/policy/ratelimit"
	"github.com/JakeFAU/docgen-gateway/internal/store"
)

// uploadField is the multipart form field carrying the document.
const uploadField = "file"

// Generator runs one upload through the worker.
type Generator interface {
	Process(ctx context.Context, upload job.Upload) (job.Result, error)
}

// Downloader locates generated artifacts.
type Downloader interface {
	Fetch(raw string) (download.File, error)
	Root() string
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Server wires HTTP handlers to the job service and download gateway.
type Server struct {
	router    chi.Router
	handler   http.Handler
	generator Generator
	files     Downloader
	cfg       config.Config
	logger    *zap.Logger
	checks    map[string]ReadyCheck
}

// Option customizes a Server.
type Option func(*Server)

// WithReadyCheck adds a named dependency check to /readyz.
func WithReadyCheck(name string, check ReadyCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// NewServer constructs a Server with middleware and routes. history may be
// nil, in which case the job history endpoints answer 503.
func NewServer(
	generator Generator,
	files Downloader,
	history store.HistoryRepository,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		generator: generator,
		files:     files,
		cfg:       cfg,
		logger:    logger,
		checks:    make(map[string]ReadyCheck),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger.Named("http")))
	r.Use(middleware.Recoverer(logger))
	r.Use(metrics.Middleware)
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	if cfg.Auth.Enabled {
		r.Use(middleware.APIKey(cfg.Auth.APIKey, "/", "/healthz", "/readyz", "/metrics", "/static/"))
	}
	// No request timeout: a worker run has no upper bound unless
	// worker.timeout_seconds is set.

	r.Get("/", s.root)
	r.Get("/status", s.status)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	limiter := ratelimit.New(ratelimit.Config{
		RPS:   cfg.RateLimit.GenerateRPS,
		Burst: cfg.RateLimit.GenerateBurst,
	})
	r.With(ratelimit.Middleware(limiter, cfg.API.GeneratePath, func(w http.ResponseWriter) {
		writeFailure(w, http.StatusTooManyRequests, "too many requests")
	})).Post(cfg.API.GeneratePath, s.generate)
	r.Get(strings.TrimRight(cfg.API.DownloadPrefix, "/")+"/*", s.download)

	jobs := NewHistoryHandler(history, logger.Named("history"))
	r.Route("/api/jobs", func(r chi.Router) {
		r.Get("/", jobs.ListJobs)
		r.Get("/{job_id}", jobs.GetJob)
	})

	if cfg.Static.Enabled {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.Static.Dir)))
		r.Handle("/static/*", fs)
	}

	s.router = r
	s.handler = otelhttp.NewHandler(r, "docgen.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return s
}

// Handler returns the traced Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// root serves the front-end index when static hosting is on, and the status
// document otherwise.
func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Static.Enabled {
		index := filepath.Join(s.cfg.Static.Dir, "index.html")
		if info, err := os.Stat(index); err == nil && info.Mode().IsRegular() {
			http.ServeFile(w, r, index)
			return
		}
	}
	s.status(w, r)
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"output_dir": s.files.Root(),
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	failures := map[string]string{}
	if info, err := os.Stat(s.files.Root()); err != nil || !info.IsDir() {
		failures["output_dir"] = "output directory unavailable"
	}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Server.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "multipart form with a file field is required")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeFailure(w, http.StatusBadRequest, "file is required")
			return
		}
		if err != nil {
			s.writeUploadError(w, err)
			return
		}
		if part.FormName() != uploadField {
			_ = part.Close()
			continue
		}
		if part.FileName() == "" {
			writeFailure(w, http.StatusBadRequest, "file name is required")
			return
		}

		res, err := s.generator.Process(r.Context(), job.Upload{
			Filename: part.FileName(),
			Content:  part,
		})
		_ = part.Close()
		if err != nil {
			s.writeJobError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
}

func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		writeFailure(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit))
		return
	}
	writeFailure(w, http.StatusBadRequest, "malformed multipart body")
}

func (s *Server) writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		s.writeUploadError(w, err)
		return
	}
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("generation failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err),
		)
	}
	writeFailure(w, status, apperrors.PublicMessage(err))
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimRight(s.cfg.API.DownloadPrefix, "/") + "/"
	raw := strings.TrimPrefix(r.URL.EscapedPath(), prefix)

	f, err := s.files.Fetch(raw)
	if err == nil {
		err = download.Serve(w, r, f)
	}
	if err != nil {
		status := apperrors.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("download failed", zap.String("name", raw), zap.Error(err))
		}
		metrics.ObserveDownload(status)
		writeError(w, status, apperrors.PublicMessage(err))
		return
	}
	metrics.ObserveDownload(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure uses the generation response shape.
func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, job.Result{Success: false, Error: msg})
}
