package history

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleettag/pkg/metrics"
	"fleettag/pkg/telemetry"
)

const (
	serviceName      = "fleettag-history"
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// Presigner issues download links for archived tag files. *s3.Client implements it.
type Presigner interface {
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// StatsSource aggregates stored results. *PGStore implements it.
type StatsSource interface {
	Stats(ctx context.Context) (Stats, error)
	CategoryStats(ctx context.Context) ([]CategoryStats, error)
}

// ServerConfig wires the API's dependencies. Only Reader is required.
type ServerConfig struct {
	Reader     Reader
	Stats      StatsSource
	Ready      func(ctx context.Context) error
	Presigner  Presigner
	Bucket     string
	PresignTTL time.Duration
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
	RateLimit  int
}

// Server serves run history over HTTP.
type Server struct {
	cfg ServerConfig
}

// NewServer validates cfg and applies defaults.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Reader == nil {
		return nil, errors.New("reader is required")
	}
	if cfg.Presigner != nil && strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket is required with a presigner")
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	return &Server{cfg: cfg}, nil
}

// Routes constructs the chi router containing all endpoints.
func (s *Server) Routes() (http.Handler, error) {
	if s == nil {
		return nil, errors.New("nil server")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(telemetry.Middleware(serviceName, s.cfg.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Get("/runs/{runID}/files", s.handleRunFiles)
		r.Get("/files/{fileID}", s.handleGetFile)
		r.Get("/files/{fileID}/missing", s.handleMissing)
		r.Get("/files/{fileID}/archive", s.handleArchive)
		r.Get("/stats", s.handleStats)
	})

	return r, nil
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil {
		ctx, cancel := withTimeout(r.Context())
		defer cancel()
		if err := s.cfg.Ready(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = min(parsed, maxRunsLimit)
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	runs, err := s.cfg.Reader.ListRuns(ctx, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "runID")
	if !ok {
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	run, err := s.cfg.Reader.GetRun(ctx, id)
	if err != nil {
		respondLookupError(w, err, "run")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) handleRunFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "runID")
	if !ok {
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if _, err := s.cfg.Reader.GetRun(ctx, id); err != nil {
		respondLookupError(w, err, "run")
		return
	}
	files, err := s.cfg.Reader.RunFiles(ctx, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	file, ok := s.lookupFile(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"file": file})
}

// handleMissing returns the ids no engine updated. format=text renders them
// the way the .missing file does.
func (s *Server) handleMissing(w http.ResponseWriter, r *http.Request) {
	file, ok := s.lookupFile(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		for _, id := range file.MissingIDs {
			_, _ = fmt.Fprintf(w, "%s\r\n", id)
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"file_id": file.ID, "missing_ids": file.MissingIDs})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Presigner == nil {
		respondError(w, http.StatusNotImplemented, errors.New("archive storage is not configured"))
		return
	}
	file, ok := s.lookupFile(w, r)
	if !ok {
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	type link struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}
	links := make([]link, 0, len(file.ArchiveKeys))
	for _, key := range file.ArchiveKeys {
		url, err := s.cfg.Presigner.PresignGet(ctx, s.cfg.Bucket, key, s.cfg.PresignTTL)
		if err != nil {
			respondError(w, http.StatusBadGateway, fmt.Errorf("presign %s: %w", key, err))
			return
		}
		links = append(links, link{Key: key, URL: url})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"file_id":    file.ID,
		"archives":   links,
		"expires_at": time.Now().UTC().Add(s.cfg.PresignTTL),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stats == nil {
		respondError(w, http.StatusNotImplemented, errors.New("stats are not configured"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	totals, err := s.cfg.Stats.Stats(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	categories, err := s.cfg.Stats.CategoryStats(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"totals": totals, "categories": categories})
}

func (s *Server) lookupFile(w http.ResponseWriter, r *http.Request) (FileResult, bool) {
	id, ok := pathID(w, r, "fileID")
	if !ok {
		return FileResult{}, false
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	file, err := s.cfg.Reader.GetFile(ctx, id)
	if err != nil {
		respondLookupError(w, err, "file")
		return FileResult{}, false
	}
	return file, true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid %s", param))
		return uuid.Nil, false
	}
	return id, true
}

func respondLookupError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Errorf("%s not found", what))
		return
	}
	respondError(w, http.StatusInternalServerError, err)
}
