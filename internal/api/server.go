// Package api exposes the HTTP interface for the miner service: health and
// status probes, artifact reads, source management, scrape control, the
// ingest endpoint, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/histocoin/artifact-miner/internal/artifact"
	"github.com/histocoin/artifact-miner/internal/metrics"
	"github.com/histocoin/artifact-miner/internal/scraper"
	"github.com/histocoin/artifact-miner/internal/status"
)

const (
	defaultArtifactLimit = 50
	maxArtifactLimit     = 500
	requestTimeout       = 60 * time.Second
)

// ScrapeController is the orchestrator surface the handlers drive.
type ScrapeController interface {
	Start(ctx context.Context, opts scraper.RunOptions) error
	Stop()
	Running() bool
}

// ReachabilityChecker probes whether a new source URL answers at all.
type ReachabilityChecker interface {
	CheckReachable(ctx context.Context, url string) (bool, string)
}

// Server wires HTTP handlers to the record store and orchestrator.
type Server struct {
	router  chi.Router
	store   artifact.RecordStore
	control ScrapeController
	tracker *status.Tracker
	checker ReachabilityChecker
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. checker may be
// nil to skip reachability probes on source creation.
func NewServer(
	store artifact.RecordStore,
	control ScrapeController,
	tracker *status.Tracker,
	checker ReachabilityChecker,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:   store,
		control: control,
		tracker: tracker,
		checker: checker,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/status", s.getStatus)
	r.Get("/stats", s.getStats)
	r.Get("/artifacts", s.listArtifacts)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/sources", func(r chi.Router) {
		r.Get("/", s.listSources)
		r.Post("/", s.createSource)
		r.Delete("/{source_id}", s.deleteSource)
	})

	r.Route("/scrape", func(r chi.Router) {
		r.Post("/start", s.startScrape)
		r.Post("/stop", s.stopScrape)
	})

	r.Post("/v1/ingest", s.ingest)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Snapshot(), s.logger)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountRecords(r.Context())
	if err != nil {
		s.logger.Error("counting artifacts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count artifacts", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"total_artifacts": count}, s.logger)
}

func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	limit := defaultArtifactLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", s.logger)
			return
		}
		limit = parsed
	}
	if limit > maxArtifactLimit {
		limit = maxArtifactLimit
	}

	recs, err := s.store.ListRecords(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing artifacts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list artifacts", s.logger)
		return
	}
	if recs == nil {
		recs = []artifact.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": recs}, s.logger)
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context(), "")
	if err != nil {
		s.logger.Error("listing sources failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sources", s.logger)
		return
	}
	if sources == nil {
		sources = []artifact.Source{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources}, s.logger)
}

type createSourceRequest struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

type createSourceResponse struct {
	Source    artifact.Source `json:"source"`
	Reachable bool            `json:"reachable"`
	Probe     string          `json:"probe,omitempty"`
}

func (s *Server) createSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required", s.logger)
		return
	}
	normalized, err := artifact.NormalizeBaseURL(req.BaseURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}

	// Reachability is advisory: an offline source is still registered,
	// the probe result is just reported back.
	reachable := true
	probe := ""
	if s.checker != nil {
		reachable, probe = s.checker.CheckReachable(r.Context(), normalized)
		if !reachable {
			s.logger.Warn("new source looks unreachable",
				zap.String("base_url", normalized),
				zap.String("probe", probe),
			)
		}
	}

	src, err := s.store.CreateSource(r.Context(), strings.TrimSpace(req.Name), normalized)
	if err != nil {
		if errors.Is(err, artifact.ErrDuplicate) {
			writeError(w, http.StatusConflict, "a source with this base url already exists", s.logger)
			return
		}
		s.logger.Error("creating source failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create source", s.logger)
		return
	}
	writeJSON(w, http.StatusCreated, createSourceResponse{
		Source:    src,
		Reachable: reachable,
		Probe:     probe,
	}, s.logger)
}

func (s *Server) deleteSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "source_id")
	if err := s.store.DeleteSource(r.Context(), id); err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(w, http.StatusNotFound, "source not found", s.logger)
			return
		}
		s.logger.Error("deleting source failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete source", s.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startScrape(w http.ResponseWriter, r *http.Request) {
	opts := scraper.RunOptions{
		SourceID:   strings.TrimSpace(r.URL.Query().Get("source_id")),
		Continuous: r.URL.Query().Get("continuous") == "true",
	}
	// The run outlives this request, so it gets a fresh context.
	if err := s.control.Start(context.Background(), opts); err != nil {
		if errors.Is(err, scraper.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "a scrape is already running", s.logger)
			return
		}
		s.logger.Error("starting scrape failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start scrape", s.logger)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":    "scrape started",
		"continuous": opts.Continuous,
	}, s.logger)
}

func (s *Server) stopScrape(w http.ResponseWriter, _ *http.Request) {
	s.control.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "stop requested"}, s.logger)
}

type ingestRequest struct {
	SourceID      string         `json:"source_id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Metadata      map[string]any `json:"metadata"`
	ImageURL      string         `json:"image_url"`
	ContributorID string         `json:"contributor_id"`
	Content       string         `json:"content"`
}

// ingest accepts a contribution from a reporting node. When a record for
// (source_id, title) exists the contribution is appended to it; otherwise
// a record is created first so the contribution has a home.
func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	if req.SourceID == "" || strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "source_id and title are required", s.logger)
		return
	}
	if req.ContributorID == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "contributor_id and content are required", s.logger)
		return
	}

	contrib := artifact.Contribution{
		ContributorID: req.ContributorID,
		Content:       req.Content,
	}

	rec, err := s.store.FindRecord(r.Context(), req.SourceID, req.Title)
	created := false
	switch {
	case err == nil:
	case errors.Is(err, artifact.ErrNotFound):
		rec, err = s.store.InsertRecord(r.Context(), artifact.Candidate{
			SourceID:    req.SourceID,
			Title:       req.Title,
			Description: req.Description,
			Metadata:    req.Metadata,
			ImageURL:    req.ImageURL,
		})
		if errors.Is(err, artifact.ErrDuplicate) {
			// Another node created the record between find and insert.
			rec, err = s.store.FindRecord(r.Context(), req.SourceID, req.Title)
		}
		if err != nil {
			s.logger.Error("ingest insert failed", zap.String("title", req.Title), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to store artifact", s.logger)
			return
		}
		created = true
	default:
		s.logger.Error("ingest lookup failed", zap.String("title", req.Title), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to look up artifact", s.logger)
		return
	}

	if err := s.store.AppendContribution(r.Context(), rec.ID, contrib); err != nil {
		s.logger.Error("ingest append failed", zap.String("record_id", rec.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to append contribution", s.logger)
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, map[string]any{
		"record_id": rec.ID,
		"created":   created,
	}, s.logger)
}
