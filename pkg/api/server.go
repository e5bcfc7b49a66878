package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/coscribe/coscribe/pkg/auth"
	"github.com/coscribe/coscribe/pkg/content"
	"github.com/coscribe/coscribe/pkg/docs"
	"github.com/coscribe/coscribe/pkg/gateway"
	"github.com/coscribe/coscribe/pkg/log"
	"github.com/coscribe/coscribe/pkg/metrics"
	"github.com/coscribe/coscribe/pkg/queue"
	"github.com/coscribe/coscribe/pkg/types"
)

// Server is the HTTP surface of the hub: the update intake, the queue
// admin endpoints, health, metrics and the websocket mount.
type Server struct {
	verifier *auth.Verifier
	gateway  docs.Gateway
	cache    *content.Cache
	queue    *queue.Queue
	hub      *gateway.Hub

	http   *http.Server
	logger zerolog.Logger
}

// NewServer wires the HTTP surface.
func NewServer(verifier *auth.Verifier, gw docs.Gateway, cache *content.Cache, q *queue.Queue, hub *gateway.Hub) *Server {
	s := &Server{
		verifier: verifier,
		gateway:  gw,
		cache:    cache,
		queue:    q,
		hub:      hub,
		logger:   log.WithComponent("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/ws", hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/documents/{id}", s.handleDocumentUpdate)
		r.Get("/queue/stats", s.handleQueueStats)
		r.Get("/queue/failed", s.handleQueueFailed)
		r.Post("/queue/failed/{jobId}/retry", s.handleQueueRetry)
		r.Delete("/queue", s.handleQueueClear)
	})

	s.http = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	s.logger.Info().Str("addr", addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

type principalKey struct{}

// authenticate verifies the Authorization bearer token and stores the
// principal on the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		principal, err := s.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)))
	})
}

func principalFrom(r *http.Request) *types.Principal {
	p, _ := r.Context().Value(principalKey{}).(*types.Principal)
	return p
}

type updateRequest struct {
	Title *string `json:"title"`
	Body  *string `json:"body"`
}

type updateResponse struct {
	JobID  *string `json:"jobId"`
	Status string  `json:"status"`
	Reason string  `json:"reason,omitempty"`
}

// handleDocumentUpdate is the synchronous intake: authorize, skip no-ops
// via the content cache, enqueue persistence and return immediately.
func (s *Server) handleDocumentUpdate(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	documentID := chi.URLParam(r, "id")

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.IntakeRequestsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == nil && req.Body == nil {
		metrics.IntakeRequestsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	if err := s.gateway.CanEdit(r.Context(), principal.ID, documentID); err != nil {
		metrics.IntakeRequestsTotal.WithLabelValues("denied").Inc()
		switch {
		case errors.Is(err, docs.ErrNotFound):
			writeError(w, http.StatusNotFound, "document not found")
		case errors.Is(err, docs.ErrPermissionDenied):
			writeError(w, http.StatusForbidden, "not a collaborator")
		default:
			writeError(w, http.StatusBadGateway, "authorization unavailable")
		}
		return
	}

	check := s.cache.HasChanged(r.Context(), documentID, req.Body, req.Title)
	if !check.Changed {
		metrics.IntakeRequestsTotal.WithLabelValues("skipped").Inc()
		writeJSON(w, http.StatusOK, updateResponse{Status: "skipped", Reason: "no_changes"})
		return
	}

	job, err := s.queue.Enqueue(r.Context(), types.JobTypeDocumentUpdate, &types.DocumentUpdate{
		DocumentID:  documentID,
		PrincipalID: principal.ID,
		Title:       req.Title,
		Body:        req.Body,
	})
	if err != nil {
		metrics.IntakeRequestsTotal.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Str("document_id", documentID).Msg("enqueue failed")
		writeError(w, http.StatusServiceUnavailable, "persistence queue unavailable")
		return
	}

	metrics.IntakeRequestsTotal.WithLabelValues("queued").Inc()
	writeJSON(w, http.StatusOK, updateResponse{JobID: &job.ID, Status: "queued"})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleQueueFailed(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.queue.FailedJobs(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	job, err := s.queue.RetryFailed(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found in dead-letter list")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jobId": job.ID, "status": "queued"})
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Clear(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.hub.LocalConnections(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
