// Package api exposes task management and the live event stream over
// HTTP. It is a thin adapter: all task-lifecycle decisions stay in the
// orchestrator.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/taskforge-ai/taskforge/internal/core"
	"github.com/taskforge-ai/taskforge/internal/logging"
	"github.com/taskforge-ai/taskforge/internal/orchestrator"
	"github.com/taskforge-ai/taskforge/internal/store"
	"github.com/taskforge-ai/taskforge/internal/web/sse"
)

// Server provides the HTTP REST API.
type Server struct {
	router     chi.Router
	tasks      *store.SQLiteStore
	orch       *orchestrator.Orchestrator
	workspaces core.WorkspaceProvisioner
	stream     *sse.Handler
	logger     *logging.Logger
	cors       []string
}

// Option configures the server.
type Option func(*Server)

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.cors = origins
	}
}

// NewServer creates the API server.
func NewServer(tasks *store.SQLiteStore, orch *orchestrator.Orchestrator, workspaces core.WorkspaceProvisioner, stream *sse.Handler, logger *logging.Logger, opts ...Option) *Server {
	s := &Server{
		tasks:      tasks,
		orch:       orch,
		workspaces: workspaces,
		stream:     stream,
		logger:     logger,
		cors:       []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.cors,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)

			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/start", s.handleStartTask)
				r.Post("/cancel", s.handleCancelTask)
				r.Post("/approve", s.handleApproveTask)
				r.Post("/feedback", s.handleSendFeedback)
				r.Get("/feedback", s.handleFeedbackHistory)
				r.Post("/extend", s.handleExtendTimeout)
				r.Get("/diff", s.handleTaskDiff)
				r.Get("/files", s.handleTaskChangedFiles)
			})
		})

		r.Get("/events", s.stream.ServeHTTP)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": len(s.orch.ActiveSessions()),
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
