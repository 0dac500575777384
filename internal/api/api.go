// Package api exposes the test controller and the stored results over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/roman-kulish/temfield/internal/control"
	"github.com/roman-kulish/temfield/internal/result"
	"github.com/roman-kulish/temfield/internal/sequencer"
	"github.com/roman-kulish/temfield/internal/storage"
	"github.com/roman-kulish/temfield/internal/sweep"
	"github.com/roman-kulish/temfield/internal/telemetry"
)

// Controller is the control surface served by the API. It is satisfied by
// *control.Controller.
type Controller interface {
	Dispatch(ctx context.Context, cmd control.Command) error
	Configure(ctx context.Context, r sweep.FrequencyRange, dwell time.Duration) error
	Status(ctx context.Context) (control.Status, error)
	Plan(ctx context.Context) (sweep.Plan, time.Duration, error)
}

// Results reads stored sessions. It is satisfied by *storage.SqliteStore.
type Results interface {
	Session(ctx context.Context, id int64) (*result.Session, error)
	Sessions(ctx context.Context) ([]*result.Session, error)
	Points(ctx context.Context, sessionID int64, opts ...storage.ReaderOption) ([]result.PointWithTelemetry, error)
}

// WithLogger sets the logger for request logging
func WithLogger(logger *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "api"))
	}
}

// WithAllowedOrigins sets the CORS origins allowed to call the API
func WithAllowedOrigins(origins ...string) func(*Server) {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithTelemetry serves the latest probe reading of provider
func WithTelemetry(provider telemetry.Provider) func(*Server) {
	return func(s *Server) {
		s.telemetry = provider
	}
}

// Server routes HTTP requests to the controller and the result store.
type Server struct {
	ctrl      Controller
	results   Results
	telemetry telemetry.Provider
	origins   []string
	router    chi.Router
	logger    *slog.Logger
}

// New creates a Server. results may be nil, in which case the session
// routes are not mounted.
func New(ctrl Controller, results Results, options ...func(*Server)) *Server {
	s := Server{
		ctrl:    ctrl,
		results: results,
		origins: []string{"*"},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	s.router = s.routes()
	return &s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/status", s.status)
	r.Get("/plan", s.plan)
	r.Put("/plan", s.configure)
	r.Post("/commands/{command}", s.command)

	if s.telemetry != nil {
		r.Get("/telemetry", s.latestTelemetry)
	}

	if s.results != nil {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.sessions)
			r.Get("/{id}", s.session)
			r.Get("/{id}/points", s.points)
			r.Get("/{id}/table.csv", s.table)
		})
	}

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("requestID", middleware.GetReqID(r.Context())))
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sweep.ErrInvalidParameter), errors.Is(err, control.ErrUnknownCommand), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, sequencer.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, control.ErrLoopStopped):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error(err.Error())
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
