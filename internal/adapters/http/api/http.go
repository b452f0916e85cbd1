// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	repository "github.com/okian/coachboard/internal/adapters/repository"
	service "github.com/okian/coachboard/internal/app"
	"github.com/okian/coachboard/internal/domain/model"
	"github.com/okian/coachboard/pkg/logger"
	"github.com/okian/coachboard/pkg/metrics"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	CreateAthlete(ctx context.Context, in model.AthleteInput) (model.Athlete, error)
	ListAthletes(ctx context.Context, coach string) ([]model.Athlete, error)
	UpdateAthlete(ctx context.Context, id string, in model.AthleteInput, previousName string) (model.Athlete, error)
	DeleteAthlete(ctx context.Context, id string) error

	CreateEvaluation(ctx context.Context, in model.EvaluationInput) (model.Evaluation, error)
	ListEvaluations(ctx context.Context, coach string) ([]model.Evaluation, error)
	DeleteEvaluation(ctx context.Context, id string) error
	DeleteEvaluationsByAthlete(ctx context.Context, athlete string) (int64, error)
	DeleteAllEvaluations(ctx context.Context) (int64, error)

	Dashboard(ctx context.Context, coach string) (service.Dashboard, error)
	AthleteView(ctx context.Context, selection string) (service.AthleteView, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

const defaultRequestTimeout = 15 * time.Second

// Server wires HTTP routes for the business API.
type Server struct {
	deps           Dependencies
	allowedOrigins []string
	requestTimeout time.Duration
	logger         logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS origins. Defaults to any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.allowedOrigins = origins
		}
	}
}

// WithRequestTimeout bounds every request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server. logger.Init must have been called
// unless WithLogger is given.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:           deps,
		allowedOrigins: []string{"*"},
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("http")
	}
	return s
}

// Router returns a chi router carrying the middleware stack and every API
// route. Callers may mount further routes on it.
func (s *Server) Router(ctx context.Context) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(MetricsMiddleware)
	s.Register(ctx, r)
	return r
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))

		r.Get("/athletes", s.handleListAthletes)
		r.Post("/athletes", s.handleCreateAthlete)
		r.Put("/athletes", s.handleUpdateAthlete)
		r.Delete("/athletes", s.handleDeleteAthlete)

		r.Get("/evaluations", s.handleListEvaluations)
		r.Post("/evaluations", s.handleCreateEvaluation)
		r.Delete("/evaluations", s.handleDeleteEvaluations)

		r.Get("/dashboard", s.handleDashboard)
		r.Get("/athlete-view", s.handleAthleteView)
	})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type okResponse struct {
	OK           bool   `json:"ok"`
	DeletedCount *int64 `json:"deletedCount,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail maps err onto a status code and writes it. Server-side failures are
// logged; their details are not sent to the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	default:
		s.logger.Error(r.Context(), "request failed",
			logger.String("op", op),
			logger.String("requestID", middleware.GetReqID(r.Context())),
			logger.Error(err),
		)
		metrics.RecordErrorByType("storage_error", "high")
		writeError(w, http.StatusInternalServerError, "internal_error", NewKind(op, ErrInternal))
	}
}
