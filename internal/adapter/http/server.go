package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/tide-data-service/internal/adapter/upstream"
	"github.com/couchcryptid/tide-data-service/internal/coordinator"
	"github.com/couchcryptid/tide-data-service/internal/domain"
)

// Querier is the query surface served over HTTP. *coordinator.Service
// satisfies it.
type Querier interface {
	sharedobs.ReadinessChecker
	Harbors() []domain.Harbor
	Status(harborID string) (coordinator.Status, error)
	GetView(harborID string) (domain.View, error)
	GetTideEvents(ctx context.Context, harborID string) (map[string][]domain.TideEvent, error)
	GetCoefficients(ctx context.Context, harborID, date string, days int) (map[string][]string, error)
	GetWaterLevels(ctx context.Context, harborID, date string) ([]domain.WaterLevelSample, error)
	GetWaterTemperature(ctx context.Context, harborID, date string) (map[string][]domain.WaterTempSample, error)
	Reinitialize(ctx context.Context, harborID string) ([]domain.Kind, error)
}

// Server exposes the query API plus health, readiness and metrics endpoints.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	query      Querier
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewServer creates the HTTP server. Write timeouts leave room for upstream
// fetches on cache misses, which retry with backoff.
func NewServer(addr string, query Querier, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      5 * time.Minute,
			IdleTimeout:       60 * time.Second,
		},
		router:   r,
		query:    query,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(query))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/harbors", func(r chi.Router) {
		r.Get("/", s.handleHarbors)
		r.Route("/{harbor}", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/view", s.handleView)
			r.Get("/tides", s.handleTides)
			r.Get("/coefficients", s.handleCoefficients)
			r.Get("/water-levels", s.handleWaterLevels)
			r.Get("/water-temperature", s.handleWaterTemperature)
			r.Post("/reinitialize", s.handleReinitialize)
		})
	})

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the router, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrUnknownHarbor):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidDate), errors.Is(err, coordinator.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, upstream.ErrFetchFailed):
		return http.StatusBadGateway
	case errors.Is(err, coordinator.ErrNoView), errors.Is(err, coordinator.ErrInvalidCache):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	reqID := middleware.GetReqID(r.Context())
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", reqID, "error", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), RequestID: reqID})
}
