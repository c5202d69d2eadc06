// Package http serves the read-only operational endpoints: health, Prometheus metrics, the
// published regime, single-code explanations and the last EOD decision.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalgate/internal/application/pipeline"
	"github.com/sawpanic/signalgate/internal/config"
	"github.com/sawpanic/signalgate/internal/domain/regime"
	"github.com/sawpanic/signalgate/internal/eod"
	"github.com/sawpanic/signalgate/internal/metrics"
	"github.com/sawpanic/signalgate/internal/providers"
)

// Evaluator explains one code on demand
type Evaluator interface {
	EvaluateCode(ctx context.Context, code string) pipeline.EvaluationResult
}

// DecisionSource exposes the most recent EOD decision
type DecisionSource interface {
	Last() (eod.Decision, bool)
}

// Deps are the collaborators behind the endpoints. Nil members disable their routes.
type Deps struct {
	Metrics   *metrics.Registry
	Regimes   *regime.Store
	Detector  *regime.Detector
	Evaluator Evaluator
	EOD       DecisionSource
	Guards    []*providers.Guard
	Version   string
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// Server is the HTTP front of a running signalgate process
type Server struct {
	router *mux.Router
	server *http.Server
	config config.ServerConfig
	deps   Deps
}

// NewServer builds the router; call Start to listen
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{router: mux.NewRouter(), config: cfg, deps: deps}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.timeoutMiddleware)
	api.Use(jsonContentTypeMiddleware)

	api.Handle("/health", NewHealthHandler(s.deps.Regimes, s.deps.Detector, s.deps.Guards, s.deps.Version)).Methods(http.MethodGet)
	if s.deps.Regimes != nil {
		api.HandleFunc("/regime", s.regime).Methods(http.MethodGet)
		api.HandleFunc("/regime/history", s.regimeHistory).Methods(http.MethodGet)
	}
	if s.deps.Evaluator != nil {
		api.HandleFunc("/explain/{code}", s.explain).Methods(http.MethodGet)
	}
	if s.deps.EOD != nil {
		api.HandleFunc("/eod/last", s.lastDecision).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = jsonContentTypeMiddleware(http.HandlerFunc(notFound))
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler { return s.router }

// Start listens until Shutdown; a clean shutdown returns nil
func (s *Server) Start() error {
	log.Info().Str("addr", s.config.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID)))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Debug().
			Str("request_id", requestID(r)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// responseWrapper captures the status code for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
