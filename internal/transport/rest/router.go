// Package rest exposes the interview engine over HTTP.
package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/spigell/grant-interviewer/internal/interview"
	"github.com/spigell/grant-interviewer/internal/logger"
)

// Engine is the interview boundary served by the API.
type Engine interface {
	StartInterview(ctx context.Context, sessionID string) (string, error)
	SubmitAnswer(ctx context.Context, sessionID, answer string) (interview.NextAction, error)
	AbandonInterview(ctx context.Context, sessionID string) error
	Status(ctx context.Context, sessionID string) (interview.StatusReport, error)
}

// RequestObserver records request latency.
type RequestObserver interface {
	ObserveRequest(route string, code int, elapsed time.Duration)
}

type Options struct {
	Engine Engine
	// Metrics, when set, is mounted at /metrics.
	Metrics  http.Handler
	Observer RequestObserver
	Logger   *zap.Logger
}

// NewRouter creates the API router with all endpoints.
func NewRouter(opts Options) http.Handler {
	log := logger.WithFields(opts.Logger, zap.String("component", "rest"))
	h := &handler{engine: opts.Engine, logger: log}

	r := mux.NewRouter()
	r.Use(observe(opts.Observer, log))

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/interviews", h.start).Methods(http.MethodPost)
	v1.HandleFunc("/interviews/{id}", h.status).Methods(http.MethodGet)
	v1.HandleFunc("/interviews/{id}/answers", h.answer).Methods(http.MethodPost)
	v1.HandleFunc("/interviews/{id}/abandon", h.abandon).Methods(http.MethodPost)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func observe(observer RequestObserver, log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			elapsed := time.Since(start)

			if observer != nil {
				observer.ObserveRequest(route, rec.code, elapsed)
			}
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("code", rec.code),
				zap.Duration("elapsed", elapsed),
			)
		})
	}
}
