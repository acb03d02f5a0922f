// Package api exposes unit tracking and the DNM registry over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailhaus/internal/suppression"
	"github.com/sells-group/mailhaus/internal/tracker"
	"github.com/sells-group/mailhaus/pkg/radar"
)

// Server serves the operator API.
type Server struct {
	tracker *tracker.Tracker
	gate    *suppression.Gate
	radar   radar.Client
	log     *zap.Logger
}

// New creates a Server. rc is only used to size criteria submissions that
// omit a total and may be nil.
func New(tr *tracker.Tracker, gate *suppression.Gate, rc radar.Client) *Server {
	return &Server{
		tracker: tr,
		gate:    gate,
		radar:   rc,
		log:     zap.L().With(zap.String("component", "api")),
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, s.requestLogger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/units", func(r chi.Router) {
		r.Post("/file", s.submitFile)
		r.Post("/criteria", s.submitCriteria)
		r.Get("/", s.listUnits)
		r.Get("/stuck", s.stuckUnits)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getUnit)
			r.Get("/progress", s.unitProgress)
			r.Get("/logs", s.unitLogs)
			r.Post("/reset", s.resetUnit)
		})
	})

	r.Route("/dnm", func(r chi.Router) {
		r.Post("/", s.addDnm)
		r.Get("/", s.listDnm)
		r.Get("/check", s.checkDnm)
		r.Delete("/{id}", s.removeDnm)
	})
	return r
}

// ListenAndServe serves on port until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "api: listen")
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
