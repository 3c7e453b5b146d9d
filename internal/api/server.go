// Package api serves the operator HTTP interface used by the web dashboard
// and the scheduler.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/footron/footron/internal/controller"
	"github.com/footron/footron/internal/log"
	"github.com/footron/footron/internal/messaging"
	"github.com/footron/footron/internal/placard"
	"github.com/footron/footron/internal/releases"
)

// Server wires the operator routes and the messaging endpoints onto one
// listener.
type Server struct {
	controller *controller.Controller
	placard    placard.API
	messaging  *messaging.Router
	releases   *releases.Store
	logger     zerolog.Logger

	http *http.Server
}

func NewServer(addr string, ctrl *controller.Controller, placardAPI placard.API, msgRouter *messaging.Router, releaseStore *releases.Store) *Server {
	s := &Server{
		controller: ctrl,
		placard:    placardAPI,
		messaging:  msgRouter,
		releases:   releaseStore,
		logger:     log.WithComponent("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(120, time.Minute))

		r.Get("/experiences", s.handleExperiences)
		r.Get("/experiences/{id}", s.handleExperience)
		r.Get("/collections", s.handleCollections)
		r.Get("/collections/{id}", s.handleCollection)
		r.Get("/tags", s.handleTags)
		r.Get("/folders", s.handleFolders)

		r.Get("/current", s.handleCurrentGet)
		r.Put("/current", s.handleCurrentPut)
		r.Patch("/current", s.handleCurrentPatch)

		r.Get("/reload", s.handleReload)

		r.Get("/placard/experience", s.handlePlacardExperienceGet)
		r.Patch("/placard/experience", s.handlePlacardExperiencePatch)
		r.Get("/placard/url", s.handlePlacardURLGet)
		r.Patch("/placard/url", s.handlePlacardURLPatch)

		r.Get("/screenshot", s.handleScreenshot)
		r.Get("/colors/{id}", s.handleColors)

		r.Get("/releases/{id}", s.handleReleasesList)
		r.Put("/releases/{id}/{hash}", s.handleReleaseCreate)
		r.Post("/releases/{id}/{hash}/activate", s.handleReleaseActivate)
	})

	// Websockets are long-lived; rate limiting them starves reconnects.
	s.messaging.Mount(r)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context ends, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return s.http.Close()
	}
	return nil
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			requestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
			logger.Debug().
				Str("event", "api.request").
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request served")
		})
	}
}
