package httpserver

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"odiadev-tts-gateway/internal/handlers"
	"odiadev-tts-gateway/internal/metrics"
	"odiadev-tts-gateway/internal/middleware"
)

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, tts *handlers.TTSHandler, admin *handlers.AdminHandler) {

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())               // panic recovery
	r.Use(middleware.Timeout(60 * time.Second)) // synthesis wall-clock budget
	r.Use(middleware.MaxBodySize(64 * 1024))    // 64 KB max body

	// routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/tts", tts.Synthesize)
		r.Get("/voices", tts.ListVoices)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/keys/issue", admin.IssueKey)
	})

	r.Get("/health", tts.Health)

	r.Handle("/metrics", metrics.Handler())
}
