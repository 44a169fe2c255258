package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxRequestBody caps JSON request bodies
const maxRequestBody = 1 << 20

func (s *Server) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logging)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(s.cors)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/health", s.handleHealth)
		r.Post("/scan-qr", s.handleScanQR)
		r.Post("/spider-scan", s.handleSpiderScan)
		r.Post("/spider-scan-stream", s.handleSpiderScanStream)
	})

	return r
}
