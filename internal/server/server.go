package server

import (
	"fmt"
	"net/http"

	"github.com/cascadesearch/cascade/pkg/config"
	"github.com/cascadesearch/cascade/pkg/health"
	"github.com/cascadesearch/cascade/pkg/metrics"
	"github.com/cascadesearch/cascade/pkg/middleware"
)

// Router assembles the API routes and middleware chain. met may be nil.
func Router(cfg config.ServerConfig, h *Handler, checker *health.Checker, met *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/documents", h.Index)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	if met != nil {
		chain = middleware.Metrics(met)(chain)
	}
	if cfg.WriteTimeout > 0 {
		chain = middleware.Timeout(cfg.WriteTimeout)(chain)
	}
	chain = middleware.RequestID(chain)
	return chain
}

// New creates the HTTP server.
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
