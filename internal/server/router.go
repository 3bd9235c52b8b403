// Package server provides HTTP server setup for the ledger read API.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alphagov/pay-ledger-sub002/common/middleware"
	"github.com/alphagov/pay-ledger-sub002/internal/auth"
	"github.com/alphagov/pay-ledger-sub002/internal/config"
	"github.com/alphagov/pay-ledger-sub002/internal/handlers"
	"github.com/alphagov/pay-ledger-sub002/internal/metrics"
)

// NewRouter constructs a ServeMux with the ledger routes registered. A nil
// verifier leaves the API unauthenticated.
func NewRouter(h *handlers.Handler, verifier *auth.Verifier, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	// Health and metrics (public)
	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.HandleFunc("GET /readyz", h.ReadyCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	requireAuth := auth.RequireAuth(verifier)
	mux.Handle("GET /v1/api/event/{id}", requireAuth(http.HandlerFunc(h.GetEvents)))
	mux.Handle("GET /v1/api/{kind}/{id}", requireAuth(http.HandlerFunc(h.GetProjection)))
	mux.Handle("GET /v1/api/{kind}", requireAuth(http.HandlerFunc(h.ListProjections)))

	var handler http.Handler = mux
	handler = middleware.Recover(logger)(handler)
	handler = middleware.AccessLog(logger, routeLabel, observe)(handler)
	return middleware.RequestID(handler)
}

// NewServer wraps handler in an http.Server configured from cfg.
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}

func observe(method, route string, status int, elapsed time.Duration) {
	metrics.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	metrics.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
