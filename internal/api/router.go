// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/koas-mih/Starlink-IP-EDL/internal/config"
	"github.com/koas-mih/Starlink-IP-EDL/internal/middleware"
)

// feedRateLimit is the permissive limit applied to the plaintext feed and
// the event streams. Firewalls poll /edl.txt aggressively and dashboards
// reconnect SSE on every page load; the default API limit would starve
// them.
var feedRateLimit = struct {
	requests int
	window   time.Duration
}{requests: 1000, window: time.Minute}

// Router wires the handlers into a chi mux with the shared middleware
// stack.
type Router struct {
	handler *Handler
	cfg     config.SecurityConfig
}

// NewRouter creates a Router.
func NewRouter(handler *Handler, cfg config.SecurityConfig) *Router {
	return &Router{handler: handler, cfg: cfg}
}

// chiMiddleware adapts a HandlerFunc-based middleware to chi's
// http.Handler-based middleware signature.
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// rateLimit builds an IP-keyed limiter, or a no-op when rate limiting is
// disabled.
func (rt *Router) rateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	if rt.cfg.RateLimitDisabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(requests, window)
}

// Setup builds the full route tree.
//
// Middleware order matters: the request ID must exist before anything logs,
// RealIP must rewrite RemoteAddr before the IP-keyed rate limiter reads it,
// and Recoverer wraps everything below it.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         86400,
	}))

	// Control plane: standard rate limit.
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rt.rateLimit(rt.cfg.RateLimitReqs, rt.cfg.RateLimitWindow))
			r.Use(chiMiddleware(middleware.PrometheusMetrics))

			r.Get("/settings", rt.handler.Settings)
			r.Post("/update-interval", rt.handler.UpdateInterval)
			r.Get("/changelog", rt.handler.Changelog)
			r.Get("/last-updated", rt.handler.LastUpdated)
			r.Post("/trigger-update", rt.handler.TriggerUpdate)
			r.Get("/health", rt.handler.Health)
		})

		// Event streams: long-lived connections, permissive limit on the
		// connection rate only.
		r.Group(func(r chi.Router) {
			r.Use(rt.rateLimit(feedRateLimit.requests, feedRateLimit.window))
			r.Use(chiMiddleware(middleware.PrometheusMetrics))

			r.Get("/updates", rt.handler.Updates)
			r.Get("/ws", rt.handler.WebSocket)
		})
	})

	// Data plane: the plaintext feed polled by firewalls.
	r.Group(func(r chi.Router) {
		r.Use(rt.rateLimit(feedRateLimit.requests, feedRateLimit.window))
		r.Use(chiMiddleware(middleware.PrometheusMetrics))

		r.Get("/edl.txt", rt.handler.EDLText)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
