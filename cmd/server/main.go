// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

// Package main is the entry point for the Starlink IP EDL server.
//
// The service maintains a deduplicated list of Starlink IPv4 CIDR blocks
// scraped from the public geoip feed and distributes it as a firewall
// external dynamic list (plaintext) alongside a JSON control API and live
// event streams.
//
// Startup order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, optional YAML
//     file, environment variables)
//  2. Logging: global zerolog logger
//  3. State store: single JSON document loaded from disk
//  4. Notification hub, fetcher and refresh scheduler
//  5. HTTP server: chi router with the API, feed and metrics endpoints
//  6. Supervision tree: suture keeps the hub, scheduler and server alive
//
// The server shuts down gracefully on SIGINT and SIGTERM: the scheduler
// finishes an in-flight refresh cycle, subscriber channels are closed and
// the HTTP server drains within the configured timeout.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/koas-mih/Starlink-IP-EDL/internal/api"
	"github.com/koas-mih/Starlink-IP-EDL/internal/config"
	"github.com/koas-mih/Starlink-IP-EDL/internal/fetch"
	"github.com/koas-mih/Starlink-IP-EDL/internal/logging"
	"github.com/koas-mih/Starlink-IP-EDL/internal/notify"
	"github.com/koas-mih/Starlink-IP-EDL/internal/scheduler"
	"github.com/koas-mih/Starlink-IP-EDL/internal/store"
	"github.com/koas-mih/Starlink-IP-EDL/internal/supervisor"
	"github.com/koas-mih/Starlink-IP-EDL/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init(logging.DefaultConfig())
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("feed_url", cfg.Feed.URL).
		Str("state_path", cfg.Storage.StatePath).
		Msg("Starting Starlink IP EDL service")

	st, err := store.Open(cfg.Storage.StatePath)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Storage.StatePath).Msg("Failed to open state store")
	}
	if st.FirstRun() {
		// Seed the schedule from configuration; from here on the interval
		// and enabled flag are runtime state changed through the API.
		if err := st.SetSchedule(&cfg.Scheduler.InitialIntervalMinutes, &cfg.Scheduler.InitialAutoUpdate); err != nil {
			logging.Warn().Err(err).Msg("Failed to seed initial schedule")
		}
	}

	hub := notify.NewHub(st.Settings)

	fetcher := fetch.New(fetch.Config{
		TargetURL:               cfg.Feed.URL,
		AttemptTimeout:          cfg.Feed.AttemptTimeout,
		BreakerFailureThreshold: cfg.Feed.BreakerFailureThreshold,
		BreakerOpenTimeout:      cfg.Feed.BreakerOpenTimeout,
	}, fetch.DefaultSources())

	sched := scheduler.New(scheduler.Config{
		MinUpdateGap: cfg.Scheduler.MinUpdateGap,
	}, st, fetcher, hub)

	router := api.NewRouter(api.NewHandler(st, sched, hub), cfg.Security)
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		IdleTimeout:  2 * cfg.Server.Timeout,
		// No WriteTimeout: SSE and websocket connections are long-lived.
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddMessagingService(services.NewSchedulerService(sched))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervision tree exited with error")
		os.Exit(1)
	}

	logging.Info().Msg("Shutdown complete")
}
