// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

// Package metrics provides Prometheus instrumentation for the EDL service:
// feed fetch attempts per source, refresh cycle outcomes and duration,
// address list and changelog sizes, live subscriber counts and API
// endpoint latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed fetch metrics
	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edl_fetch_attempts_total",
			Help: "Total number of feed fetch attempts by source",
		},
		[]string{"source"},
	)

	FetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edl_fetch_failures_total",
			Help: "Total number of failed feed fetch attempts by source",
		},
		[]string{"source"},
	)

	// Refresh cycle metrics
	RefreshCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edl_refresh_cycles_total",
			Help: "Total number of refresh cycles by outcome",
		},
		[]string{"outcome"}, // "success", "fetch_failed", "empty_result", "persist_failed", "skipped"
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edl_refresh_duration_seconds",
			Help:    "Duration of refresh cycles in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// State metrics
	AddressCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edl_addresses",
			Help: "Current number of CIDR blocks in the address list",
		},
	)

	ChangelogEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edl_changelog_entries",
			Help: "Current number of changelog entries",
		},
	)

	// Live subscriber metrics
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edl_subscribers",
			Help: "Current number of live update subscribers (SSE and WebSocket)",
		},
	)

	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edl_events_broadcast_total",
			Help: "Total number of events broadcast to subscribers by type",
		},
		[]string{"type"},
	)

	// API endpoint metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)
)

// RecordFetchAttempt increments the attempt counter for a source.
func RecordFetchAttempt(source string) {
	FetchAttempts.WithLabelValues(source).Inc()
}

// RecordFetchFailure increments the failure counter for a source.
func RecordFetchFailure(source string) {
	FetchFailures.WithLabelValues(source).Inc()
}

// RecordRefreshCycle records the outcome and duration of a refresh cycle.
func RecordRefreshCycle(outcome string, duration time.Duration) {
	RefreshCycles.WithLabelValues(outcome).Inc()
	RefreshDuration.Observe(duration.Seconds())
}

// UpdateStateGauges refreshes the address list and changelog size gauges.
func UpdateStateGauges(addresses, changelogEntries int) {
	AddressCount.Set(float64(addresses))
	ChangelogEntries.Set(float64(changelogEntries))
}

// RecordBroadcast increments the broadcast counter for an event type.
func RecordBroadcast(eventType string) {
	EventsBroadcast.WithLabelValues(eventType).Inc()
}

// RecordAPIRequest records a completed API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
