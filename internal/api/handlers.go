// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

// Package api exposes the HTTP surface of the EDL service: the JSON control
// endpoints under /api, the live event streams (SSE and WebSocket), the
// plaintext EDL feed and the Prometheus metrics endpoint.
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/koas-mih/Starlink-IP-EDL/internal/logging"
	"github.com/koas-mih/Starlink-IP-EDL/internal/models"
	"github.com/koas-mih/Starlink-IP-EDL/internal/notify"
	"github.com/koas-mih/Starlink-IP-EDL/internal/scheduler"
	"github.com/koas-mih/Starlink-IP-EDL/internal/store"
)

// Handler serves all HTTP endpoints. It reads through the store and drives
// mutations through the scheduler so every state change flows through one
// code path.
type Handler struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	hub       *notify.Hub
	startTime time.Time
}

// NewHandler creates a Handler.
func NewHandler(st *store.Store, sched *scheduler.Scheduler, hub *notify.Hub) *Handler {
	return &Handler{
		store:     st,
		scheduler: sched,
		hub:       hub,
		startTime: time.Now(),
	}
}

// Settings handles GET /api/settings.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Settings())
}

// UpdateInterval handles POST /api/update-interval. Absent fields leave the
// current value unchanged; an interval below 1 is silently ignored.
func (h *Handler) UpdateInterval(w http.ResponseWriter, r *http.Request) {
	var update models.SettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeActionError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := h.scheduler.ApplySettings(r.Context(), update); err != nil {
		writeActionError(w, r, http.StatusInternalServerError, "failed to persist settings", err)
		return
	}

	writeJSON(w, http.StatusOK, actionResult{Success: true})
}

// Changelog handles GET /api/changelog.
func (h *Handler) Changelog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"changelog": h.store.Changelog(),
	})
}

// LastUpdated handles GET /api/last-updated.
func (h *Handler) LastUpdated(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lastUpdated": h.store.LastUpdated(),
	})
}

// TriggerUpdate handles POST /api/trigger-update. Guard rejections (a cycle
// already in flight, or the minimum inter-update gap) return 409; upstream
// failures return 500. Either way the cached list keeps being served.
func (h *Handler) TriggerUpdate(w http.ResponseWriter, r *http.Request) {
	err := h.scheduler.TriggerNow(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, actionResult{Success: true})
	case errors.Is(err, scheduler.ErrUpdateInProgress), errors.Is(err, scheduler.ErrThrottled):
		writeActionError(w, r, http.StatusConflict, err.Error(), nil)
	default:
		writeActionError(w, r, http.StatusInternalServerError, "update failed: "+err.Error(), err)
	}
}

// EDLText handles GET /edl.txt: the newline-joined CIDR list consumed by
// firewalls as an external dynamic list. An empty cache is a 404 so EDL
// consumers do not install an empty ruleset.
func (h *Handler) EDLText(w http.ResponseWriter, r *http.Request) {
	addresses := h.store.Addresses()
	if len(addresses) == 0 {
		http.Error(w, "no addresses available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(strings.Join(addresses, "\n") + "\n")); err != nil {
		logger := logging.Ctx(r.Context())
		logger.Error().Err(err).Msg("Failed to write EDL response")
	}
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondEnvelope(w, http.StatusOK, models.HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		AddressCount:  len(h.store.Addresses()),
		Subscribers:   h.hub.SubscriberCount(),
		LastUpdated:   h.store.LastUpdated(),
	}, nil)
}
