// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/koas-mih/Starlink-IP-EDL/internal/logging"
	"github.com/koas-mih/Starlink-IP-EDL/internal/models"
)

// sanitizeLogValue removes control characters from strings to prevent log
// injection. Newlines and other control characters could otherwise forge
// log entries.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// writeJSON sends a compact JSON body. The data-plane endpoints keep the
// flat shapes their existing clients expect, so this takes any value rather
// than an envelope.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("ETag", generateETag(data))
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// generateETag creates a simple ETag from data using FNV-1a hash.
func generateETag(data []byte) string {
	hash := uint32(2166136261)
	for _, b := range data {
		hash ^= uint32(b)
		hash *= 16777619
	}
	return strconv.FormatUint(uint64(hash), 16)
}

// actionResult is the body of the mutating endpoints.
type actionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// writeActionError sends {"success":false,"error":...} with the given
// status and logs the underlying cause.
func writeActionError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	if err != nil {
		logger := logging.Ctx(r.Context())
		logger.Error().
			Str("path", r.URL.Path).
			Str("error", sanitizeLogValue(err.Error())).
			Msg("API request failed")
	}
	writeJSON(w, status, actionResult{Success: false, Error: message})
}

// respondEnvelope sends the standard envelope used by the operational
// endpoints (health).
func respondEnvelope(w http.ResponseWriter, status int, data interface{}, apiErr *models.APIError) {
	resp := &models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error:    apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	}
	writeJSON(w, status, resp)
}
