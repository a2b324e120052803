// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

package models

import (
	"time"
)

// Event types pushed to live subscribers (SSE and WebSocket).
const (
	// EventConnected is sent once to each new subscriber and carries a
	// Settings snapshot.
	EventConnected = "connected"

	// EventUpdate is sent after a refresh cycle persists a new address
	// list and carries an UpdateEvent payload.
	EventUpdate = "update"

	// EventSettingsChange is sent after a settings mutation and carries
	// a SettingsChangeEvent payload.
	EventSettingsChange = "settingsChange"
)

// Event is the wire format for all subscriber notifications.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// UpdateEvent is the payload of EventUpdate.
type UpdateEvent struct {
	LastUpdated    *time.Time `json:"lastUpdated"`
	NextUpdateTime int64      `json:"nextUpdateTime"`
	AddressCount   int        `json:"addressCount"`
	Added          int        `json:"added"`
	Removed        int        `json:"removed"`
}

// SettingsChangeEvent is the payload of EventSettingsChange.
type SettingsChangeEvent struct {
	UpdateIntervalMinutes int   `json:"updateIntervalMinutes"`
	AutoUpdateEnabled     bool  `json:"autoUpdateEnabled"`
	NextUpdateTime        int64 `json:"nextUpdateTime"`
}
