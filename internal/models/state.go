// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

// Package models defines the shared data types of the EDL service: the
// persisted state document, changelog entries, scheduler settings and the
// standard API response envelope.
package models

import (
	"time"
)

// ChangelogCapacity is the maximum number of changelog entries retained.
// When a new entry is recorded at capacity, the oldest entry is evicted.
const ChangelogCapacity = 10

// DefaultUpdateIntervalMinutes is the refresh interval used when no
// persisted state exists yet.
const DefaultUpdateIntervalMinutes = 60

// State is the single persisted document of the service. It is serialized
// as one JSON object and rewritten in full on every mutation.
//
// Example:
//
//	{
//	  "ipAddresses": ["14.1.64.0/24", "14.1.65.0/24"],
//	  "lastUpdated": "2026-08-31T12:00:00Z",
//	  "updateInterval": 60,
//	  "autoUpdateEnabled": true,
//	  "changelog": [],
//	  "nextUpdateTime": 1756645200000
//	}
type State struct {
	// IPAddresses is the deduplicated, ascending-sorted list of IPv4 CIDR
	// blocks most recently extracted from the upstream feed.
	IPAddresses []string `json:"ipAddresses"`

	// LastUpdated is the completion time of the last successful refresh,
	// or nil when no refresh has ever succeeded.
	LastUpdated *time.Time `json:"lastUpdated"`

	// UpdateInterval is the refresh interval in minutes. Always >= 1.
	UpdateInterval int `json:"updateInterval"`

	// AutoUpdateEnabled controls whether scheduled refreshes run their
	// pipeline. Scheduling continues even when disabled.
	AutoUpdateEnabled bool `json:"autoUpdateEnabled"`

	// Changelog holds the most recent changes, newest first, bounded by
	// ChangelogCapacity.
	Changelog []ChangelogEntry `json:"changelog"`

	// NextUpdateTime is the absolute scheduled time of the next refresh,
	// in milliseconds since the Unix epoch. Zero means unscheduled.
	NextUpdateTime int64 `json:"nextUpdateTime"`
}

// DefaultState returns the state used when no persisted document exists.
func DefaultState() State {
	return State{
		IPAddresses:       []string{},
		LastUpdated:       nil,
		UpdateInterval:    DefaultUpdateIntervalMinutes,
		AutoUpdateEnabled: true,
		Changelog:         []ChangelogEntry{},
		NextUpdateTime:    0,
	}
}

// Clone returns a deep copy of the state. Callers receive copies so that
// concurrent readers never observe in-place mutation.
func (s State) Clone() State {
	out := s
	out.IPAddresses = append([]string(nil), s.IPAddresses...)
	out.Changelog = make([]ChangelogEntry, len(s.Changelog))
	for i, e := range s.Changelog {
		out.Changelog[i] = e.Clone()
	}
	if s.LastUpdated != nil {
		t := *s.LastUpdated
		out.LastUpdated = &t
	}
	return out
}

// ChangelogEntry records one observed change of the address list: the
// resulting full snapshot plus the added and removed subsets. Entries are
// only recorded when at least one of Added or Removed is non-empty.
type ChangelogEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	IPAddresses []string  `json:"ipAddresses"`
	Added       []string  `json:"added"`
	Removed     []string  `json:"removed"`
}

// Clone returns a deep copy of the entry.
func (e ChangelogEntry) Clone() ChangelogEntry {
	return ChangelogEntry{
		Timestamp:   e.Timestamp,
		IPAddresses: append([]string(nil), e.IPAddresses...),
		Added:       append([]string(nil), e.Added...),
		Removed:     append([]string(nil), e.Removed...),
	}
}

// Settings is the client-facing view of the scheduler configuration,
// served by GET /api/settings and carried in connected events.
type Settings struct {
	UpdateIntervalMinutes int   `json:"updateIntervalMinutes"`
	AutoUpdateEnabled     bool  `json:"autoUpdateEnabled"`
	NextUpdateAtEpochMs   int64 `json:"nextUpdateAtEpochMs"`
}

// SettingsUpdate is the request body of POST /api/update-interval. Both
// fields are optional; absent fields leave the current value unchanged.
// An Interval below 1 is ignored rather than rejected.
type SettingsUpdate struct {
	Interval          *int  `json:"interval,omitempty"`
	AutoUpdateEnabled *bool `json:"autoUpdateEnabled,omitempty"`
}
