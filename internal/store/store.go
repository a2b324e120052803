// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

// Package store persists the service state as a single JSON document.
//
// The in-memory state is authoritative: every mutation updates memory first
// and then rewrites the whole document atomically (temp file + rename). A
// failed write is logged and surfaced as ErrPersist, but the in-memory
// state keeps serving reads, so a broken disk degrades durability without
// taking the feed offline.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/koas-mih/Starlink-IP-EDL/internal/edl"
	"github.com/koas-mih/Starlink-IP-EDL/internal/logging"
	"github.com/koas-mih/Starlink-IP-EDL/internal/models"
)

// ErrPersist indicates the state document could not be written to disk.
// The in-memory mutation that triggered the write has still been applied.
var ErrPersist = errors.New("state persistence failed")

// ErrEmptyReplace indicates an attempt to replace a non-empty address list
// with an empty one. The extractor already rejects empty results; this is
// a second guard at the storage boundary.
var ErrEmptyReplace = errors.New("refusing to replace cached addresses with empty list")

// Store owns the persisted state document. All mutations are serialized
// through a single mutex; accessors return deep copies.
type Store struct {
	mu       sync.RWMutex
	path     string
	state    models.State
	firstRun bool
	logger   zerolog.Logger
}

// Open loads the state document at path, falling back to defaults when the
// file is absent. A corrupt document is logged and replaced by defaults on
// the next persist rather than aborting startup.
func Open(path string) (*Store, error) {
	s := &Store{
		path:   path,
		state:  models.DefaultState(),
		logger: logging.With().Str("component", "store").Logger(),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.firstRun = true
		s.logger.Info().Str("path", path).Msg("No state file found, starting with defaults")
	case err != nil:
		return nil, fmt.Errorf("reading state file %s: %w", path, err)
	default:
		var loaded models.State
		if jerr := json.Unmarshal(data, &loaded); jerr != nil {
			s.logger.Error().Err(jerr).Str("path", path).
				Msg("State file is corrupt, starting with defaults")
		} else {
			if loaded.UpdateInterval < 1 {
				loaded.UpdateInterval = models.DefaultUpdateIntervalMinutes
			}
			if loaded.IPAddresses == nil {
				loaded.IPAddresses = []string{}
			}
			if loaded.Changelog == nil {
				loaded.Changelog = []models.ChangelogEntry{}
			}
			s.state = loaded
			s.logger.Info().
				Str("path", path).
				Int("addresses", len(loaded.IPAddresses)).
				Int("changelog_entries", len(loaded.Changelog)).
				Msg("State loaded")
		}
	}

	return s, nil
}

// FirstRun reports whether the store started from built-in defaults
// because no state document existed on disk. Set once in Open and never
// changed afterwards.
func (s *Store) FirstRun() bool {
	return s.firstRun
}

// Snapshot returns a deep copy of the full state document.
func (s *Store) Snapshot() models.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Addresses returns a copy of the current CIDR list.
func (s *Store) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.state.IPAddresses...)
}

// Changelog returns a copy of the changelog, newest first.
func (s *Store) Changelog() []models.ChangelogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChangelogEntry, len(s.state.Changelog))
	for i, e := range s.state.Changelog {
		out[i] = e.Clone()
	}
	return out
}

// LastUpdated returns the completion time of the last successful refresh,
// or nil when none has occurred.
func (s *Store) LastUpdated() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.LastUpdated == nil {
		return nil
	}
	t := *s.state.LastUpdated
	return &t
}

// Settings returns the client-facing scheduler settings.
func (s *Store) Settings() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.Settings{
		UpdateIntervalMinutes: s.state.UpdateInterval,
		AutoUpdateEnabled:     s.state.AutoUpdateEnabled,
		NextUpdateAtEpochMs:   s.state.NextUpdateTime,
	}
}

// ApplyRefresh installs a freshly extracted address list, stamps
// lastUpdated and, when the list actually changed, prepends a changelog
// entry. Returns the added and removed subsets.
//
// An empty list is rejected with ErrEmptyReplace when addresses are
// already cached. A persistence failure is returned as ErrPersist after
// the in-memory state was updated.
func (s *Store) ApplyRefresh(addresses []string, now time.Time) (added, removed []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(addresses) == 0 && len(s.state.IPAddresses) > 0 {
		return nil, nil, ErrEmptyReplace
	}

	added, removed = edl.Diff(s.state.IPAddresses, addresses)

	s.state.IPAddresses = append([]string(nil), addresses...)
	ts := now
	s.state.LastUpdated = &ts

	if entry := edl.NewChangelogEntry(now, addresses, added, removed); entry != nil {
		s.state.Changelog = edl.AppendChangelog(s.state.Changelog, *entry)
	}

	return added, removed, s.persistLocked()
}

// SetSchedule updates the refresh interval and/or the enabled flag. Nil
// fields are left unchanged. Interval values below 1 are ignored.
func (s *Store) SetSchedule(intervalMinutes *int, enabled *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if intervalMinutes != nil && *intervalMinutes >= 1 {
		s.state.UpdateInterval = *intervalMinutes
	}
	if enabled != nil {
		s.state.AutoUpdateEnabled = *enabled
	}
	return s.persistLocked()
}

// SetNextUpdateTime records the absolute next refresh time in epoch
// milliseconds so a restart resumes the schedule instead of resetting it.
func (s *Store) SetNextUpdateTime(epochMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.NextUpdateTime = epochMs
	return s.persistLocked()
}

// persistLocked rewrites the state document atomically. Must be called
// with mu held.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to serialize state")
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		s.logger.Error().Err(err).Str("dir", dir).Msg("Failed to create temp state file")
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		s.logger.Error().Err(err).Msg("Failed to write temp state file")
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		s.logger.Error().Err(err).Str("path", s.path).Msg("Failed to replace state file")
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}
