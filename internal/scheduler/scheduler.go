// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

// Package scheduler drives the periodic refresh pipeline.
//
// Scheduling is anchored to absolute deadlines rather than a ticker: the
// next fire time is persisted as epoch milliseconds, survives restarts and
// is recomputed from each cycle's completion time, so slow cycles do not
// compress the following interval and the schedule does not drift.
//
// Pipeline cycles never overlap. A trigger that arrives while a cycle is
// in flight is rejected, and a rate limiter enforces a minimum gap between
// consecutive cycles regardless of their origin (timer, manual trigger or
// settings change).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/koas-mih/Starlink-IP-EDL/internal/edl"
	"github.com/koas-mih/Starlink-IP-EDL/internal/logging"
	"github.com/koas-mih/Starlink-IP-EDL/internal/metrics"
	"github.com/koas-mih/Starlink-IP-EDL/internal/models"
	"github.com/koas-mih/Starlink-IP-EDL/internal/store"
)

// ErrUpdateInProgress indicates a trigger was rejected because a pipeline
// cycle is already running. Triggers are rejected, never queued.
var ErrUpdateInProgress = errors.New("update already in progress")

// ErrThrottled indicates a trigger was rejected by the minimum
// inter-update guard.
var ErrThrottled = errors.New("update rejected by minimum inter-update guard")

// Fetcher retrieves the raw feed payload.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// Broadcaster pushes events to live subscribers.
type Broadcaster interface {
	Broadcast(eventType string, data interface{})
}

// Config holds scheduler configuration.
type Config struct {
	// MinUpdateGap is the minimum time between the starts of two pipeline
	// cycles. Default: 5s.
	MinUpdateGap time.Duration
}

// DefaultConfig returns the standard scheduler configuration.
func DefaultConfig() Config {
	return Config{MinUpdateGap: 5 * time.Second}
}

// Scheduler owns the refresh timer and runs the fetch-extract-diff-persist
// pipeline. All interaction goes through methods; there is no package
// state.
type Scheduler struct {
	cfg     Config
	store   *store.Store
	fetcher Fetcher
	hub     Broadcaster
	logger  zerolog.Logger

	// limiter enforces the minimum inter-update gap across all trigger
	// origins.
	limiter *rate.Limiter

	// runMu is held for the duration of one pipeline cycle. TryLock
	// failures surface as ErrUpdateInProgress.
	runMu sync.Mutex

	mu      sync.Mutex
	running bool
	lifeCtx context.Context
	stopCh  chan struct{}
	doneCh  chan struct{}
	wakeCh  chan struct{}
}

// New creates a Scheduler.
func New(cfg Config, st *store.Store, fetcher Fetcher, hub Broadcaster) *Scheduler {
	if cfg.MinUpdateGap <= 0 {
		cfg.MinUpdateGap = 5 * time.Second
	}
	return &Scheduler{
		cfg:     cfg,
		store:   st,
		fetcher: fetcher,
		hub:     hub,
		logger:  logging.With().Str("component", "scheduler").Logger(),
		limiter: rate.NewLimiter(rate.Every(cfg.MinUpdateGap), 1),
		wakeCh:  make(chan struct{}, 1),
	}
}

// Start launches the scheduling loop. A persisted future fire time is
// honored as-is; a missing or past-due one fires promptly. Safe to call
// once per Stop cycle.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already started")
	}
	s.running = true
	s.lifeCtx = ctx
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx, s.stopCh, s.doneCh)

	s.logger.Info().
		Dur("min_update_gap", s.cfg.MinUpdateGap).
		Msg("Scheduler started")
	return nil
}

// Stop terminates the scheduling loop and waits for it to exit. A pipeline
// cycle already in flight runs to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
	s.logger.Info().Msg("Scheduler stopped")
}

// run is the scheduling loop. Each iteration arms a timer for the
// persisted next fire time, then waits for it, a wake signal (settings
// change rescheduled the deadline) or shutdown.
func (s *Scheduler) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		deadline := s.nextDeadline()
		timer := time.NewTimer(time.Until(deadline))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stopCh:
			timer.Stop()
			return
		case <-s.wakeCh:
			timer.Stop()
			continue
		case <-timer.C:
			s.fire(ctx)
		}
	}
}

// nextDeadline returns the absolute time of the next fire. When no valid
// deadline is persisted, one interval from now is scheduled and persisted.
func (s *Scheduler) nextDeadline() time.Time {
	settings := s.store.Settings()
	if settings.NextUpdateAtEpochMs > 0 {
		return time.UnixMilli(settings.NextUpdateAtEpochMs)
	}
	return s.reschedule(time.Now())
}

// reschedule persists anchor + interval as the next fire time and returns
// it. A persistence failure is logged; the in-memory deadline still
// applies.
func (s *Scheduler) reschedule(anchor time.Time) time.Time {
	interval := time.Duration(s.store.Settings().UpdateIntervalMinutes) * time.Minute
	next := anchor.Add(interval)
	if err := s.store.SetNextUpdateTime(next.UnixMilli()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist next update time")
	}
	s.logger.Debug().Time("next_update", next).Msg("Refresh rescheduled")
	return next
}

// wake nudges the run loop to re-read the persisted deadline.
func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// fire handles a timer expiry. A disabled scheduler skips the pipeline but
// still reschedules, so re-enabling later does not find a stale deadline.
func (s *Scheduler) fire(ctx context.Context) {
	if !s.store.Settings().AutoUpdateEnabled {
		s.logger.Debug().Msg("Auto-update disabled, skipping scheduled refresh")
		metrics.RefreshCycles.WithLabelValues("skipped").Inc()
		s.reschedule(time.Now())
		return
	}

	err := s.tryRun(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Scheduled refresh did not run")
	}
	if errors.Is(err, ErrUpdateInProgress) || errors.Is(err, ErrThrottled) {
		// The guards rejected this fire without running a cycle, so no
		// completion anchor exists; push the deadline out anyway so the
		// loop does not re-arm an expired timer.
		s.reschedule(time.Now())
	}
}

// TriggerNow runs the pipeline immediately, subject to the in-flight and
// inter-update guards. The next scheduled refresh is re-anchored to this
// cycle's completion.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	err := s.tryRun(ctx)
	if errors.Is(err, ErrUpdateInProgress) || errors.Is(err, ErrThrottled) {
		// Rejected triggers never ran a cycle; the existing deadline stands.
		return err
	}
	// The cycle re-anchored the deadline; nudge the loop to pick it up.
	s.wake()
	return err
}

// tryRun executes one pipeline cycle if the guards permit.
func (s *Scheduler) tryRun(ctx context.Context) error {
	if !s.runMu.TryLock() {
		metrics.RefreshCycles.WithLabelValues("rejected").Inc()
		return ErrUpdateInProgress
	}
	defer s.runMu.Unlock()

	if !s.limiter.Allow() {
		metrics.RefreshCycles.WithLabelValues("throttled").Inc()
		return ErrThrottled
	}

	return s.runCycle(ctx)
}

// runCycle performs one refresh: fetch, extract, persist, notify. Every
// executed cycle, successful or not, re-anchors the next fire time to its
// completion so long cycles do not eat into the following interval.
func (s *Scheduler) runCycle(ctx context.Context) error {
	start := time.Now()
	s.logger.Info().Msg("Refresh cycle started")

	payload, err := s.fetcher.Fetch(ctx)
	if err != nil {
		metrics.RecordRefreshCycle("fetch_failed", time.Since(start))
		s.logger.Error().Err(err).Msg("Refresh cycle failed: fetch exhausted")
		s.reschedule(time.Now())
		return fmt.Errorf("fetching feed: %w", err)
	}

	addresses, err := edl.ExtractCIDRs(payload)
	if err != nil {
		metrics.RecordRefreshCycle("empty_result", time.Since(start))
		s.logger.Error().Err(err).Int("payload_bytes", len(payload)).
			Msg("Refresh cycle failed: no addresses extracted, keeping cached list")
		s.reschedule(time.Now())
		return fmt.Errorf("extracting addresses: %w", err)
	}

	now := time.Now().UTC()
	added, removed, err := s.store.ApplyRefresh(addresses, now)
	if err != nil && !errors.Is(err, store.ErrPersist) {
		metrics.RecordRefreshCycle("rejected", time.Since(start))
		s.reschedule(time.Now())
		return fmt.Errorf("applying refresh: %w", err)
	}
	if errors.Is(err, store.ErrPersist) {
		// In-memory state is authoritative; serve the new list anyway.
		metrics.RecordRefreshCycle("persist_failed", time.Since(start))
		s.logger.Error().Err(err).Msg("Refresh persisted in memory only")
	} else {
		metrics.RecordRefreshCycle("success", time.Since(start))
	}

	// Reschedule before the snapshot so the update event carries the new
	// deadline rather than the one that just expired.
	s.reschedule(time.Now())

	snapshot := s.store.Snapshot()
	metrics.UpdateStateGauges(len(snapshot.IPAddresses), len(snapshot.Changelog))

	s.hub.Broadcast(models.EventUpdate, models.UpdateEvent{
		LastUpdated:    snapshot.LastUpdated,
		NextUpdateTime: snapshot.NextUpdateTime,
		AddressCount:   len(snapshot.IPAddresses),
		Added:          len(added),
		Removed:        len(removed),
	})

	s.logger.Info().
		Int("addresses", len(snapshot.IPAddresses)).
		Int("added", len(added)).
		Int("removed", len(removed)).
		Dur("duration", time.Since(start)).
		Msg("Refresh cycle completed")
	return err
}

// ApplySettings updates the refresh interval and/or the enabled flag.
// Interval values below 1 are ignored rather than rejected. The pending
// deadline is replaced by now + interval, the change is broadcast, and a
// false-to-true enable transition triggers an immediate refresh when the
// inter-update guard permits.
func (s *Scheduler) ApplySettings(ctx context.Context, update models.SettingsUpdate) error {
	wasEnabled := s.store.Settings().AutoUpdateEnabled

	if err := s.store.SetSchedule(update.Interval, update.AutoUpdateEnabled); err != nil {
		return err
	}

	s.reschedule(time.Now())
	s.wake()

	settings := s.store.Settings()
	s.hub.Broadcast(models.EventSettingsChange, models.SettingsChangeEvent{
		UpdateIntervalMinutes: settings.UpdateIntervalMinutes,
		AutoUpdateEnabled:     settings.AutoUpdateEnabled,
		NextUpdateTime:        settings.NextUpdateAtEpochMs,
	})

	s.logger.Info().
		Int("interval_minutes", settings.UpdateIntervalMinutes).
		Bool("auto_update_enabled", settings.AutoUpdateEnabled).
		Msg("Settings updated")

	if !wasEnabled && settings.AutoUpdateEnabled {
		// The refresh outlives the settings request, so it must not run on
		// the caller's request-scoped context.
		runCtx := s.runContext(ctx)
		go func() {
			if err := s.TriggerNow(runCtx); err != nil {
				s.logger.Warn().Err(err).Msg("Post-enable refresh did not run")
			}
		}()
	}
	return nil
}

// runContext returns the context for a pipeline cycle that outlives its
// caller. A started scheduler hands out its lifecycle context so shutdown
// still cancels the cycle; otherwise the caller's context is detached
// from its cancellation, since request-scoped contexts die the moment the
// handler returns.
func (s *Scheduler) runContext(caller context.Context) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.lifeCtx != nil {
		return s.lifeCtx
	}
	return context.WithoutCancel(caller)
}
