// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/koas-mih/Starlink-IP-EDL/internal/logging"
	"github.com/koas-mih/Starlink-IP-EDL/internal/metrics"
)

// ErrExhausted indicates every source in the chain failed. It wraps the
// joined per-source attempt errors.
var ErrExhausted = errors.New("all feed sources exhausted")

// Config holds fetcher configuration.
type Config struct {
	// TargetURL is the upstream feed URL.
	TargetURL string

	// AttemptTimeout bounds each individual source attempt.
	AttemptTimeout time.Duration

	// BreakerFailureThreshold is the number of consecutive direct-source
	// failures before the breaker opens and direct attempts are skipped.
	BreakerFailureThreshold uint32

	// BreakerOpenTimeout is how long the breaker stays open before
	// probing the direct source again.
	BreakerOpenTimeout time.Duration
}

// DefaultConfig returns the standard fetcher configuration.
func DefaultConfig(targetURL string) Config {
	return Config{
		TargetURL:               targetURL,
		AttemptTimeout:          15 * time.Second,
		BreakerFailureThreshold: 3,
		BreakerOpenTimeout:      5 * time.Minute,
	}
}

// Fetcher retrieves the feed payload through the source chain. The direct
// source sits behind a circuit breaker so that a persistently unreachable
// feed host is skipped quickly in favor of the relays; relay sources are
// tried fresh on every cycle.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	sources []Source
	breaker *gobreaker.CircuitBreaker[string]
	logger  zerolog.Logger
}

// New creates a Fetcher with the given source chain. Pass DefaultSources()
// for the standard direct-then-relays ordering.
func New(cfg Config, sources []Source) *Fetcher {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 15 * time.Second
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 3
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 5 * time.Minute
	}

	logger := logging.With().Str("component", "fetch").Logger()

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "direct-feed",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return &Fetcher{
		cfg:     cfg,
		client:  &http.Client{},
		sources: sources,
		breaker: breaker,
		logger:  logger,
	}
}

// Fetch tries each source in order and returns the first successfully
// decoded payload. Each attempt gets its own timeout derived from ctx.
// When every source fails, the returned error matches ErrExhausted via
// errors.Is and carries the individual attempt errors.
func (f *Fetcher) Fetch(ctx context.Context) (string, error) {
	var attemptErrs []error

	for _, src := range f.sources {
		if err := ctx.Err(); err != nil {
			attemptErrs = append(attemptErrs, err)
			break
		}

		payload, err := f.attempt(ctx, src)
		if err == nil {
			f.logger.Info().Str("source", src.Name()).Int("bytes", len(payload)).Msg("Feed fetched")
			return payload, nil
		}

		metrics.RecordFetchFailure(src.Name())
		f.logger.Warn().Err(err).Str("source", src.Name()).Msg("Feed source failed, trying next")
		attemptErrs = append(attemptErrs, fmt.Errorf("%s: %w", src.Name(), err))
	}

	return "", fmt.Errorf("%w: %w", ErrExhausted, errors.Join(attemptErrs...))
}

// attempt performs a single source request. The direct source runs inside
// the circuit breaker; an open breaker fails the attempt immediately.
func (f *Fetcher) attempt(ctx context.Context, src Source) (string, error) {
	metrics.RecordFetchAttempt(src.Name())

	if src.Name() == "direct" {
		return f.breaker.Execute(func() (string, error) {
			return f.request(ctx, src)
		})
	}
	return f.request(ctx, src)
}

func (f *Fetcher) request(ctx context.Context, src Source) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, src.URL(f.cfg.TargetURL), nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, text/plain, application/json")
	req.Header.Set("User-Agent", "starlink-ip-edl/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := readBody(resp)
	if err != nil {
		return "", err
	}
	return src.Decode(body)
}

// BreakerState reports the direct-source breaker state for health output.
func (f *Fetcher) BreakerState() string {
	return f.breaker.State().String()
}
