// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/koas-mih/Starlink-IP-EDL/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

const feedCSV = "network,geoname\n14.1.64.0/24,123\n"

func newFetcher(t *testing.T, target string, sources []Source) *Fetcher {
	t.Helper()
	cfg := DefaultConfig(target)
	cfg.AttemptTimeout = 2 * time.Second
	return New(cfg, sources)
}

func TestFetchDirectSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, feedCSV)
	}))
	defer ts.Close()

	f := newFetcher(t, ts.URL, []Source{directSource{}})
	got, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got != feedCSV {
		t.Errorf("payload = %q, want %q", got, feedCSV)
	}
}

func TestFetchFallsBackToRawRelay(t *testing.T) {
	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer direct.Close()

	var relayGotTarget string
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relayGotTarget = r.URL.Query().Get("u")
		io.WriteString(w, feedCSV)
	}))
	defer relay.Close()

	sources := []Source{
		directSource{},
		rawRelaySource{name: "relay1", prefix: relay.URL + "/?u="},
	}
	f := newFetcher(t, direct.URL, sources)

	got, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got != feedCSV {
		t.Errorf("payload = %q, want %q", got, feedCSV)
	}
	if relayGotTarget != direct.URL {
		t.Errorf("relay received target %q, want %q (URL-encoded round trip)", relayGotTarget, direct.URL)
	}
}

func TestFetchJSONRelayUnwrap(t *testing.T) {
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"contents":"network,geoname\n14.1.64.0/24,123\n","status":{"http_code":200}}`)
	}))
	defer relay.Close()

	sources := []Source{jsonRelaySource{name: "wrapped", prefix: relay.URL + "/?u="}}
	f := newFetcher(t, "http://feed.invalid/feed.csv", sources)

	got, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got != feedCSV {
		t.Errorf("unwrapped payload = %q, want %q", got, feedCSV)
	}
}

func TestFetchJSONRelayEmptyContents(t *testing.T) {
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"contents":""}`)
	}))
	defer relay.Close()

	sources := []Source{jsonRelaySource{name: "wrapped", prefix: relay.URL + "/?u="}}
	f := newFetcher(t, "http://feed.invalid/feed.csv", sources)

	if _, err := f.Fetch(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("error = %v, want ErrExhausted", err)
	}
}

func TestFetchExhaustedAggregatesAttempts(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	sources := []Source{
		directSource{},
		rawRelaySource{name: "relay1", prefix: failing.URL + "/?u="},
		rawRelaySource{name: "relay2", prefix: failing.URL + "/?u="},
	}
	f := newFetcher(t, failing.URL, sources)

	_, err := f.Fetch(context.Background())
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("error = %v, want ErrExhausted", err)
	}
	for _, name := range []string{"direct", "relay1", "relay2"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("aggregate error missing attempt for %q: %v", name, err)
		}
	}
}

func TestFetchPerAttemptTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, feedCSV)
	}))
	defer fast.Close()

	cfg := DefaultConfig(slow.URL)
	cfg.AttemptTimeout = 100 * time.Millisecond
	sources := []Source{
		directSource{},
		rawRelaySource{name: "fast", prefix: fast.URL + "/?u="},
	}
	f := New(cfg, sources)

	start := time.Now()
	got, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got != feedCSV {
		t.Errorf("payload = %q, want %q", got, feedCSV)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("slow source was not bounded by attempt timeout (took %v)", elapsed)
	}
}

func TestBreakerOpensAfterConsecutiveDirectFailures(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	cfg := DefaultConfig(failing.URL)
	cfg.AttemptTimeout = time.Second
	cfg.BreakerFailureThreshold = 2
	f := New(cfg, []Source{directSource{}})

	for i := 0; i < 3; i++ {
		if _, err := f.Fetch(context.Background()); err == nil {
			t.Fatal("expected failure")
		}
	}
	if state := f.BreakerState(); state != "open" {
		t.Errorf("breaker state = %q, want open", state)
	}
}

func TestSourceURLEncoding(t *testing.T) {
	target := "https://geoip.starlinkisp.net/feed.csv"
	src := rawRelaySource{name: "r", prefix: "https://relay.example/?u="}

	got := src.URL(target)
	want := "https://relay.example/?u=" + url.QueryEscape(target)
	if got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
	if strings.Contains(strings.TrimPrefix(got, "https://"), "://") {
		t.Error("target URL was not percent-encoded")
	}
}
