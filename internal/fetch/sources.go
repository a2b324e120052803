// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

// Package fetch retrieves the upstream geoip feed. The feed host rejects
// some network paths, so the fetcher tries an ordered chain of sources: a
// direct request first, then public relay proxies with differing request
// and response conventions. The first success wins; exhausting the chain
// yields ErrExhausted.
package fetch

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
)

// Source is one way of obtaining the feed payload. Implementations differ
// in how the request URL is built and how the response body is decoded.
type Source interface {
	// Name identifies the source in logs, metrics and attempt errors.
	Name() string

	// URL returns the full request URL for the given target feed URL.
	URL(target string) string

	// Decode extracts the raw feed payload from a response body.
	Decode(body []byte) (string, error)
}

// directSource requests the feed URL as-is and returns the body verbatim.
type directSource struct{}

func (directSource) Name() string            { return "direct" }
func (directSource) URL(target string) string { return target }

func (directSource) Decode(body []byte) (string, error) {
	return string(body), nil
}

// rawRelaySource routes the request through a relay that expects the
// URL-encoded target appended to its own URL and returns the upstream body
// unmodified.
type rawRelaySource struct {
	name   string
	prefix string
}

func (r rawRelaySource) Name() string { return r.name }

func (r rawRelaySource) URL(target string) string {
	return r.prefix + url.QueryEscape(target)
}

func (r rawRelaySource) Decode(body []byte) (string, error) {
	return string(body), nil
}

// jsonRelaySource routes the request through a relay that wraps the
// upstream body in a JSON envelope of the form {"contents": "..."}.
type jsonRelaySource struct {
	name   string
	prefix string
}

func (r jsonRelaySource) Name() string { return r.name }

func (r jsonRelaySource) URL(target string) string {
	return r.prefix + url.QueryEscape(target)
}

func (r jsonRelaySource) Decode(body []byte) (string, error) {
	var envelope struct {
		Contents string `json:"contents"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("unwrapping relay envelope: %w", err)
	}
	if strings.TrimSpace(envelope.Contents) == "" {
		return "", fmt.Errorf("relay envelope has empty contents")
	}
	return envelope.Contents, nil
}

// DefaultSources returns the standard source chain: direct first, then the
// public relays in fallback order.
func DefaultSources() []Source {
	return []Source{
		directSource{},
		jsonRelaySource{name: "allorigins", prefix: "https://api.allorigins.win/get?url="},
		rawRelaySource{name: "corsproxy", prefix: "https://corsproxy.io/?url="},
		rawRelaySource{name: "codetabs", prefix: "https://api.codetabs.com/v1/proxy?quest="},
	}
}

// readBody reads a response body with a size cap so a misbehaving relay
// cannot exhaust memory.
const maxBodyBytes = 8 << 20 // 8 MiB

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}
