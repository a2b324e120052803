// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

// Package edl implements the address-list domain logic: extracting IPv4
// CIDR blocks from the upstream geoip CSV, diffing successive snapshots
// and maintaining the bounded changelog.
package edl

import (
	"errors"
	"net/netip"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/koas-mih/Starlink-IP-EDL/internal/models"
)

// ErrEmptyResult indicates a fetched payload yielded zero CIDR blocks.
// The refresh pipeline treats this as a failed cycle so that a previously
// cached list is never replaced by an empty one.
var ErrEmptyResult = errors.New("no CIDR blocks found in payload")

// cidrPattern matches candidate IPv4 CIDR strings inside a CSV cell.
// Candidates are validated with netip.ParsePrefix afterwards, which
// enforces octet ranges and the 0-32 prefix length.
var cidrPattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}/\d{1,2}\b`)

// ExtractCIDRs scans a raw CSV payload for IPv4 CIDR blocks. Every line is
// split on commas and each cell is scanned independently, so the exact
// column layout of the feed does not matter. IPv6 rows and non-CIDR cells
// are skipped. The result is deduplicated and sorted ascending by network
// address, then by prefix length.
//
// Returns ErrEmptyResult when the payload contains no valid CIDR block.
func ExtractCIDRs(raw string) ([]string, error) {
	seen := make(map[string]netip.Prefix)

	for _, line := range strings.Split(raw, "\n") {
		for _, cell := range strings.Split(line, ",") {
			for _, candidate := range cidrPattern.FindAllString(cell, -1) {
				prefix, err := netip.ParsePrefix(candidate)
				if err != nil || !prefix.Addr().Is4() {
					continue
				}
				seen[candidate] = prefix
			}
		}
	}

	if len(seen) == 0 {
		return nil, ErrEmptyResult
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := seen[out[i]], seen[out[j]]
		if c := a.Addr().Compare(b.Addr()); c != 0 {
			return c < 0
		}
		return a.Bits() < b.Bits()
	})
	return out, nil
}

// Diff computes the set difference between two address snapshots. Both
// returned slices are sorted ascending and never overlap. Empty results
// are returned as empty slices, not nil, so they serialize as [].
func Diff(previous, next []string) (added, removed []string) {
	prev := make(map[string]struct{}, len(previous))
	for _, s := range previous {
		prev[s] = struct{}{}
	}
	curr := make(map[string]struct{}, len(next))
	for _, s := range next {
		curr[s] = struct{}{}
	}

	added = []string{}
	for _, s := range next {
		if _, ok := prev[s]; !ok {
			added = append(added, s)
		}
	}
	removed = []string{}
	for _, s := range previous {
		if _, ok := curr[s]; !ok {
			removed = append(removed, s)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// NewChangelogEntry builds a changelog entry for a refresh that changed the
// address list. Returns nil when neither added nor removed has elements; a
// no-op refresh produces no changelog entry.
func NewChangelogEntry(now time.Time, snapshot, added, removed []string) *models.ChangelogEntry {
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	return &models.ChangelogEntry{
		Timestamp:   now,
		IPAddresses: append([]string(nil), snapshot...),
		Added:       append([]string(nil), added...),
		Removed:     append([]string(nil), removed...),
	}
}

// AppendChangelog prepends entry to log, evicting the oldest entries beyond
// models.ChangelogCapacity. The input slice is not mutated.
func AppendChangelog(log []models.ChangelogEntry, entry models.ChangelogEntry) []models.ChangelogEntry {
	out := make([]models.ChangelogEntry, 0, len(log)+1)
	out = append(out, entry)
	out = append(out, log...)
	if len(out) > models.ChangelogCapacity {
		out = out[:models.ChangelogCapacity]
	}
	return out
}
