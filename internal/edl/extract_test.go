// Starlink IP EDL - Starlink IP range collection and distribution service
// Copyright 2026 koas-mih
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/koas-mih/Starlink-IP-EDL

package edl

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/koas-mih/Starlink-IP-EDL/internal/models"
)

func TestExtractCIDRsFromFeedCSV(t *testing.T) {
	raw := "network,geoname\n14.1.64.0/24,123\n14.1.65.0/24,123\n"

	got, err := ExtractCIDRs(raw)
	if err != nil {
		t.Fatalf("ExtractCIDRs returned error: %v", err)
	}
	want := []string{"14.1.64.0/24", "14.1.65.0/24"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractCIDRs = %v, want %v", got, want)
	}
}

func TestExtractCIDRsDedupesAndSorts(t *testing.T) {
	raw := "98.97.32.0/21,x\n14.1.64.0/24,y\n98.97.32.0/21,z\n14.1.64.0/24,w\n"

	got, err := ExtractCIDRs(raw)
	if err != nil {
		t.Fatalf("ExtractCIDRs returned error: %v", err)
	}
	want := []string{"14.1.64.0/24", "98.97.32.0/21"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractCIDRs = %v, want %v", got, want)
	}
}

func TestExtractCIDRsNumericOrder(t *testing.T) {
	// Lexicographic ordering would put 100.x before 14.x.
	raw := "100.64.0.0/10,a\n14.1.64.0/24,b\n"

	got, err := ExtractCIDRs(raw)
	if err != nil {
		t.Fatalf("ExtractCIDRs returned error: %v", err)
	}
	want := []string{"14.1.64.0/24", "100.64.0.0/10"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractCIDRs = %v, want %v", got, want)
	}
}

func TestExtractCIDRsSkipsInvalidCells(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "ipv6 rows skipped",
			raw:  "2602:cf90::/36,au\n14.1.64.0/24,au\n",
			want: []string{"14.1.64.0/24"},
		},
		{
			name: "out of range octet rejected",
			raw:  "300.1.1.0/24,x\n14.1.64.0/24,y\n",
			want: []string{"14.1.64.0/24"},
		},
		{
			name: "prefix beyond 32 rejected",
			raw:  "14.1.64.0/40,x\n14.1.64.0/24,y\n",
			want: []string{"14.1.64.0/24"},
		},
		{
			name: "bare address without prefix skipped",
			raw:  "14.1.64.1,x\n14.1.64.0/24,y\n",
			want: []string{"14.1.64.0/24"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractCIDRs(tt.raw)
			if err != nil {
				t.Fatalf("ExtractCIDRs returned error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractCIDRs = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractCIDRsEmptyResult(t *testing.T) {
	for _, raw := range []string{"", "network,geoname\n", "no,cidrs,here\n"} {
		_, err := ExtractCIDRs(raw)
		if !errors.Is(err, ErrEmptyResult) {
			t.Errorf("ExtractCIDRs(%q) error = %v, want ErrEmptyResult", raw, err)
		}
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name        string
		previous    []string
		next        []string
		wantAdded   []string
		wantRemoved []string
	}{
		{
			name:        "no change",
			previous:    []string{"14.1.64.0/24"},
			next:        []string{"14.1.64.0/24"},
			wantAdded:   []string{},
			wantRemoved: []string{},
		},
		{
			name:        "addition and removal",
			previous:    []string{"14.1.64.0/24", "14.1.65.0/24"},
			next:        []string{"14.1.64.0/24", "98.97.32.0/21"},
			wantAdded:   []string{"98.97.32.0/21"},
			wantRemoved: []string{"14.1.65.0/24"},
		},
		{
			name:        "first population",
			previous:    nil,
			next:        []string{"14.1.64.0/24"},
			wantAdded:   []string{"14.1.64.0/24"},
			wantRemoved: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, removed := Diff(tt.previous, tt.next)
			if !reflect.DeepEqual(added, tt.wantAdded) {
				t.Errorf("added = %v, want %v", added, tt.wantAdded)
			}
			if !reflect.DeepEqual(removed, tt.wantRemoved) {
				t.Errorf("removed = %v, want %v", removed, tt.wantRemoved)
			}
		})
	}
}

func TestDiffReconstruction(t *testing.T) {
	previous := []string{"14.1.64.0/24", "14.1.65.0/24", "98.97.32.0/21"}
	next := []string{"14.1.64.0/24", "98.97.40.0/21", "98.97.32.0/21"}

	added, removed := Diff(previous, next)

	rebuilt := make(map[string]struct{})
	for _, s := range previous {
		rebuilt[s] = struct{}{}
	}
	for _, s := range removed {
		delete(rebuilt, s)
	}
	for _, s := range added {
		rebuilt[s] = struct{}{}
	}

	if len(rebuilt) != len(next) {
		t.Fatalf("rebuilt set has %d entries, want %d", len(rebuilt), len(next))
	}
	for _, s := range next {
		if _, ok := rebuilt[s]; !ok {
			t.Errorf("rebuilt set missing %s", s)
		}
	}
}

func TestNewChangelogEntryNoChange(t *testing.T) {
	if e := NewChangelogEntry(time.Now(), []string{"14.1.64.0/24"}, []string{}, []string{}); e != nil {
		t.Errorf("expected nil entry for no-op refresh, got %+v", e)
	}
}

func TestAppendChangelogBound(t *testing.T) {
	var log []models.ChangelogEntry
	base := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	for i := 0; i < models.ChangelogCapacity+5; i++ {
		entry := models.ChangelogEntry{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Added:     []string{"14.1.64.0/24"},
		}
		log = AppendChangelog(log, entry)
	}

	if len(log) != models.ChangelogCapacity {
		t.Fatalf("changelog length = %d, want %d", len(log), models.ChangelogCapacity)
	}
	// Newest first; the oldest five entries were evicted.
	wantNewest := base.Add(time.Duration(models.ChangelogCapacity+4) * time.Minute)
	if !log[0].Timestamp.Equal(wantNewest) {
		t.Errorf("newest entry timestamp = %v, want %v", log[0].Timestamp, wantNewest)
	}
	for i := 1; i < len(log); i++ {
		if log[i].Timestamp.After(log[i-1].Timestamp) {
			t.Errorf("changelog not newest-first at index %d", i)
		}
	}
}
