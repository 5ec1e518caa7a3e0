package main

import (
	"testing"
	"time"
)

func TestDateRange(t *testing.T) {
	now := time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		from, to string
		wantFrom string
		wantTo   string
		wantErr  bool
	}{
		{"defaults", "", "", "2024-03-10", "2024-03-24", false},
		{"explicit from", "2024-01-01", "", "2024-01-01", "2024-01-15", false},
		{"explicit both", "2024-01-01", "2024-01-03", "2024-01-01", "2024-01-03", false},
		{"reversed", "2024-01-05", "2024-01-01", "", "", true},
		{"bad from", "yesterday", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, err := dateRange(tt.from, tt.to, 14, now)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("dateRange: %v", err)
			}
			if fmtDay(from) != tt.wantFrom || fmtDay(to) != tt.wantTo {
				t.Errorf("range = %s..%s, want %s..%s", fmtDay(from), fmtDay(to), tt.wantFrom, tt.wantTo)
			}
		})
	}
}

func TestParseRanks(t *testing.T) {
	ranks, err := parseRanks([]string{"a=2", "b=1"})
	if err != nil {
		t.Fatalf("parseRanks: %v", err)
	}
	if len(ranks) != 2 || ranks[0].StopID != "a" || ranks[0].Rank != 2 || ranks[1].Rank != 1 {
		t.Errorf("ranks = %+v", ranks)
	}
	for _, bad := range []string{"a", "=1", "a=x"} {
		if _, err := parseRanks([]string{bad}); err == nil {
			t.Errorf("parseRanks(%q) should fail", bad)
		}
	}
}
