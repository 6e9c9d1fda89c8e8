package config

import (
	"testing"
	"time"
)

func TestParseAge(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30", 30 * time.Second},
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"48h", 48 * time.Hour},
		{"2d", 48 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{" 12 h ", 12 * time.Hour},
		{"0", 0},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAge(tc.in)
			if err != nil {
				t.Fatalf("ParseAge(%q) returned error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ParseAge(%q) returned %s, want %s", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseAgeRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "h", "-5m", "1.5h", "10y", "3 d x", "99999999999999999999w"} {
		if _, err := ParseAge(in); err == nil {
			t.Fatalf("ParseAge(%q) returned nil error", in)
		}
	}
}

func TestCutoff(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	want := time.Date(2024, 2, 28, 12, 0, 0, 0, time.UTC)
	if got := Cutoff(now, 2*24*time.Hour); !got.Equal(want) {
		t.Fatalf("Cutoff returned %s, want %s", got, want)
	}
}
