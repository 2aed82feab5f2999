package timeutil

import (
	"testing"
	"time"
)

func TestParseLocation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in         string
		wantOffset int
		wantErr    bool
	}{
		{in: "UTC", wantOffset: 0},
		{in: "+06:00", wantOffset: 6 * 3600},
		{in: "UTC-0430", wantOffset: -(4*3600 + 30*60)},
		{in: "GMT+3", wantOffset: 3 * 3600},
		{in: "", wantErr: true},
		{in: "Mars/Olympus", wantErr: true},
		{in: "+15:00", wantErr: true},
	}
	ref := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	for _, tc := range cases {
		loc, err := ParseLocation(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseLocation(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseLocation(%q) error: %v", tc.in, err)
		}
		if _, off := ref.In(loc).Zone(); off != tc.wantOffset {
			t.Fatalf("ParseLocation(%q) offset = %d, want %d", tc.in, off, tc.wantOffset)
		}
	}
}

func TestFormatLocal(t *testing.T) {
	t.Parallel()

	loc, _ := ParseUTCOffsetToLocation("+06:00")
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if got := FormatLocal(ts, loc); got != "2024-05-01 16:00:00" {
		t.Fatalf("FormatLocal = %q", got)
	}
	if got := FormatLocal(time.Time{}, loc); got != "-" {
		t.Fatalf("FormatLocal(zero) = %q", got)
	}
}

func TestHumanizeRemaining(t *testing.T) {
	t.Parallel()

	if got := HumanizeRemaining(9*time.Minute + 30*time.Second + 200*time.Millisecond); got != "9m30s" {
		t.Fatalf("HumanizeRemaining = %q", got)
	}
	if got := HumanizeRemaining(-time.Second); got != "0s" {
		t.Fatalf("HumanizeRemaining(negative) = %q", got)
	}
}
