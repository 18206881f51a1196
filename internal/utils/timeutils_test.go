package utils

import (
	"testing"
	"time"
)

func TestParseRFC3339(t *testing.T) {
	got, err := ParseRFC3339(" 2024-05-01T14:30:00.250+02:00 ")
	if err != nil {
		t.Fatalf("ParseRFC3339: %v", err)
	}
	want := time.Date(2024, 5, 1, 12, 30, 0, 250_000_000, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("got %v, want %v", got, want)
	}

	for _, bad := range []string{"", "2024-05-01", "yesterday"} {
		if _, err := ParseRFC3339(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
