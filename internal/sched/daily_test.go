package sched

import (
	"context"
	"testing"
	"time"
)

func TestParseDaily(t *testing.T) {
	cases := []struct {
		in     string
		hour   int
		minute int
		ok     bool
	}{
		{"02:30", 2, 30, true},
		{"0:0", 0, 0, true},
		{"23:59", 23, 59, true},
		{" 7:05 ", 7, 5, true},
		{"24:00", 0, 0, false},
		{"12:60", 0, 0, false},
		{"-1:30", 0, 0, false},
		{"noon", 0, 0, false},
		{"12", 0, 0, false},
		{"12:3a", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, c := range cases {
		hour, minute, err := ParseDaily(c.in)
		if c.ok && err != nil {
			t.Fatalf("ParseDaily(%q) unexpected error: %v", c.in, err)
		}
		if !c.ok {
			if err == nil {
				t.Fatalf("ParseDaily(%q) expected error", c.in)
			}
			continue
		}
		if hour != c.hour || minute != c.minute {
			t.Fatalf("ParseDaily(%q) = %d:%d, want %d:%d", c.in, hour, minute, c.hour, c.minute)
		}
	}
}

func TestNextAfter(t *testing.T) {
	base := time.Date(2024, 6, 10, 14, 0, 0, 0, time.UTC)

	got := nextAfter(base, 18, 30)
	want := time.Date(2024, 6, 10, 18, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("later today: got %v, want %v", got, want)
	}

	got = nextAfter(base, 6, 0)
	want = time.Date(2024, 6, 11, 6, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("tomorrow: got %v, want %v", got, want)
	}

	// The exact scheduled instant rolls to the next day.
	got = nextAfter(base, 14, 0)
	want = time.Date(2024, 6, 11, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("boundary: got %v, want %v", got, want)
	}
}

func TestDailyRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	d := Daily{Hour: 3, Minute: 0, Fn: func() { t.Error("unexpected fire") }}
	go func() { done <- d.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
