package scheduler

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in     string
		kind   Kind
		every  time.Duration
		cron   string
		source string
	}{
		{in: "60s", kind: KindInterval, every: time.Minute, source: "duration"},
		{in: "1m30s", kind: KindInterval, every: 90 * time.Second, source: "duration"},
		{in: "00:05", kind: KindInterval, every: 5 * time.Minute, source: "hhmm"},
		{in: "every: 02:30", kind: KindInterval, every: 150 * time.Minute, source: "hhmm"},
		{in: "interval:45s", kind: KindInterval, every: 45 * time.Second, source: "duration"},
		{in: "*/2 * * * *", kind: KindCron, cron: "*/2 * * * *", source: "cron"},
		{in: "@every 1m", kind: KindCron, cron: "@every 1m", source: "cron"},
		{in: "cron: 0 9 * * 1-5", kind: KindCron, cron: "0 9 * * 1-5", source: "cron"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.in, err)
			}
			if got.Kind != tt.kind || got.Every != tt.every || got.Cron != tt.cron || got.Source != tt.source {
				t.Fatalf("Parse(%q) = %+v", tt.in, got)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "cron:", "every:", "0s", "-5s", "00:00", "01:75", "soon"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) expected error", in)
		}
	}
}

func TestIntervalKeepsSubSecondPrecision(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, in := range []string{"1.5s", "1m30.5s", "500ms", "00:05"} {
		sp, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", in, err)
		}
		sched, err := schedule(sp)
		if err != nil {
			t.Fatalf("schedule(%q) error: %v", in, err)
		}
		if got := sched.Next(base).Sub(base); got != sp.Every {
			t.Errorf("%q fires every %s, want %s", in, got, sp.Every)
		}
	}
	if _, err := schedule(Spec{Kind: KindInterval}); err == nil {
		t.Error("zero interval expected error")
	}
}
