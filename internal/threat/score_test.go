package threat

import (
	"math"
	"testing"
	"time"
)

func baseEntry(now time.Time) *WorkingEntry {
	return &WorkingEntry{
		ThreatID:     "t-1",
		Severity:     SeverityMedium,
		StartedAt:    now,
		LastActivity: now,
	}
}

func TestCompositeScore_Bounds(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cases := []struct {
		name  string
		entry *WorkingEntry
	}{
		{"zero activity", baseEntry(now)},
		{"saturated", &WorkingEntry{
			Severity:         SeverityCritical,
			LastActivity:     now,
			InteractionCount: 1000,
			EscalationCount:  100,
		}},
		{"ancient", &WorkingEntry{
			Severity:     SeverityLow,
			LastActivity: now.Add(-24 * time.Hour),
		}},
	}

	for _, tc := range cases {
		s := CompositeScore(tc.entry, now)
		if s < 0 || s > 1 {
			t.Errorf("%s: score = %v, want in [0,1]", tc.name, s)
		}
	}
}

func TestCompositeScore_SaturatedCritical(t *testing.T) {
	t.Parallel()

	now := time.Now()
	e := &WorkingEntry{
		Severity:         SeverityCritical,
		LastActivity:     now,
		InteractionCount: 10,
		EscalationCount:  3,
	}
	// all four factors at 1.0
	if got := CompositeScore(e, now); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("score = %v, want 1.0", got)
	}
}

func TestCompositeScore_SeverityOrdering(t *testing.T) {
	t.Parallel()

	now := time.Now()
	var prev float64 = -1
	for _, sev := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		e := baseEntry(now)
		e.Severity = sev
		s := CompositeScore(e, now)
		if s <= prev {
			t.Errorf("severity %s: score %v not greater than previous %v", sev, s, prev)
		}
		prev = s
	}
}

func TestCompositeScore_RecencyHalfLife(t *testing.T) {
	t.Parallel()

	now := time.Now()
	fresh := baseEntry(now)
	stale := baseEntry(now)
	stale.LastActivity = now.Add(-30 * time.Minute)

	fs := CompositeScore(fresh, now)
	ss := CompositeScore(stale, now)

	// fresh recency is 1.0, 30 minutes of inactivity is exp(-1).
	wantDelta := (1 - math.Exp(-1)) * 0.20
	if got := fs - ss; math.Abs(got-wantDelta) > 1e-9 {
		t.Errorf("recency delta = %v, want %v", got, wantDelta)
	}
}

func TestCompositeScore_Pure(t *testing.T) {
	t.Parallel()

	now := time.Now()
	e := &WorkingEntry{
		Severity:         SeverityHigh,
		LastActivity:     now.Add(-5 * time.Minute),
		InteractionCount: 4,
		EscalationCount:  1,
		ViewCount:        3,
	}

	first := CompositeScore(e, now)
	for i := 0; i < 100; i++ {
		if got := CompositeScore(e, now); got != first {
			t.Fatalf("call %d: score = %v, want %v (must be deterministic)", i, got, first)
		}
	}
}

func TestCompositeScore_FutureActivityClamped(t *testing.T) {
	t.Parallel()

	now := time.Now()
	e := baseEntry(now)
	e.LastActivity = now.Add(10 * time.Minute) // clock skew

	s := CompositeScore(e, now)
	if s < 0 || s > 1 {
		t.Errorf("score = %v, want in [0,1]", s)
	}
}

func FuzzCompositeScore(f *testing.F) {
	// Seeds: quiet entry, saturated entry, negative counters, far-future activity.
	f.Add(0, 0, int64(0))
	f.Add(100, 50, int64(-3600))
	f.Add(-5, -2, int64(600))
	f.Add(1, 1, int64(-86400*365))

	now := time.Unix(1700000000, 0).UTC()
	f.Fuzz(func(t *testing.T, interactions, escalations int, ageSeconds int64) {
		e := baseEntry(now)
		e.Severity = SeverityCritical
		e.InteractionCount = interactions
		e.EscalationCount = escalations
		e.LastActivity = now.Add(-time.Duration(ageSeconds) * time.Second)

		got := CompositeScore(e, now)
		if got < 0 || got > 1 || math.IsNaN(got) {
			t.Errorf("CompositeScore = %v, want in [0,1]", got)
		}
		if again := CompositeScore(e, now); again != got {
			t.Errorf("CompositeScore not deterministic: %v then %v", got, again)
		}
	})
}
