package threat

import (
	"testing"
	"time"
)

func TestParseSeverity(t *testing.T) {
	t.Parallel()

	valid := map[string]Severity{
		"CRITICAL": SeverityCritical,
		"critical": SeverityCritical,
		" High ":   SeverityHigh,
		"medium":   SeverityMedium,
		"LOW":      SeverityLow,
	}
	for in, want := range valid {
		got, err := ParseSeverity(in)
		if err != nil {
			t.Errorf("ParseSeverity(%q): unexpected error %v", in, err)
		}
		if got != want {
			t.Errorf("ParseSeverity(%q) = %q, want %q", in, got, want)
		}
	}

	for _, in := range []string{"", "urgent", "p1", "CRITICAL!"} {
		if _, err := ParseSeverity(in); err == nil {
			t.Errorf("ParseSeverity(%q): expected error", in)
		}
	}
}

func TestParseActionType(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"view", "escalate", "dismiss", "investigate", "VIEW"} {
		if _, err := ParseActionType(in); err != nil {
			t.Errorf("ParseActionType(%q): unexpected error %v", in, err)
		}
	}
	for _, in := range []string{"", "delete", "snooze"} {
		if _, err := ParseActionType(in); err == nil {
			t.Errorf("ParseActionType(%q): expected error", in)
		}
	}
}

func TestParseOutcome(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "true_positive", "false_positive"} {
		if _, err := ParseOutcome(in); err != nil {
			t.Errorf("ParseOutcome(%q): unexpected error %v", in, err)
		}
	}
	for _, in := range []string{"maybe", "TRUE_POSITIVE", "benign"} {
		if _, err := ParseOutcome(in); err == nil {
			t.Errorf("ParseOutcome(%q): expected error", in)
		}
	}
}

func TestSeverityWeight(t *testing.T) {
	t.Parallel()

	want := map[Severity]float64{
		SeverityCritical: 1.0,
		SeverityHigh:     0.7,
		SeverityMedium:   0.4,
		SeverityLow:      0.1,
		Severity("bogus"): 0,
	}
	for sev, w := range want {
		if got := sev.Weight(); got != w {
			t.Errorf("%s.Weight() = %v, want %v", sev, got, w)
		}
	}
}

func TestWorkingEntryClone(t *testing.T) {
	t.Parallel()

	e := &WorkingEntry{
		ThreatID:       "t-1",
		AnalystActions: map[string]ActionType{"alice": ActionView},
		Metadata:       map[string]string{"industry": "finance"},
		LastActivity:   time.Now(),
	}
	cp := e.Clone()
	cp.AnalystActions["bob"] = ActionEscalate
	cp.Metadata["industry"] = "energy"

	if len(e.AnalystActions) != 1 {
		t.Error("clone shares AnalystActions map with original")
	}
	if e.Metadata["industry"] != "finance" {
		t.Error("clone shares Metadata map with original")
	}
}

func TestClamp01(t *testing.T) {
	t.Parallel()

	cases := map[float64]float64{-0.5: 0, 0: 0, 0.42: 0.42, 1: 1, 1.7: 1}
	for in, want := range cases {
		if got := Clamp01(in); got != want {
			t.Errorf("Clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}
