package threat

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies how dangerous a threat is, as assigned by the
// upstream classifier.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// ParseSeverity validates a caller-supplied severity string. Unknown values
// are rejected at the boundary rather than clamped or defaulted.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToUpper(strings.TrimSpace(s))) {
	case SeverityCritical:
		return SeverityCritical, nil
	case SeverityHigh:
		return SeverityHigh, nil
	case SeverityMedium:
		return SeverityMedium, nil
	case SeverityLow:
		return SeverityLow, nil
	default:
		return "", fmt.Errorf("invalid severity %q (want CRITICAL, HIGH, MEDIUM or LOW)", s)
	}
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

// Weight maps a severity to its contribution in composite scoring.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.7
	case SeverityMedium:
		return 0.4
	case SeverityLow:
		return 0.1
	default:
		return 0
	}
}

// ActionType is a single analyst action against a threat.
type ActionType string

const (
	ActionView        ActionType = "view"
	ActionEscalate    ActionType = "escalate"
	ActionDismiss     ActionType = "dismiss"
	ActionInvestigate ActionType = "investigate"
)

// ParseActionType validates a caller-supplied action type.
func ParseActionType(s string) (ActionType, error) {
	switch ActionType(strings.ToLower(strings.TrimSpace(s))) {
	case ActionView:
		return ActionView, nil
	case ActionEscalate:
		return ActionEscalate, nil
	case ActionDismiss:
		return ActionDismiss, nil
	case ActionInvestigate:
		return ActionInvestigate, nil
	default:
		return "", fmt.Errorf("invalid action type %q (want view, escalate, dismiss or investigate)", s)
	}
}

// Outcome is an optional label an analyst attaches to a completed action,
// feeding the affinity scorer's success-rate bookkeeping.
type Outcome string

const (
	OutcomeTruePositive  Outcome = "true_positive"
	OutcomeFalsePositive Outcome = "false_positive"
	OutcomeUnknown       Outcome = ""
)

// ParseOutcome validates an outcome label from an external boundary.
// The empty string is valid and means the analyst did not label the action.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case OutcomeTruePositive, OutcomeFalsePositive, OutcomeUnknown:
		return Outcome(s), nil
	default:
		return "", fmt.Errorf("invalid outcome %q (want true_positive, false_positive or empty)", s)
	}
}

// MemoryType records why a threat earned a place in short-term memory.
type MemoryType string

const (
	MemoryValidated     MemoryType = "validated"
	MemoryPattern       MemoryType = "pattern"
	MemoryFalsePositive MemoryType = "false_positive"
)

// WorkingEntry is a Tier-1 record: a threat currently under investigation.
// Owned exclusively by the working memory store and mutated only through
// its interaction-recording operation.
type WorkingEntry struct {
	ThreatID         string                `json:"threat_id"`
	Content          string                `json:"content"`
	Severity         Severity              `json:"severity"`
	StartedAt        time.Time             `json:"started_at"`
	LastActivity     time.Time             `json:"last_activity"`
	AnalystActions   map[string]ActionType `json:"analyst_actions,omitempty"`
	InteractionCount int                   `json:"interaction_count"`
	EscalationCount  int                   `json:"escalation_count"`
	ViewCount        int                   `json:"view_count"`
	DismissCount     int                   `json:"dismiss_count"`
	Score            float64               `json:"threat_score"`
	Metadata         map[string]string     `json:"metadata,omitempty"`
}

// AnalystCount returns the number of distinct analysts that have acted on
// this threat.
func (e *WorkingEntry) AnalystCount() int {
	return len(e.AnalystActions)
}

// Clone returns a deep copy so stored entries never alias caller memory.
func (e *WorkingEntry) Clone() *WorkingEntry {
	cp := *e
	if e.AnalystActions != nil {
		cp.AnalystActions = make(map[string]ActionType, len(e.AnalystActions))
		for k, v := range e.AnalystActions {
			cp.AnalystActions[k] = v
		}
	}
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// ShortTermEntry is a Tier-2 record: a recently validated or
// pattern-matched threat. Created only by promotion out of working memory.
type ShortTermEntry struct {
	MemoryID           string            `json:"memory_id"`
	ThreatID           string            `json:"threat_id"`
	Content            string            `json:"content"`
	Severity           Severity          `json:"severity"`
	Confidence         float64           `json:"confidence"`
	Score              float64           `json:"score"`
	MemoryType         MemoryType        `json:"memory_type"`
	ConsolidationCount int               `json:"consolidation_count"`
	Validated          bool              `json:"validated"`
	Industry           string            `json:"industry,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	LastActivity       time.Time         `json:"last_activity"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy.
func (e *ShortTermEntry) Clone() *ShortTermEntry {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// LongTermEntry is a Tier-3 record: durable threat knowledge. A superset of
// the short-term fields plus decay protection and export state.
type LongTermEntry struct {
	ShortTermEntry

	// InitialConfidence is the confidence at promotion time; the decay
	// sweep recomputes Confidence from it rather than compounding.
	InitialConfidence float64   `json:"initial_confidence"`
	DecayProtected    bool      `json:"decay_protected"`
	Exported          bool      `json:"exported"`
	PromotedAt        time.Time `json:"promoted_at"`
}

// Clone returns a deep copy.
func (e *LongTermEntry) Clone() *LongTermEntry {
	cp := *e
	cp.ShortTermEntry = *e.ShortTermEntry.Clone()
	return &cp
}

// Clamp01 bounds a computed score or confidence to [0,1]. Only computed
// values are clamped; categorical inputs are validated instead.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
