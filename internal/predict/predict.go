// Package predict implements the ensemble predictive-prioritization
// engine: four independent scorers run concurrently per prediction and
// their weighted combination ranks a threat for a specific analyst, with
// human-readable reasons so every prediction is traceable to evidence.
package predict

import (
	"fmt"
	"time"

	"github.com/linnemanlabs/recall/internal/threat"
)

// Recommendation values, from the priority/confidence thresholds.
const (
	RecommendImmediateAlert = "immediate_alert"
	RecommendPriorityReview = "priority_review"
	RecommendStandardQueue  = "standard_queue"
)

// Scorer names, used as keys in Result.Scores.
const (
	ScorerAffinity        = "analyst_affinity"
	ScorerCharacteristics = "threat_characteristics"
	ScorerTemporal        = "temporal_relevance"
	ScorerOrgContext      = "organizational_context"
)

// ThreatData is the engine's view of an incoming threat. Fields may be
// missing; completeness feeds the confidence estimate rather than causing
// errors.
type ThreatData struct {
	ThreatID   string          `json:"threat_id"`
	Severity   threat.Severity `json:"severity,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Industry   string          `json:"industry,omitempty"`

	// SourceCount is the number of corroborating intelligence sources.
	SourceCount int `json:"source_count,omitempty"`

	// FirstSeen drives recency decay; zero means unknown.
	FirstSeen time.Time `json:"first_seen,omitempty"`

	// TargetIndustries narrows who the threat is aimed at; empty means
	// unknown, ["all"] means indiscriminate.
	TargetIndustries []string `json:"target_industries,omitempty"`

	// Complexity in [0,1] estimates how much expertise triaging the
	// threat demands.
	Complexity float64 `json:"complexity,omitempty"`
}

// Validate rejects malformed categorical or out-of-range input. Missing
// fields stay legal (they only lower confidence); present fields must be
// well-formed, so a bad severity label or an out-of-range confidence is
// an error rather than something scoring silently absorbs.
func (t ThreatData) Validate() error {
	if t.ThreatID == "" {
		return fmt.Errorf("threat_id is required")
	}
	if t.Severity != "" && !t.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", t.Severity)
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0, 1]", t.Confidence)
	}
	if t.Complexity < 0 || t.Complexity > 1 {
		return fmt.Errorf("complexity %v outside [0, 1]", t.Complexity)
	}
	if t.SourceCount < 0 {
		return fmt.Errorf("source_count %d is negative", t.SourceCount)
	}
	return nil
}

// Result is an ephemeral priority prediction. Computed on demand; callers
// may cache it but it is never persisted as first-class state.
type Result struct {
	AnalystID         string             `json:"analyst_id"`
	ThreatID          string             `json:"threat_id"`
	PredictedPriority float64            `json:"predicted_priority"`
	Confidence        float64            `json:"confidence"`
	Scores            map[string]float64 `json:"scores"`
	Reasons           []string           `json:"reasons"`
	Recommendation    string             `json:"recommendation"`
}
