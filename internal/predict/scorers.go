package predict

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/linnemanlabs/recall/internal/behavior"
	"github.com/linnemanlabs/recall/internal/threat"
)

// Scorer is one member of the ensemble: a partial priority score in [0,1]
// with the evidence behind it.
type Scorer interface {
	Name() string
	Score(ctx context.Context, analyst behavior.Profile, t ThreatData) (float64, []string, error)
}

// recencyScore is the shared exponential decay used by the
// characteristics and temporal scorers: a 10-day half-life from first
// sighting. Unknown first-seen counts as fresh.
func recencyScore(firstSeen time.Time, now time.Time) float64 {
	if firstSeen.IsZero() {
		return 1
	}
	days := now.Sub(firstSeen).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Pow(0.5, days/10)
}

// affinityScorer matches a threat against an analyst's historical focus:
// industry share, specialization-vs-complexity fit, and severity
// preference, lightly shaded by the analyst's labelled success rate.
type affinityScorer struct {
	now func() time.Time
}

func (affinityScorer) Name() string { return ScorerAffinity }

func (s affinityScorer) Score(_ context.Context, analyst behavior.Profile, t ThreatData) (float64, []string, error) {
	if analyst.ActionCount == 0 {
		return neutralScore, []string{
			fmt.Sprintf("no analyst history for %s, using neutral affinity", analyst.AnalystID),
		}, nil
	}

	var reasons []string

	industryMatch := analyst.IndustryShare(t.Industry)
	if t.Industry == "" {
		industryMatch = neutralScore
		reasons = append(reasons, "threat industry unknown, neutral industry match")
	} else if industryMatch > 0 {
		reasons = append(reasons, fmt.Sprintf("analyst spends %.0f%% of views in %s", industryMatch*100, t.Industry))
	} else {
		reasons = append(reasons, fmt.Sprintf("analyst has no history in %s", t.Industry))
	}

	// a specialist suits a complex threat, a generalist a simple one
	complexityFit := 1 - math.Abs(analyst.SpecializationScore-t.Complexity)
	if analyst.SpecializationScore >= 0.7 && t.Complexity >= 0.7 {
		reasons = append(reasons, "specialist matched to a complex threat")
	}

	severityMatch := severityPreferenceMatch(analyst.PreferredSeverity, t.Severity)
	if analyst.PreferredSeverity != "" && analyst.PreferredSeverity == t.Severity {
		reasons = append(reasons, fmt.Sprintf("severity %s matches analyst focus", t.Severity))
	}

	score := 0.40*industryMatch + 0.30*complexityFit + 0.30*severityMatch

	// labelled outcomes shade the raw affinity up to ±10%
	if analyst.Outcomes > 0 {
		score *= 0.9 + 0.2*analyst.SuccessRate
		if analyst.SuccessRate >= 0.8 {
			reasons = append(reasons, fmt.Sprintf("analyst success rate %.0f%% over %d labelled outcomes", analyst.SuccessRate*100, analyst.Outcomes))
		}
	}

	return threat.Clamp01(score), reasons, nil
}

// severityPreferenceMatch scores how close a threat's severity sits to the
// analyst's preferred one: 1.0 exact, fading with distance.
func severityPreferenceMatch(preferred, actual threat.Severity) float64 {
	if preferred == "" || actual == "" {
		return neutralScore
	}
	rank := map[threat.Severity]int{
		threat.SeverityLow:      0,
		threat.SeverityMedium:   1,
		threat.SeverityHigh:     2,
		threat.SeverityCritical: 3,
	}
	distance := rank[preferred] - rank[actual]
	if distance < 0 {
		distance = -distance
	}
	switch distance {
	case 0:
		return 1.0
	case 1:
		return 0.7
	case 2:
		return 0.4
	default:
		return 0.2
	}
}

// characteristicsScorer rates the threat on its own merits: severity
// weighted by classifier confidence, source corroboration, and recency.
type characteristicsScorer struct {
	now func() time.Time
}

func (characteristicsScorer) Name() string { return ScorerCharacteristics }

func (s characteristicsScorer) Score(_ context.Context, _ behavior.Profile, t ThreatData) (float64, []string, error) {
	var reasons []string

	sevConfidence := t.Severity.Weight() * t.Confidence
	if t.Severity == threat.SeverityCritical || t.Severity == threat.SeverityHigh {
		reasons = append(reasons, fmt.Sprintf("%s severity at %.0f%% classifier confidence", t.Severity, t.Confidence*100))
	}

	// corroboration saturates at five sources
	sources := math.Min(1, float64(t.SourceCount)/5)
	if t.SourceCount >= 3 {
		reasons = append(reasons, fmt.Sprintf("corroborated by %d sources", t.SourceCount))
	} else if t.SourceCount == 0 {
		reasons = append(reasons, "no corroborating sources")
	}

	recency := recencyScore(t.FirstSeen, s.now())
	if recency > 0.9 && !t.FirstSeen.IsZero() {
		reasons = append(reasons, "recently observed threat")
	}

	score := 0.50*sevConfidence + 0.30*sources + 0.20*recency
	return threat.Clamp01(score), reasons, nil
}

// temporalScorer rates how alive the threat is right now: campaign
// membership and evolution stage from the capability hooks, plus the same
// recency decay the characteristics scorer uses.
type temporalScorer struct {
	caps Capabilities
	now  func() time.Time
}

func (temporalScorer) Name() string { return ScorerTemporal }

func (s temporalScorer) Score(ctx context.Context, _ behavior.Profile, t ThreatData) (float64, []string, error) {
	var reasons []string

	campaign, ok := s.caps.campaign(ctx, t)
	if !ok {
		reasons = append(reasons, "campaign intelligence not available, neutral")
	} else if campaign > 0.7 {
		reasons = append(reasons, "threat matches an active campaign")
	}

	evolution, ok := s.caps.evolution(ctx, t)
	if ok && evolution > 0.7 {
		reasons = append(reasons, "threat is in an escalating lifecycle stage")
	}

	recency := recencyScore(t.FirstSeen, s.now())

	score := 0.40*campaign + 0.30*evolution + 0.30*recency
	return threat.Clamp01(score), reasons, nil
}

// orgContextScorer rates how squarely the threat aims at this
// organization: targeting specificity and past-incident correlation.
type orgContextScorer struct {
	caps Capabilities
}

func (orgContextScorer) Name() string { return ScorerOrgContext }

func (s orgContextScorer) Score(ctx context.Context, _ behavior.Profile, t ThreatData) (float64, []string, error) {
	var reasons []string

	specificity := targetingSpecificity(t.TargetIndustries)
	switch {
	case len(t.TargetIndustries) == 0:
		reasons = append(reasons, "targeting unknown, neutral specificity")
	case specificity >= 0.8:
		reasons = append(reasons, fmt.Sprintf("narrowly targeted at %v", t.TargetIndustries))
	case specificity <= 0.3:
		reasons = append(reasons, "indiscriminate targeting")
	}

	incident, ok := s.caps.incident(ctx, t)
	if !ok {
		reasons = append(reasons, "incident history not available, neutral")
	} else if incident > 0.7 {
		reasons = append(reasons, "correlates with past organizational incidents")
	}

	score := 0.60*specificity + 0.40*incident
	return threat.Clamp01(score), reasons, nil
}

// targetingSpecificity maps a target-industry list to [0,1]: the narrower
// the aim, the higher the score. Unknown targeting is neutral.
func targetingSpecificity(targets []string) float64 {
	if len(targets) == 0 {
		return neutralScore
	}
	for _, target := range targets {
		if target == "all" {
			return 0.2
		}
	}
	switch len(targets) {
	case 1:
		return 1.0
	case 2:
		return 0.8
	case 3:
		return 0.6
	default:
		return 0.4
	}
}
