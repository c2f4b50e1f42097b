package predict

import "context"

// Capability hooks into intelligence the engine does not own: long-term
// campaign knowledge, threat evolution tracking, and the graph
// collaborator's incident history. Each returns available=false while the
// backing capability is not yet wired, and the consuming scorer substitutes
// a neutral 0.5 so the ensemble degrades predictably instead of silently
// returning constants.

// CampaignDetector reports whether a threat belongs to a known campaign.
type CampaignDetector interface {
	CampaignScore(ctx context.Context, t ThreatData) (score float64, available bool, err error)
}

// EvolutionTracker estimates how far along its lifecycle a threat is.
type EvolutionTracker interface {
	EvolutionScore(ctx context.Context, t ThreatData) (score float64, available bool, err error)
}

// IncidentCorrelator matches a threat against past organizational
// incidents in the graph store.
type IncidentCorrelator interface {
	IncidentScore(ctx context.Context, t ThreatData) (score float64, available bool, err error)
}

// Capabilities bundles the optional hooks; nil fields mean not available.
type Capabilities struct {
	Campaign  CampaignDetector
	Evolution EvolutionTracker
	Incident  IncidentCorrelator
}

const neutralScore = 0.5

func (c Capabilities) campaign(ctx context.Context, t ThreatData) (float64, bool) {
	if c.Campaign == nil {
		return neutralScore, false
	}
	score, ok, err := c.Campaign.CampaignScore(ctx, t)
	if err != nil || !ok {
		return neutralScore, false
	}
	return score, true
}

func (c Capabilities) evolution(ctx context.Context, t ThreatData) (float64, bool) {
	if c.Evolution == nil {
		return neutralScore, false
	}
	score, ok, err := c.Evolution.EvolutionScore(ctx, t)
	if err != nil || !ok {
		return neutralScore, false
	}
	return score, true
}

func (c Capabilities) incident(ctx context.Context, t ThreatData) (float64, bool) {
	if c.Incident == nil {
		return neutralScore, false
	}
	score, ok, err := c.Incident.IncidentScore(ctx, t)
	if err != nil || !ok {
		return neutralScore, false
	}
	return score, true
}
