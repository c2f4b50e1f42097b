package threat

import (
	"math"
	"time"
)

// Composite score weights. The four factors sum to 1.0 so the result stays
// in [0,1] before clamping.
const (
	severityWeight   = 0.30
	engagementWeight = 0.20
	escalationWeight = 0.30
	recencyWeight    = 0.20

	// engagement saturates at 10 interactions, escalation at 3.
	engagementSaturation = 10.0
	escalationSaturation = 3.0

	// recency half-life in minutes of inactivity.
	recencyHalfLifeMinutes = 30.0
)

// CompositeScore computes the 0..1 threat score for a working-memory entry
// at the given instant. Pure and deterministic: the result depends only on
// the entry's fields and now.
func CompositeScore(e *WorkingEntry, now time.Time) float64 {
	severity := e.Severity.Weight()

	engagement := math.Min(1, float64(e.InteractionCount)/engagementSaturation)
	escalation := math.Min(1, float64(e.EscalationCount)/escalationSaturation)

	ageMinutes := now.Sub(e.LastActivity).Minutes()
	if ageMinutes < 0 {
		ageMinutes = 0
	}
	recency := math.Exp(-ageMinutes / recencyHalfLifeMinutes)

	score := severity*severityWeight +
		engagement*engagementWeight +
		escalation*escalationWeight +
		recency*recencyWeight

	return Clamp01(score)
}
