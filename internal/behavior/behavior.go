// Package behavior turns an analyst's raw action log into a feature
// summary used by the predictive engine: industry focus, escalation rate,
// specialization, and active hours.
package behavior

import (
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/recall/internal/threat"
)

// Investigation velocity categories derived from average time per threat.
const (
	VelocityHigh    = "high"    // under 60s average
	VelocityMedium  = "medium"  // under 180s average
	VelocityLow     = "low"     // 180s or more
	VelocityUnknown = "unknown" // no timed actions yet
)

const (
	// activeHourThreshold is the share of an analyst's actions an hour of
	// day must exceed to count as an active hour.
	activeHourThreshold = 0.05

	// topIndustries is how many industries a profile surfaces.
	topIndustries = 5
)

// ActionRecord is one append-only analyst action log entry.
type ActionRecord struct {
	AnalystID string            `json:"analyst_id"`
	Action    threat.ActionType `json:"action_type"`
	ThreatID  string            `json:"threat_id"`
	Industry  string            `json:"industry,omitempty"`
	Severity  threat.Severity   `json:"severity,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	TimeSpent time.Duration     `json:"time_spent,omitempty"`
	Outcome   threat.Outcome    `json:"outcome,omitempty"`
}

// IndustryCount pairs an industry with how often the analyst viewed it.
type IndustryCount struct {
	Industry string `json:"industry"`
	Count    int    `json:"count"`
}

// Profile is the aggregated behavior summary for one analyst. Recomputed
// on demand and cacheable; never authoritative state.
type Profile struct {
	AnalystID             string          `json:"analyst_id"`
	ActionCount           int             `json:"action_count"`
	MostViewedIndustries  []IndustryCount `json:"most_viewed_industries,omitempty"`
	EscalationRate        float64         `json:"escalation_rate"`
	AvgTimePerThreat      float64         `json:"avg_time_per_threat_seconds"`
	PreferredSeverity     threat.Severity `json:"preferred_severity,omitempty"`
	SpecializationScore   float64         `json:"specialization_score"`
	ActiveHours           []int           `json:"active_hours,omitempty"`
	InvestigationVelocity string          `json:"investigation_velocity"`

	// SuccessRate is the fraction of labelled outcomes that were true
	// positives. 0.5 when the analyst has no labelled history.
	SuccessRate float64 `json:"success_rate"`
	Outcomes    int     `json:"outcomes"`
}

// IndustryShare returns the fraction of the analyst's views that hit the
// given industry, 0 when unseen.
func (p Profile) IndustryShare(industry string) float64 {
	if industry == "" || len(p.MostViewedIndustries) == 0 {
		return 0
	}
	total := 0
	match := 0
	for _, ic := range p.MostViewedIndustries {
		total += ic.Count
		if ic.Industry == industry {
			match = ic.Count
		}
	}
	if total == 0 {
		return 0
	}
	return float64(match) / float64(total)
}

// Log is the bounded in-process analyst action log. Records are immutable
// once written; the per-analyst window is capped and the oldest entries
// trimmed.
type Log struct {
	mu        sync.RWMutex
	max       int
	byAnalyst map[string][]ActionRecord

	cacheTTL time.Duration
	cache    map[string]cachedProfile
	now      func() time.Time
}

type cachedProfile struct {
	profile    Profile
	computedAt time.Time
}

// NewLog creates an action log keeping at most maxPerAnalyst records per
// analyst and caching computed profiles for cacheTTL (0 disables caching).
func NewLog(maxPerAnalyst int, cacheTTL time.Duration) *Log {
	if maxPerAnalyst <= 0 {
		maxPerAnalyst = 500
	}
	return &Log{
		max:       maxPerAnalyst,
		byAnalyst: make(map[string][]ActionRecord),
		cacheTTL:  cacheTTL,
		cache:     make(map[string]cachedProfile),
		now:       time.Now,
	}
}

// Record appends an action to the analyst's window, trimming the oldest
// entry once the cap is reached.
func (l *Log) Record(rec ActionRecord) {
	if rec.AnalystID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	window := append(l.byAnalyst[rec.AnalystID], rec)
	if len(window) > l.max {
		window = window[len(window)-l.max:]
	}
	l.byAnalyst[rec.AnalystID] = window
	delete(l.cache, rec.AnalystID)
}

// Recent returns a copy of the analyst's action window, oldest first.
func (l *Log) Recent(analystID string) []ActionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	window := l.byAnalyst[analystID]
	out := make([]ActionRecord, len(window))
	copy(out, window)
	return out
}

// Profile returns the analyst's aggregated behavior profile, serving a
// cached copy when it is still fresh.
func (l *Log) Profile(analystID string) Profile {
	l.mu.RLock()
	if c, ok := l.cache[analystID]; ok && l.cacheTTL > 0 && l.now().Sub(c.computedAt) < l.cacheTTL {
		l.mu.RUnlock()
		return c.profile
	}
	window := l.byAnalyst[analystID]
	records := make([]ActionRecord, len(window))
	copy(records, window)
	l.mu.RUnlock()

	p := Aggregate(analystID, records)

	if l.cacheTTL > 0 {
		l.mu.Lock()
		l.cache[analystID] = cachedProfile{profile: p, computedAt: l.now()}
		l.mu.Unlock()
	}
	return p
}

// Aggregate computes a behavior profile from an action window. Pure; an
// empty window yields a well-defined neutral profile rather than an error.
func Aggregate(analystID string, records []ActionRecord) Profile {
	p := Profile{
		AnalystID:             analystID,
		ActionCount:           len(records),
		InvestigationVelocity: VelocityUnknown,
		SuccessRate:           0.5,
	}
	if len(records) == 0 {
		return p
	}

	var (
		views, escalations int
		industryViews      = make(map[string]int)
		severityCounts     = make(map[threat.Severity]int)
		hourCounts         [24]int
		timedActions       int
		totalTime          time.Duration
		truePositives      int
		labelled           int
	)

	for _, r := range records {
		switch r.Action {
		case threat.ActionView:
			views++
			if r.Industry != "" {
				industryViews[r.Industry]++
			}
		case threat.ActionEscalate:
			escalations++
		}
		if r.Severity != "" {
			severityCounts[r.Severity]++
		}
		if !r.Timestamp.IsZero() {
			hourCounts[r.Timestamp.Hour()]++
		}
		if r.TimeSpent > 0 {
			timedActions++
			totalTime += r.TimeSpent
		}
		switch r.Outcome {
		case threat.OutcomeTruePositive:
			labelled++
			truePositives++
		case threat.OutcomeFalsePositive:
			labelled++
		}
	}

	// top industries by view count, deterministic order
	for industry, n := range industryViews {
		p.MostViewedIndustries = append(p.MostViewedIndustries, IndustryCount{Industry: industry, Count: n})
	}
	sort.Slice(p.MostViewedIndustries, func(i, j int) bool {
		a, b := p.MostViewedIndustries[i], p.MostViewedIndustries[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Industry < b.Industry
	})
	if len(p.MostViewedIndustries) > topIndustries {
		p.MostViewedIndustries = p.MostViewedIndustries[:topIndustries]
	}

	if views > 0 {
		p.EscalationRate = float64(escalations) / float64(views)
	}

	if len(p.MostViewedIndustries) > 0 && views > 0 {
		p.SpecializationScore = threat.Clamp01(float64(p.MostViewedIndustries[0].Count) / float64(views))
	}

	var bestSev threat.Severity
	bestSevCount := 0
	for _, sev := range []threat.Severity{threat.SeverityCritical, threat.SeverityHigh, threat.SeverityMedium, threat.SeverityLow} {
		if severityCounts[sev] > bestSevCount {
			bestSev, bestSevCount = sev, severityCounts[sev]
		}
	}
	p.PreferredSeverity = bestSev

	for hour, n := range hourCounts {
		if float64(n)/float64(len(records)) > activeHourThreshold {
			p.ActiveHours = append(p.ActiveHours, hour)
		}
	}

	if timedActions > 0 {
		p.AvgTimePerThreat = totalTime.Seconds() / float64(timedActions)
		switch {
		case p.AvgTimePerThreat < 60:
			p.InvestigationVelocity = VelocityHigh
		case p.AvgTimePerThreat < 180:
			p.InvestigationVelocity = VelocityMedium
		default:
			p.InvestigationVelocity = VelocityLow
		}
	}

	if labelled > 0 {
		p.SuccessRate = float64(truePositives) / float64(labelled)
		p.Outcomes = labelled
	}

	return p
}
