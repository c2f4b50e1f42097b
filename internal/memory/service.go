package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/recall/internal/behavior"
	"github.com/linnemanlabs/recall/internal/threat"
)

// ActionSink receives a copy of every recorded analyst action. Wired to
// the behavior log so interactions feed the pattern aggregator.
type ActionSink interface {
	Record(rec behavior.ActionRecord)
}

// Service is the business boundary for the tiered threat memory: the
// ingestion and interaction contracts on Tier 1, and the dashboard query
// contracts across tiers.
type Service struct {
	stores  Stores
	actions ActionSink
	logger  log.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewService creates the memory service. actions and metrics may be nil.
func NewService(stores Stores, actions ActionSink, logger log.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		stores:  stores,
		actions: actions,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// AddThreat admits a new threat into working memory. Idempotent per
// threatID: re-ingesting an active threat returns the existing entry
// instead of duplicating it.
func (s *Service) AddThreat(ctx context.Context, threatID, content string, severity threat.Severity, metadata map[string]string) (*threat.WorkingEntry, error) {
	if threatID == "" {
		return nil, fmt.Errorf("threat id is required")
	}
	if !severity.Valid() {
		return nil, fmt.Errorf("invalid severity %q", severity)
	}

	if existing, ok, err := s.stores.Working.Get(ctx, threatID); err != nil {
		return nil, fmt.Errorf("check existing threat: %w", err)
	} else if ok {
		s.metrics.incIngested("duplicate")
		return existing, nil
	}

	now := s.now()
	e := &threat.WorkingEntry{
		ThreatID:       threatID,
		Content:        content,
		Severity:       severity,
		StartedAt:      now,
		LastActivity:   now,
		AnalystActions: make(map[string]threat.ActionType),
		Metadata:       metadata,
	}
	e.Score = threat.CompositeScore(e, now)

	if err := s.stores.Working.Put(ctx, e); err != nil {
		return nil, fmt.Errorf("store threat: %w", err)
	}

	s.metrics.incIngested("new")
	s.logger.Info(ctx, "threat admitted to working memory",
		"threat_id", threatID,
		"severity", severity,
		"score", e.Score,
	)
	return e, nil
}

// RecordInteraction applies a single analyst action to a working-memory
// entry: bumps the relevant counter, refreshes activity and recomputes the
// composite score. Returns (nil, nil) when the threat is no longer in
// working memory - a normal race with promotion or expiry, not an error.
func (s *Service) RecordInteraction(ctx context.Context, threatID, analystID string, action threat.ActionType) (*threat.WorkingEntry, error) {
	return s.RecordAnalystAction(ctx, threatID, analystID, action, threat.OutcomeUnknown, 0)
}

// RecordAnalystAction is the learning-loop variant of RecordInteraction:
// it additionally carries an optional outcome label and time spent, which
// feed the affinity scorer's success-rate bookkeeping.
func (s *Service) RecordAnalystAction(ctx context.Context, threatID, analystID string, action threat.ActionType, outcome threat.Outcome, timeSpent time.Duration) (*threat.WorkingEntry, error) {
	// The store applies the whole mutation atomically. A read-modify-write
	// here would race promotion: a Put after the supervisor's claim would
	// re-create the entry in working memory next to its short-term copy.
	e, ok, err := s.stores.Working.RecordAction(ctx, threatID, analystID, action, s.now())
	if err != nil {
		return nil, fmt.Errorf("record action: %w", err)
	}
	if !ok {
		// The threat may already live in a higher tier; the action is
		// still worth learning from.
		s.recordOrphanAction(threatID, analystID, action, outcome, timeSpent)
		return nil, nil
	}

	s.metrics.incInteraction(string(action))
	s.recordAction(e, analystID, action, outcome, timeSpent)
	return e, nil
}

// GetThreat returns a working-memory entry, ok=false when absent.
func (s *Service) GetThreat(ctx context.Context, threatID string) (*threat.WorkingEntry, bool, error) {
	return s.stores.Working.Get(ctx, threatID)
}

// ActiveThreats returns all live working-memory entries.
func (s *Service) ActiveThreats(ctx context.Context) ([]*threat.WorkingEntry, error) {
	return s.stores.Working.All(ctx)
}

// HotThreats returns working-memory entries with at least minInteractions,
// most interacted-with first.
func (s *Service) HotThreats(ctx context.Context, minInteractions int) ([]*threat.WorkingEntry, error) {
	all, err := s.stores.Working.All(ctx)
	if err != nil {
		return nil, err
	}
	hot := all[:0]
	for _, e := range all {
		if e.InteractionCount >= minInteractions {
			hot = append(hot, e)
		}
	}
	sort.Slice(hot, func(i, j int) bool {
		return hot[i].InteractionCount > hot[j].InteractionCount
	})
	return hot, nil
}

// RemoveThreat deletes a working-memory entry outright.
func (s *Service) RemoveThreat(ctx context.Context, threatID string) error {
	return s.stores.Working.Remove(ctx, threatID)
}

// TopThreats returns the highest-scored short-term memories for dashboard
// "top threats" views.
func (s *Service) TopThreats(ctx context.Context, limit int) ([]*threat.ShortTermEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.stores.ShortTerm.Top(ctx, limit)
}

// ThreatsBySeverity filters working memory by severity.
func (s *Service) ThreatsBySeverity(ctx context.Context, severity threat.Severity) ([]*threat.WorkingEntry, error) {
	all, err := s.stores.Working.All(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if e.Severity == severity {
			out = append(out, e)
		}
	}
	return out, nil
}

// ThreatsByScoreRange filters working memory by composite score.
func (s *Service) ThreatsByScoreRange(ctx context.Context, min, max float64) ([]*threat.WorkingEntry, error) {
	if min > max {
		return nil, fmt.Errorf("invalid score range: min %v > max %v", min, max)
	}
	all, err := s.stores.Working.All(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if e.Score >= min && e.Score <= max {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func (s *Service) recordAction(e *threat.WorkingEntry, analystID string, action threat.ActionType, outcome threat.Outcome, timeSpent time.Duration) {
	if s.actions == nil {
		return
	}
	s.actions.Record(behavior.ActionRecord{
		AnalystID: analystID,
		Action:    action,
		ThreatID:  e.ThreatID,
		Industry:  e.Metadata["industry"],
		Severity:  e.Severity,
		Timestamp: s.now(),
		TimeSpent: timeSpent,
		Outcome:   outcome,
	})
}

func (s *Service) recordOrphanAction(threatID, analystID string, action threat.ActionType, outcome threat.Outcome, timeSpent time.Duration) {
	if s.actions == nil {
		return
	}
	s.actions.Record(behavior.ActionRecord{
		AnalystID: analystID,
		Action:    action,
		ThreatID:  threatID,
		Timestamp: s.now(),
		TimeSpent: timeSpent,
		Outcome:   outcome,
	})
}
