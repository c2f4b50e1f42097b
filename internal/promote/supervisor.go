// Package promote implements the promotion supervisor: the only component
// allowed to move threat records between memory tiers. It evaluates the
// multi-signal promotion gates, claims entries before multi-step moves so
// concurrent sweeps cannot double-promote, and evicts stale low-score
// working entries.
package promote

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/recall/internal/memory"
	"github.com/linnemanlabs/recall/internal/threat"
)

// Config sets the promotion gates and sweep behavior.
type Config struct {
	// Working -> ShortTerm gates.
	ScoreThreshold float64 // composite score floor, default 0.7
	MinAnalysts    int     // distinct analyst floor, default 2
	MinEscalations int     // escalation floor for the OR-branch, default 2

	// ShortTerm -> LongTerm gates.
	ConfidenceThreshold float64 // default 0.8
	MinConsolidations   int     // default 3

	// Eviction.
	StaleAfter  time.Duration // no-activity window, default 30m
	EvictBelow  float64       // score ceiling for eviction, default 0.3
	Concurrency int           // parallel moves per sweep, default 8
}

// DefaultConfig returns the standard gates.
func DefaultConfig() Config {
	return Config{
		ScoreThreshold:      0.7,
		MinAnalysts:         2,
		MinEscalations:      2,
		ConfidenceThreshold: 0.8,
		MinConsolidations:   3,
		StaleAfter:          30 * time.Minute,
		EvictBelow:          0.3,
		Concurrency:         8,
	}
}

// Report summarises one promotion sweep.
type Report struct {
	WorkingScanned    int `json:"working_scanned"`
	ShortTermScanned  int `json:"short_term_scanned"`
	PromotedShortTerm int `json:"promoted_short_term"`
	Consolidated      int `json:"consolidated"`
	PromotedLongTerm  int `json:"promoted_long_term"`
	Lost              int `json:"lost"` // claimed by a concurrent sweep
	Failed            int `json:"failed"`
}

// Supervisor runs promotion and eviction sweeps over the tier stores.
type Supervisor struct {
	stores  memory.Stores
	cfg     Config
	logger  log.Logger
	metrics *memory.Metrics
	now     func() time.Time
}

// New creates a promotion supervisor. metrics may be nil.
func New(stores memory.Stores, cfg Config, logger log.Logger, metrics *memory.Metrics) *Supervisor {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Supervisor{
		stores:  stores,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Sweep runs one promotion pass over both lower tiers. Individual entry
// failures are logged and counted, never fatal to the batch. Safe to run
// concurrently with other sweeps: the claim step makes each move exclusive.
func (s *Supervisor) Sweep(ctx context.Context) (*Report, error) {
	start := s.now()
	report := &Report{}

	working, err := s.stores.Working.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list working memory: %w", err)
	}
	report.WorkingScanned = len(working)
	s.metrics.SetTierSize("working", len(working))

	results := make([]moveResult, len(working))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, e := range working {
		if !s.eligibleForShortTerm(e) {
			continue
		}
		i, e := i, e
		g.Go(func() error {
			results[i] = s.promoteWorking(gctx, e.ThreatID)
			return nil
		})
	}
	_ = g.Wait() // worker funcs never return errors; failures live in results
	for _, r := range results {
		report.apply(r)
	}

	shortTerm, err := s.stores.ShortTerm.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list short-term memory: %w", err)
	}
	report.ShortTermScanned = len(shortTerm)
	s.metrics.SetTierSize("short_term", len(shortTerm))

	results = make([]moveResult, len(shortTerm))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, e := range shortTerm {
		if !s.eligibleForLongTerm(e) {
			continue
		}
		i, e := i, e
		g.Go(func() error {
			results[i] = s.promoteShortTerm(gctx, e.MemoryID)
			return nil
		})
	}
	_ = g.Wait()
	for _, r := range results {
		report.apply(r)
	}

	s.metrics.ObserveSweep("promotion", s.now().Sub(start).Seconds())
	s.logger.Info(ctx, "promotion sweep complete",
		"working_scanned", report.WorkingScanned,
		"short_term_scanned", report.ShortTermScanned,
		"promoted_short_term", report.PromotedShortTerm,
		"consolidated", report.Consolidated,
		"promoted_long_term", report.PromotedLongTerm,
		"lost", report.Lost,
		"failed", report.Failed,
	)
	return report, nil
}

// Evict removes working entries with no activity for the staleness window
// and a score below the eviction ceiling. Returns the eviction count.
func (s *Supervisor) Evict(ctx context.Context) (int, error) {
	start := s.now()
	working, err := s.stores.Working.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("list working memory: %w", err)
	}

	cutoff := s.now().Add(-s.cfg.StaleAfter)
	evicted := 0
	for _, e := range working {
		if e.LastActivity.After(cutoff) || e.Score >= s.cfg.EvictBelow {
			continue
		}
		if err := s.stores.Working.Remove(ctx, e.ThreatID); err != nil {
			s.logger.Error(ctx, err, "evict failed", "threat_id", e.ThreatID)
			continue
		}
		s.metrics.IncEviction()
		evicted++
	}

	s.metrics.ObserveSweep("eviction", s.now().Sub(start).Seconds())
	if evicted > 0 {
		s.logger.Info(ctx, "eviction sweep complete", "evicted", evicted)
	}
	return evicted, nil
}

type moveOutcome int

const (
	outcomeNone moveOutcome = iota
	outcomePromoted
	outcomeConsolidated
	outcomeLost
	outcomeFailed
)

type moveResult struct {
	outcome    moveOutcome
	transition string
}

func (r *Report) apply(m moveResult) {
	switch m.outcome {
	case outcomePromoted:
		if m.transition == "working_to_short_term" {
			r.PromotedShortTerm++
		} else {
			r.PromotedLongTerm++
		}
	case outcomeConsolidated:
		r.Consolidated++
	case outcomeLost:
		r.Lost++
	case outcomeFailed:
		r.Failed++
	}
}

// eligibleForShortTerm checks the Working -> ShortTerm gates on a snapshot.
// Re-checked on the claimed entry before the move.
func (s *Supervisor) eligibleForShortTerm(e *threat.WorkingEntry) bool {
	if e.Score < s.cfg.ScoreThreshold {
		return false
	}
	if e.AnalystCount() < s.cfg.MinAnalysts {
		return false
	}
	severe := e.Severity == threat.SeverityCritical || e.Severity == threat.SeverityHigh
	return e.EscalationCount >= s.cfg.MinEscalations || severe
}

// eligibleForLongTerm checks the ShortTerm -> LongTerm gates.
func (s *Supervisor) eligibleForLongTerm(e *threat.ShortTermEntry) bool {
	return e.Confidence >= s.cfg.ConfidenceThreshold &&
		e.ConsolidationCount >= s.cfg.MinConsolidations &&
		e.Validated
}

// promoteWorking claims a working entry and moves it into short-term
// memory. If a short-term entry for the same threat already exists, the
// move consolidates into it instead of creating a duplicate.
func (s *Supervisor) promoteWorking(ctx context.Context, threatID string) moveResult {
	const transition = "working_to_short_term"

	e, ok, err := s.stores.Working.Claim(ctx, threatID)
	if err != nil {
		s.logger.Error(ctx, err, "claim failed", "threat_id", threatID)
		s.metrics.IncPromotion(transition, "failed")
		return moveResult{outcomeFailed, transition}
	}
	if !ok {
		// a concurrent sweep won the claim - expected, not an error
		s.metrics.IncPromotion(transition, "lost")
		return moveResult{outcomeLost, transition}
	}

	// gates re-checked on the claimed copy: the entry may have changed
	// between the scan and the claim
	if !s.eligibleForShortTerm(e) {
		s.restoreWorking(ctx, e)
		return moveResult{outcomeNone, transition}
	}

	now := s.now()

	if existing, ok, err := s.stores.ShortTerm.GetByThreatID(ctx, threatID); err == nil && ok {
		existing.ConsolidationCount++
		existing.Confidence = threat.Clamp01(existing.Confidence + 0.1)
		if e.Score > existing.Score {
			existing.Score = e.Score
		}
		if e.EscalationCount >= s.cfg.MinEscalations {
			existing.Validated = true
			existing.MemoryType = threat.MemoryValidated
		}
		existing.LastActivity = now
		if err := s.stores.ShortTerm.Put(ctx, existing); err != nil {
			s.logger.Error(ctx, err, "consolidation write failed", "threat_id", threatID)
			s.restoreWorking(ctx, e)
			s.metrics.IncPromotion(transition, "failed")
			return moveResult{outcomeFailed, transition}
		}
		s.metrics.IncPromotion(transition, "consolidated")
		s.logger.Info(ctx, "threat consolidated into short-term memory",
			"threat_id", threatID,
			"memory_id", existing.MemoryID,
			"consolidations", existing.ConsolidationCount,
		)
		return moveResult{outcomeConsolidated, transition}
	}

	entry := &threat.ShortTermEntry{
		MemoryID:           ulid.Make().String(),
		ThreatID:           e.ThreatID,
		Content:            e.Content,
		Severity:           e.Severity,
		Confidence:         threat.Clamp01(e.Score),
		Score:              e.Score,
		MemoryType:         classifyMemory(e, s.cfg.MinEscalations),
		ConsolidationCount: 1,
		Validated:          e.EscalationCount >= s.cfg.MinEscalations,
		Industry:           e.Metadata["industry"],
		CreatedAt:          now,
		LastActivity:       now,
		Metadata:           e.Metadata,
	}

	if err := s.stores.ShortTerm.Put(ctx, entry); err != nil {
		s.logger.Error(ctx, err, "short-term write failed", "threat_id", threatID)
		s.restoreWorking(ctx, e)
		s.metrics.IncPromotion(transition, "failed")
		return moveResult{outcomeFailed, transition}
	}

	s.metrics.IncPromotion(transition, "promoted")
	s.logger.Info(ctx, "threat promoted to short-term memory",
		"threat_id", threatID,
		"memory_id", entry.MemoryID,
		"memory_type", entry.MemoryType,
		"score", entry.Score,
	)
	return moveResult{outcomePromoted, transition}
}

// promoteShortTerm claims a short-term entry and moves it into long-term
// memory, marking it pending export to the graph collaborator.
func (s *Supervisor) promoteShortTerm(ctx context.Context, memoryID string) moveResult {
	const transition = "short_term_to_long_term"

	e, ok, err := s.stores.ShortTerm.Claim(ctx, memoryID)
	if err != nil {
		s.logger.Error(ctx, err, "claim failed", "memory_id", memoryID)
		s.metrics.IncPromotion(transition, "failed")
		return moveResult{outcomeFailed, transition}
	}
	if !ok {
		s.metrics.IncPromotion(transition, "lost")
		return moveResult{outcomeLost, transition}
	}

	if !s.eligibleForLongTerm(e) {
		s.restoreShortTerm(ctx, e)
		return moveResult{outcomeNone, transition}
	}

	// decay protection is an independent, re-checked threshold: it is not
	// assumed from the promotion gate even though the criteria overlap
	entry := &threat.LongTermEntry{
		ShortTermEntry:    *e,
		InitialConfidence: e.Confidence,
		DecayProtected:    e.Validated || e.ConsolidationCount >= s.cfg.MinConsolidations,
		Exported:          false,
		PromotedAt:        s.now(),
	}

	if err := s.stores.LongTerm.Put(ctx, entry); err != nil {
		s.logger.Error(ctx, err, "long-term write failed", "memory_id", memoryID)
		s.restoreShortTerm(ctx, e)
		s.metrics.IncPromotion(transition, "failed")
		return moveResult{outcomeFailed, transition}
	}

	s.metrics.IncPromotion(transition, "promoted")
	s.logger.Info(ctx, "memory promoted to long-term",
		"threat_id", entry.ThreatID,
		"memory_id", entry.MemoryID,
		"decay_protected", entry.DecayProtected,
	)
	return moveResult{outcomePromoted, transition}
}

// restoreWorking puts a claimed entry back after a failed or abandoned
// move. Best effort: on failure the entry is lost to its TTL, which is the
// same outcome expiry would have produced.
func (s *Supervisor) restoreWorking(ctx context.Context, e *threat.WorkingEntry) {
	if err := s.stores.Working.Put(ctx, e); err != nil {
		s.logger.Error(ctx, err, "restore to working memory failed", "threat_id", e.ThreatID)
	}
}

func (s *Supervisor) restoreShortTerm(ctx context.Context, e *threat.ShortTermEntry) {
	if err := s.stores.ShortTerm.Put(ctx, e); err != nil {
		s.logger.Error(ctx, err, "restore to short-term memory failed", "memory_id", e.MemoryID)
	}
}

// classifyMemory decides why a promoted threat is worth remembering.
// minEscalations is the same gate that drives the Validated flag, so the
// two cannot drift when the threshold is tuned.
func classifyMemory(e *threat.WorkingEntry, minEscalations int) threat.MemoryType {
	switch {
	case e.EscalationCount >= minEscalations:
		return threat.MemoryValidated
	case e.DismissCount > e.EscalationCount:
		return threat.MemoryFalsePositive
	default:
		return threat.MemoryPattern
	}
}
