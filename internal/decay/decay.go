// Package decay implements the long-term confidence decay model: a
// periodic job that erodes the confidence of unprotected knowledge.
// Validated facts do not decay - decay-protected entries are skipped
// entirely, not decayed at a slower rate.
package decay

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/recall/internal/memory"
)

// Config sets the decay schedule parameters.
type Config struct {
	// RatePerDay is the daily decay rate, default 0.001.
	RatePerDay float64
	// Floor is the confidence an unprotected entry can never fall below,
	// default 0.3.
	Floor float64
}

// DefaultConfig returns the standard decay parameters.
func DefaultConfig() Config {
	return Config{RatePerDay: 0.001, Floor: 0.3}
}

// Validate rejects non-sensical decay parameters.
func (c Config) Validate() error {
	if c.RatePerDay < 0 || c.RatePerDay >= 1 {
		return fmt.Errorf("invalid decay rate %v (must be in [0,1))", c.RatePerDay)
	}
	if c.Floor < 0 || c.Floor > 1 {
		return fmt.Errorf("invalid decay floor %v (must be in [0,1])", c.Floor)
	}
	return nil
}

// Report summarises one decay sweep, for observability.
type Report struct {
	Updated   int     `json:"updated"`
	Protected int     `json:"protected"`
	MeanDelta float64 `json:"mean_delta"`
}

// Sweeper runs confidence decay over long-term memory.
type Sweeper struct {
	store   memory.LongTermStore
	cfg     Config
	logger  log.Logger
	metrics *memory.Metrics
	now     func() time.Time
}

// New creates a decay sweeper. metrics may be nil.
func New(store memory.LongTermStore, cfg Config, logger log.Logger, metrics *memory.Metrics) *Sweeper {
	if logger == nil {
		logger = log.Nop()
	}
	return &Sweeper{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock overrides the sweeper's clock, for decay-horizon tests.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Run executes one decay sweep. Per-entry store failures are logged and
// skipped rather than aborting the batch. Idempotent for a fixed clock:
// confidence is recomputed from the promotion-time initial value, not
// compounded from the current one.
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	start := s.now()
	entries, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list long-term memory: %w", err)
	}
	s.metrics.SetTierSize("long_term", len(entries))

	report := &Report{}
	var totalDelta float64

	for _, e := range entries {
		if e.DecayProtected {
			report.Protected++
			continue
		}

		days := s.now().Sub(e.PromotedAt).Hours() / 24
		if days < 0 {
			days = 0
		}
		decayed := e.InitialConfidence * math.Pow(1-s.cfg.RatePerDay, days)
		if decayed < s.cfg.Floor {
			decayed = s.cfg.Floor
		}
		if decayed == e.Confidence {
			continue
		}

		if err := s.store.UpdateConfidence(ctx, e.MemoryID, decayed); err != nil {
			s.logger.Error(ctx, err, "confidence update failed", "memory_id", e.MemoryID)
			continue
		}
		totalDelta += decayed - e.Confidence
		report.Updated++
	}

	if report.Updated > 0 {
		report.MeanDelta = totalDelta / float64(report.Updated)
	}

	s.metrics.ObserveDecay(report.Updated, report.Protected, report.MeanDelta)
	s.metrics.ObserveSweep("decay", s.now().Sub(start).Seconds())
	s.logger.Info(ctx, "decay sweep complete",
		"updated", report.Updated,
		"protected", report.Protected,
		"mean_delta", report.MeanDelta,
	)
	return report, nil
}
