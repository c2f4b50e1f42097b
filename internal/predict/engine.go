package predict

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/recall/internal/behavior"
	"github.com/linnemanlabs/recall/internal/threat"
)

const (
	maxReasons = 5

	// each degraded scorer knocks this much off the final confidence
	degradedConfidencePenalty = 0.1
)

// Weights sets the ensemble combination. The four weights must sum to 1.0.
type Weights struct {
	Affinity        float64
	Characteristics float64
	Temporal        float64
	OrgContext      float64
}

// DefaultWeights returns the standard ensemble weighting.
func DefaultWeights() Weights {
	return Weights{
		Affinity:        0.40,
		Characteristics: 0.30,
		Temporal:        0.20,
		OrgContext:      0.10,
	}
}

// Validate asserts the weights sum to 1.0. Called at startup; prediction
// never re-checks.
func (w Weights) Validate() error {
	sum := w.Affinity + w.Characteristics + w.Temporal + w.OrgContext
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("ensemble weights sum to %v, must sum to 1.0", sum)
	}
	for name, v := range map[string]float64{
		"affinity":        w.Affinity,
		"characteristics": w.Characteristics,
		"temporal":        w.Temporal,
		"org_context":     w.OrgContext,
	} {
		if v < 0 {
			return fmt.Errorf("ensemble weight %s is negative (%v)", name, v)
		}
	}
	return nil
}

// ProfileSource supplies analyst behavior profiles, normally the behavior
// log.
type ProfileSource interface {
	Profile(analystID string) behavior.Profile
}

type weightedScorer struct {
	scorer Scorer
	weight float64
}

// Engine combines the four scorers into per-analyst priority predictions.
type Engine struct {
	scorers  []weightedScorer
	profiles ProfileSource
	logger   log.Logger
	metrics  *Metrics
	now      func() time.Time
}

// New creates the ensemble engine. Returns an error if the weights do not
// sum to 1.0. metrics may be nil; caps fields may be nil for capabilities
// that are not yet wired.
func New(weights Weights, profiles ProfileSource, caps Capabilities, logger log.Logger, metrics *Metrics) (*Engine, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Nop()
	}
	now := time.Now
	return &Engine{
		scorers: []weightedScorer{
			{affinityScorer{now: now}, weights.Affinity},
			{characteristicsScorer{now: now}, weights.Characteristics},
			{temporalScorer{caps: caps, now: now}, weights.Temporal},
			{orgContextScorer{caps: caps}, weights.OrgContext},
		},
		profiles: profiles,
		logger:   logger,
		metrics:  metrics,
		now:      now,
	}, nil
}

type scorerOutput struct {
	name     string
	score    float64
	reasons  []string
	degraded bool
}

// Predict ranks a threat for an analyst. The four scorers run
// concurrently and are joined before combining; a scorer failing or
// panicking degrades to a neutral score with lowered confidence rather
// than failing the prediction.
func (e *Engine) Predict(ctx context.Context, analystID string, t ThreatData) (*Result, error) {
	start := e.now()
	analyst := e.profiles.Profile(analystID)

	outputs := make([]scorerOutput, len(e.scorers))
	var wg sync.WaitGroup
	for i, ws := range e.scorers {
		wg.Add(1)
		go func(i int, ws weightedScorer) {
			defer wg.Done()
			outputs[i] = e.runScorer(ctx, ws.scorer, analyst, t)
		}(i, ws)
	}
	wg.Wait()

	result := &Result{
		AnalystID: analystID,
		ThreatID:  t.ThreatID,
		Scores:    make(map[string]float64, len(outputs)),
	}

	var priority float64
	degraded := 0
	for i, out := range outputs {
		result.Scores[out.name] = out.score
		priority += out.score * e.scorers[i].weight
		if out.degraded {
			degraded++
		}
	}
	result.PredictedPriority = threat.Clamp01(priority)

	confidence := 0.6*completeness(t) + 0.4*agreement(outputs)
	confidence -= float64(degraded) * degradedConfidencePenalty
	if analyst.ActionCount == 0 {
		// no behavioral history to match against
		confidence -= degradedConfidencePenalty
	}
	result.Confidence = threat.Clamp01(confidence)

	result.Reasons = topReasons(outputs, maxReasons)

	switch {
	case result.PredictedPriority >= 0.9 && result.Confidence >= 0.8:
		result.Recommendation = RecommendImmediateAlert
	case result.PredictedPriority >= 0.7:
		result.Recommendation = RecommendPriorityReview
	default:
		result.Recommendation = RecommendStandardQueue
	}

	e.metrics.observePrediction(result.Recommendation, e.now().Sub(start).Seconds())
	e.logger.Info(ctx, "prediction computed",
		"analyst_id", analystID,
		"threat_id", t.ThreatID,
		"priority", result.PredictedPriority,
		"confidence", result.Confidence,
		"recommendation", result.Recommendation,
		"degraded_scorers", degraded,
	)
	return result, nil
}

// runScorer executes one scorer, converting panics and errors into a
// neutral degraded output.
func (e *Engine) runScorer(ctx context.Context, s Scorer, analyst behavior.Profile, t ThreatData) (out scorerOutput) {
	out.name = s.Name()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, fmt.Errorf("panic: %v", r), "scorer panicked", "scorer", out.name)
			e.metrics.incScorerFailure(out.name)
			out.score = neutralScore
			out.reasons = []string{fmt.Sprintf("%s scorer unavailable, confidence degraded", out.name)}
			out.degraded = true
		}
	}()

	score, reasons, err := s.Score(ctx, analyst, t)
	if err != nil {
		e.logger.Error(ctx, err, "scorer failed", "scorer", out.name)
		e.metrics.incScorerFailure(out.name)
		out.score = neutralScore
		out.reasons = []string{fmt.Sprintf("%s scorer unavailable, confidence degraded", out.name)}
		out.degraded = true
		return out
	}
	out.score = threat.Clamp01(score)
	out.reasons = reasons
	return out
}

// topReasons interleaves one reason per scorer in ensemble order before
// truncating, so a verbose scorer cannot crowd the others out of the
// capped list.
func topReasons(outputs []scorerOutput, max int) []string {
	var out []string
	for i := 0; ; i++ {
		took := false
		for _, o := range outputs {
			if i >= len(o.reasons) {
				continue
			}
			out = append(out, o.reasons[i])
			took = true
			if len(out) == max {
				return out
			}
		}
		if !took {
			return out
		}
	}
}

// completeness is the fraction of {severity, confidence, industry,
// sources} present on the input.
func completeness(t ThreatData) float64 {
	present := 0
	if t.Severity != "" {
		present++
	}
	if t.Confidence > 0 {
		present++
	}
	if t.Industry != "" {
		present++
	}
	if t.SourceCount > 0 {
		present++
	}
	return float64(present) / 4
}

// agreement is 1 - min(1, 2*variance): scorers that disagree drag the
// confidence down.
func agreement(outputs []scorerOutput) float64 {
	if len(outputs) == 0 {
		return 0
	}
	var sum float64
	for _, o := range outputs {
		sum += o.score
	}
	mean := sum / float64(len(outputs))

	var variance float64
	for _, o := range outputs {
		d := o.score - mean
		variance += d * d
	}
	variance /= float64(len(outputs))

	return 1 - math.Min(1, 2*variance)
}
