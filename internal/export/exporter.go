// Package export drains validated long-term memories into the
// organizational knowledge graph.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/recall/internal/memory"
	"github.com/linnemanlabs/recall/internal/threat"
)

// GraphWriter lands a single memory in the knowledge graph. Writes must
// be idempotent per memory ID: the drain loop retries failed batches, so
// a memory may be written more than once.
type GraphWriter interface {
	WriteMemory(ctx context.Context, e *threat.LongTermEntry) error
}

// Config bounds a single drain pass.
type Config struct {
	BatchSize int
}

// DefaultConfig returns the standard drain batch size.
func DefaultConfig() Config {
	return Config{BatchSize: 100}
}

// Exporter moves unexported long-term memories to the graph, marking each
// exported only after the write succeeds. Failures leave the entry
// pending for the next pass.
type Exporter struct {
	store   memory.LongTermStore
	graph   GraphWriter
	cfg     Config
	logger  log.Logger
	metrics *memory.Metrics
}

// New creates an Exporter. metrics may be nil.
func New(store memory.LongTermStore, graph GraphWriter, cfg Config, logger log.Logger, metrics *memory.Metrics) *Exporter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Exporter{
		store:   store,
		graph:   graph,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Report summarizes one drain pass.
type Report struct {
	Exported int
	Failed   int
}

// Drain exports one batch of pending memories. A failed write is logged
// and left pending; the pass continues with the rest of the batch.
func (x *Exporter) Drain(ctx context.Context) (Report, error) {
	start := time.Now()
	var report Report

	pending, err := x.store.Unexported(ctx, x.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list unexported memories: %w", err)
	}

	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := x.graph.WriteMemory(ctx, e); err != nil {
			report.Failed++
			x.metrics.IncExport("error")
			x.logger.Error(ctx, err, "graph export failed, will retry",
				"memory_id", e.MemoryID,
				"threat_id", e.ThreatID,
			)
			continue
		}
		if err := x.store.MarkExported(ctx, e.MemoryID); err != nil {
			// The graph write landed; the memory stays pending and will
			// be re-written next pass. Idempotent writes make this safe.
			report.Failed++
			x.metrics.IncExport("error")
			x.logger.Error(ctx, err, "mark exported failed",
				"memory_id", e.MemoryID,
			)
			continue
		}
		report.Exported++
		x.metrics.IncExport("ok")
	}

	x.metrics.ObserveSweep("export", time.Since(start).Seconds())
	if report.Exported > 0 || report.Failed > 0 {
		x.logger.Info(ctx, "graph export pass complete",
			"exported", report.Exported,
			"failed", report.Failed,
		)
	}
	return report, nil
}
