// Package graph writes long-term threat memories to the organizational
// Neo4j knowledge graph.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/recall/internal/threat"
)

// Config holds the Neo4j connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string

	ConnectTimeout time.Duration
	MaxConnections int
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("neo4j uri is required")
	}
	if c.Username == "" {
		return fmt.Errorf("neo4j username is required")
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 25
	}
	return nil
}

// Client is a thin wrapper over the Neo4j driver exposing the single
// write shape the exporter needs.
type Client struct {
	driver neo4j.DriverWithContext
	cfg    Config
	logger log.Logger
	tracer trace.Tracer
}

// NewClient connects to Neo4j and verifies connectivity before returning.
func NewClient(ctx context.Context, cfg Config, logger log.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid neo4j config: %w", err)
	}
	if logger == nil {
		logger = log.Nop()
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = cfg.MaxConnections
			c.ConnectionAcquisitionTimeout = cfg.ConnectTimeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	logger.Info(ctx, "connected to knowledge graph",
		"uri", cfg.URI,
		"database", cfg.Database,
	)
	return &Client{
		driver: driver,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("recall.graph"),
	}, nil
}

const mergeMemoryQuery = `
MERGE (m:ThreatMemory {memory_id: $memory_id})
SET m.threat_id = $threat_id,
    m.content = $content,
    m.severity = $severity,
    m.confidence = $confidence,
    m.memory_type = $memory_type,
    m.consolidation_count = $consolidation_count,
    m.validated = $validated,
    m.promoted_at = $promoted_at
WITH m
CALL {
    WITH m
    WITH m WHERE $industry <> ''
    MERGE (i:Industry {name: $industry})
    MERGE (m)-[:TARGETS]->(i)
}
RETURN m.memory_id`

// WriteMemory upserts a memory node keyed by memory ID, linking it to its
// industry when one is known. Safe to call repeatedly for the same memory.
func (c *Client) WriteMemory(ctx context.Context, e *threat.LongTermEntry) error {
	ctx, span := c.tracer.Start(ctx, "graph.WriteMemory",
		trace.WithAttributes(attribute.String("memory.id", e.MemoryID)))
	defer span.End()

	_, err := neo4j.ExecuteQuery(ctx, c.driver, mergeMemoryQuery,
		map[string]any{
			"memory_id":           e.MemoryID,
			"threat_id":           e.ThreatID,
			"content":             e.Content,
			"severity":            string(e.Severity),
			"confidence":          e.Confidence,
			"memory_type":         string(e.MemoryType),
			"consolidation_count": e.ConsolidationCount,
			"validated":           e.Validated,
			"promoted_at":         e.PromotedAt.UTC().Format(time.RFC3339),
			"industry":            e.Industry,
		},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.cfg.Database),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("merge memory %s: %w", e.MemoryID, err)
	}
	return nil
}

// Close releases the driver's connection pool.
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}
