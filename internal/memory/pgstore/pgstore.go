// Package pgstore provides a PostgreSQL implementation of the three tier
// stores.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/recall/internal/memory"
)

var tracer = otel.Tracer("github.com/linnemanlabs/recall/internal/memory/pgstore")

//go:embed schema.sql
var schema string

// Config sets the per-tier TTLs, applied as expires_at on every write.
type Config struct {
	WorkingTTL   time.Duration
	ShortTermTTL time.Duration
	LongTermTTL  time.Duration
}

// DefaultConfig returns the standard tier lifetimes.
func DefaultConfig() Config {
	return Config{
		WorkingTTL:   time.Hour,
		ShortTermTTL: 24 * time.Hour,
		LongTermTTL:  365 * 24 * time.Hour,
	}
}

// Store persists the threat memory tiers in PostgreSQL. Expired rows are
// invisible to reads; Purge deletes them for real.
type Store struct {
	pool *pgxpool.Pool
	cfg  Config
}

// New connects to PostgreSQL, applies the schema, and returns a ready Store.
func New(ctx context.Context, databaseURL string, cfg Config) (*Store, error) {
	if cfg.WorkingTTL <= 0 {
		cfg = DefaultConfig()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool, cfg: cfg}, nil
}

// NewWithPool wraps an existing pool, for callers that configure tracing
// on the pool themselves. The schema is still applied.
func NewWithPool(ctx context.Context, pool *pgxpool.Pool, cfg Config) (*Store, error) {
	if cfg.WorkingTTL <= 0 {
		cfg = DefaultConfig()
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool, cfg: cfg}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Stores returns the three tier views backed by this store.
func (s *Store) Stores() memory.Stores {
	return memory.Stores{
		Working:   &workingStore{s},
		ShortTerm: &shortTermStore{s},
		LongTerm:  &longTermStore{s},
	}
}

// Purge deletes expired rows from all tiers. Reads already exclude them;
// this reclaims the space.
func (s *Store) Purge(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "pgstore.Purge", "DELETE")
	defer span.End()

	for _, table := range []string{"working_memory", "short_term_memory", "long_term_memory"} {
		if _, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE expires_at <= now()`); err != nil {
			recordSpanErr(span, err)
			return fmt.Errorf("purge %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func recordSpanErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
