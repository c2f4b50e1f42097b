package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/recall/internal/threat"
)

type shortTermStore struct {
	s *Store
}

const shortTermColumns = `memory_id, threat_id, content, severity, confidence, score, memory_type,
	consolidation_count, validated, industry, created_at, last_activity, metadata`

// Put upserts the entry and refreshes its TTL. The threat_id unique
// constraint keeps one short-term memory per threat.
func (st *shortTermStore) Put(ctx context.Context, e *threat.ShortTermEntry) error {
	ctx, span := st.s.startSpan(ctx, "pgstore.ShortTerm.Put", "UPSERT")
	defer span.End()

	metadataJSON, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO short_term_memory (
		memory_id, threat_id, content, severity, confidence, score, memory_type,
		consolidation_count, validated, industry, created_at, last_activity, metadata, expires_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	ON CONFLICT (memory_id) DO UPDATE SET
		content             = EXCLUDED.content,
		severity            = EXCLUDED.severity,
		confidence          = EXCLUDED.confidence,
		score               = EXCLUDED.score,
		memory_type         = EXCLUDED.memory_type,
		consolidation_count = EXCLUDED.consolidation_count,
		validated           = EXCLUDED.validated,
		industry            = EXCLUDED.industry,
		last_activity       = EXCLUDED.last_activity,
		metadata            = EXCLUDED.metadata,
		expires_at          = EXCLUDED.expires_at`

	_, err = st.s.pool.Exec(ctx, query,
		e.MemoryID, e.ThreatID, e.Content, string(e.Severity), e.Confidence, e.Score, string(e.MemoryType),
		e.ConsolidationCount, e.Validated, e.Industry, e.CreatedAt, e.LastActivity, metadataJSON,
		time.Now().Add(st.s.cfg.ShortTermTTL),
	)
	if err != nil {
		recordSpanErr(span, err)
		return fmt.Errorf("upsert short-term entry: %w", err)
	}
	return nil
}

func (st *shortTermStore) Get(ctx context.Context, memoryID string) (*threat.ShortTermEntry, bool, error) {
	ctx, span := st.s.startSpan(ctx, "pgstore.ShortTerm.Get", "SELECT")
	defer span.End()

	query := `SELECT ` + shortTermColumns + ` FROM short_term_memory WHERE memory_id = $1 AND expires_at > now()`
	return st.one(ctx, span, query, memoryID)
}

func (st *shortTermStore) GetByThreatID(ctx context.Context, threatID string) (*threat.ShortTermEntry, bool, error) {
	ctx, span := st.s.startSpan(ctx, "pgstore.ShortTerm.GetByThreatID", "SELECT")
	defer span.End()

	query := `SELECT ` + shortTermColumns + ` FROM short_term_memory WHERE threat_id = $1 AND expires_at > now()`
	return st.one(ctx, span, query, threatID)
}

func (st *shortTermStore) All(ctx context.Context) ([]*threat.ShortTermEntry, error) {
	ctx, span := st.s.startSpan(ctx, "pgstore.ShortTerm.All", "SELECT")
	defer span.End()

	query := `SELECT ` + shortTermColumns + ` FROM short_term_memory WHERE expires_at > now()`
	return st.many(ctx, span, query)
}

// Top returns up to limit entries ranked by score, highest first.
func (st *shortTermStore) Top(ctx context.Context, limit int) ([]*threat.ShortTermEntry, error) {
	ctx, span := st.s.startSpan(ctx, "pgstore.ShortTerm.Top", "SELECT")
	defer span.End()

	query := `SELECT ` + shortTermColumns + ` FROM short_term_memory
		WHERE expires_at > now() ORDER BY score DESC, memory_id LIMIT $1`
	return st.many(ctx, span, query, limit)
}

// Claim atomically deletes and returns the entry.
func (st *shortTermStore) Claim(ctx context.Context, memoryID string) (*threat.ShortTermEntry, bool, error) {
	ctx, span := st.s.startSpan(ctx, "pgstore.ShortTerm.Claim", "DELETE")
	defer span.End()

	query := `DELETE FROM short_term_memory WHERE memory_id = $1 AND expires_at > now() RETURNING ` + shortTermColumns
	return st.one(ctx, span, query, memoryID)
}

func (st *shortTermStore) one(ctx context.Context, span trace.Span, query string, args ...any) (*threat.ShortTermEntry, bool, error) {
	e, err := scanShortTermRow(st.s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		recordSpanErr(span, err)
		return nil, false, err
	}
	if e == nil {
		return nil, false, nil
	}
	return e, true, nil
}

func (st *shortTermStore) many(ctx context.Context, span trace.Span, query string, args ...any) ([]*threat.ShortTermEntry, error) {
	rows, err := st.s.pool.Query(ctx, query, args...)
	if err != nil {
		recordSpanErr(span, err)
		return nil, fmt.Errorf("query short-term entries: %w", err)
	}
	defer rows.Close()

	var entries []*threat.ShortTermEntry
	for rows.Next() {
		e, err := scanShortTermRow(rows)
		if err != nil {
			recordSpanErr(span, err)
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		recordSpanErr(span, err)
		return nil, fmt.Errorf("iterate short-term entries: %w", err)
	}
	return entries, nil
}

// scanShortTermRow scans a single row into a ShortTermEntry. Returns
// (nil, nil) when no row is found.
func scanShortTermRow(row pgx.Row) (*threat.ShortTermEntry, error) {
	var (
		e            threat.ShortTermEntry
		severity     string
		memoryType   string
		metadataJSON []byte
	)

	err := row.Scan(
		&e.MemoryID, &e.ThreatID, &e.Content, &severity, &e.Confidence, &e.Score, &memoryType,
		&e.ConsolidationCount, &e.Validated, &e.Industry, &e.CreatedAt, &e.LastActivity, &metadataJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	e.Severity = threat.Severity(severity)
	e.MemoryType = threat.MemoryType(memoryType)
	if err := unmarshalMetadata(metadataJSON, &e.Metadata); err != nil {
		return nil, err
	}
	return &e, nil
}
