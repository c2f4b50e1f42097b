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

type longTermStore struct {
	s *Store
}

const longTermColumns = `memory_id, threat_id, content, severity, confidence, score, memory_type,
	consolidation_count, validated, industry, created_at, last_activity, metadata,
	initial_confidence, decay_protected, exported, promoted_at`

// Put upserts the entry and refreshes its TTL.
func (lt *longTermStore) Put(ctx context.Context, e *threat.LongTermEntry) error {
	ctx, span := lt.s.startSpan(ctx, "pgstore.LongTerm.Put", "UPSERT")
	defer span.End()

	metadataJSON, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO long_term_memory (
		memory_id, threat_id, content, severity, confidence, score, memory_type,
		consolidation_count, validated, industry, created_at, last_activity, metadata,
		initial_confidence, decay_protected, exported, promoted_at, expires_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
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
		initial_confidence  = EXCLUDED.initial_confidence,
		decay_protected     = EXCLUDED.decay_protected,
		exported            = EXCLUDED.exported,
		promoted_at         = EXCLUDED.promoted_at,
		expires_at          = EXCLUDED.expires_at`

	_, err = lt.s.pool.Exec(ctx, query,
		e.MemoryID, e.ThreatID, e.Content, string(e.Severity), e.Confidence, e.Score, string(e.MemoryType),
		e.ConsolidationCount, e.Validated, e.Industry, e.CreatedAt, e.LastActivity, metadataJSON,
		e.InitialConfidence, e.DecayProtected, e.Exported, e.PromotedAt,
		time.Now().Add(lt.s.cfg.LongTermTTL),
	)
	if err != nil {
		recordSpanErr(span, err)
		return fmt.Errorf("upsert long-term entry: %w", err)
	}
	return nil
}

func (lt *longTermStore) Get(ctx context.Context, memoryID string) (*threat.LongTermEntry, bool, error) {
	ctx, span := lt.s.startSpan(ctx, "pgstore.LongTerm.Get", "SELECT")
	defer span.End()

	query := `SELECT ` + longTermColumns + ` FROM long_term_memory WHERE memory_id = $1 AND expires_at > now()`
	return lt.one(ctx, span, query, memoryID)
}

func (lt *longTermStore) GetByThreatID(ctx context.Context, threatID string) (*threat.LongTermEntry, bool, error) {
	ctx, span := lt.s.startSpan(ctx, "pgstore.LongTerm.GetByThreatID", "SELECT")
	defer span.End()

	query := `SELECT ` + longTermColumns + ` FROM long_term_memory WHERE threat_id = $1 AND expires_at > now()`
	return lt.one(ctx, span, query, threatID)
}

func (lt *longTermStore) All(ctx context.Context) ([]*threat.LongTermEntry, error) {
	ctx, span := lt.s.startSpan(ctx, "pgstore.LongTerm.All", "SELECT")
	defer span.End()

	query := `SELECT ` + longTermColumns + ` FROM long_term_memory WHERE expires_at > now()`
	return lt.many(ctx, span, query)
}

// UpdateConfidence sets the current confidence for a single entry.
func (lt *longTermStore) UpdateConfidence(ctx context.Context, memoryID string, confidence float64) error {
	ctx, span := lt.s.startSpan(ctx, "pgstore.LongTerm.UpdateConfidence", "UPDATE")
	defer span.End()

	tag, err := lt.s.pool.Exec(ctx,
		`UPDATE long_term_memory SET confidence = $2 WHERE memory_id = $1`, memoryID, confidence)
	if err != nil {
		recordSpanErr(span, err)
		return fmt.Errorf("update confidence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("memory %s not found", memoryID)
	}
	return nil
}

// Unexported returns up to limit entries pending graph export, oldest
// promotion first.
func (lt *longTermStore) Unexported(ctx context.Context, limit int) ([]*threat.LongTermEntry, error) {
	ctx, span := lt.s.startSpan(ctx, "pgstore.LongTerm.Unexported", "SELECT")
	defer span.End()

	query := `SELECT ` + longTermColumns + ` FROM long_term_memory
		WHERE NOT exported AND expires_at > now() ORDER BY promoted_at LIMIT $1`
	return lt.many(ctx, span, query, limit)
}

func (lt *longTermStore) MarkExported(ctx context.Context, memoryID string) error {
	ctx, span := lt.s.startSpan(ctx, "pgstore.LongTerm.MarkExported", "UPDATE")
	defer span.End()

	tag, err := lt.s.pool.Exec(ctx,
		`UPDATE long_term_memory SET exported = TRUE WHERE memory_id = $1`, memoryID)
	if err != nil {
		recordSpanErr(span, err)
		return fmt.Errorf("mark exported: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("memory %s not found", memoryID)
	}
	return nil
}

func (lt *longTermStore) one(ctx context.Context, span trace.Span, query string, args ...any) (*threat.LongTermEntry, bool, error) {
	e, err := scanLongTermRow(lt.s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		recordSpanErr(span, err)
		return nil, false, err
	}
	if e == nil {
		return nil, false, nil
	}
	return e, true, nil
}

func (lt *longTermStore) many(ctx context.Context, span trace.Span, query string, args ...any) ([]*threat.LongTermEntry, error) {
	rows, err := lt.s.pool.Query(ctx, query, args...)
	if err != nil {
		recordSpanErr(span, err)
		return nil, fmt.Errorf("query long-term entries: %w", err)
	}
	defer rows.Close()

	var entries []*threat.LongTermEntry
	for rows.Next() {
		e, err := scanLongTermRow(rows)
		if err != nil {
			recordSpanErr(span, err)
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		recordSpanErr(span, err)
		return nil, fmt.Errorf("iterate long-term entries: %w", err)
	}
	return entries, nil
}

// scanLongTermRow scans a single row into a LongTermEntry. Returns
// (nil, nil) when no row is found.
func scanLongTermRow(row pgx.Row) (*threat.LongTermEntry, error) {
	var (
		e            threat.LongTermEntry
		severity     string
		memoryType   string
		metadataJSON []byte
	)

	err := row.Scan(
		&e.MemoryID, &e.ThreatID, &e.Content, &severity, &e.Confidence, &e.Score, &memoryType,
		&e.ConsolidationCount, &e.Validated, &e.Industry, &e.CreatedAt, &e.LastActivity, &metadataJSON,
		&e.InitialConfidence, &e.DecayProtected, &e.Exported, &e.PromotedAt,
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
