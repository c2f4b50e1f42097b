package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/linnemanlabs/recall/internal/threat"
)

type workingStore struct {
	s *Store
}

const workingColumns = `threat_id, content, severity, started_at, last_activity, analyst_actions,
	interaction_count, escalation_count, view_count, dismiss_count, score, metadata`

// Put upserts the entry and refreshes its TTL.
func (w *workingStore) Put(ctx context.Context, e *threat.WorkingEntry) error {
	ctx, span := w.s.startSpan(ctx, "pgstore.Working.Put", "UPSERT")
	defer span.End()

	actionsJSON, err := json.Marshal(e.AnalystActions)
	if err != nil {
		return fmt.Errorf("marshal analyst actions: %w", err)
	}
	metadataJSON, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO working_memory (
		threat_id, content, severity, started_at, last_activity, analyst_actions,
		interaction_count, escalation_count, view_count, dismiss_count, score, metadata, expires_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT (threat_id) DO UPDATE SET
		content           = EXCLUDED.content,
		severity          = EXCLUDED.severity,
		last_activity     = EXCLUDED.last_activity,
		analyst_actions   = EXCLUDED.analyst_actions,
		interaction_count = EXCLUDED.interaction_count,
		escalation_count  = EXCLUDED.escalation_count,
		view_count        = EXCLUDED.view_count,
		dismiss_count     = EXCLUDED.dismiss_count,
		score             = EXCLUDED.score,
		metadata          = EXCLUDED.metadata,
		expires_at        = EXCLUDED.expires_at`

	_, err = w.s.pool.Exec(ctx, query,
		e.ThreatID, e.Content, string(e.Severity), e.StartedAt, e.LastActivity, actionsJSON,
		e.InteractionCount, e.EscalationCount, e.ViewCount, e.DismissCount, e.Score, metadataJSON,
		time.Now().Add(w.s.cfg.WorkingTTL),
	)
	if err != nil {
		recordSpanErr(span, err)
		return fmt.Errorf("upsert working entry: %w", err)
	}
	return nil
}

func (w *workingStore) Get(ctx context.Context, threatID string) (*threat.WorkingEntry, bool, error) {
	ctx, span := w.s.startSpan(ctx, "pgstore.Working.Get", "SELECT")
	defer span.End()

	query := `SELECT ` + workingColumns + ` FROM working_memory WHERE threat_id = $1 AND expires_at > now()`
	e, err := scanWorkingRow(w.s.pool.QueryRow(ctx, query, threatID))
	if err != nil {
		recordSpanErr(span, err)
		return nil, false, err
	}
	if e == nil {
		return nil, false, nil
	}
	return e, true, nil
}

func (w *workingStore) All(ctx context.Context) ([]*threat.WorkingEntry, error) {
	ctx, span := w.s.startSpan(ctx, "pgstore.Working.All", "SELECT")
	defer span.End()

	rows, err := w.s.pool.Query(ctx,
		`SELECT `+workingColumns+` FROM working_memory WHERE expires_at > now()`)
	if err != nil {
		recordSpanErr(span, err)
		return nil, fmt.Errorf("query working entries: %w", err)
	}
	defer rows.Close()

	var entries []*threat.WorkingEntry
	for rows.Next() {
		e, err := scanWorkingRow(rows)
		if err != nil {
			recordSpanErr(span, err)
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		recordSpanErr(span, err)
		return nil, fmt.Errorf("iterate working entries: %w", err)
	}
	return entries, nil
}

// RecordAction bumps the interaction counters server-side so concurrent
// actions on the same entry never lose increments, and updates only live
// rows so a racing Claim can never be undone by a stale write-back. The
// counter bump and the derived score write share a transaction; a claim
// arriving in between blocks on the row lock until commit.
func (w *workingStore) RecordAction(ctx context.Context, threatID, analystID string, action threat.ActionType, now time.Time) (*threat.WorkingEntry, bool, error) {
	ctx, span := w.s.startSpan(ctx, "pgstore.Working.RecordAction", "UPDATE")
	defer span.End()

	tx, err := w.s.pool.Begin(ctx)
	if err != nil {
		recordSpanErr(span, err)
		return nil, false, fmt.Errorf("begin record action: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	query := `UPDATE working_memory SET
		interaction_count = interaction_count + 1,
		view_count        = view_count + CASE WHEN $2 = 'view' THEN 1 ELSE 0 END,
		escalation_count  = escalation_count + CASE WHEN $2 = 'escalate' THEN 1 ELSE 0 END,
		dismiss_count     = dismiss_count + CASE WHEN $2 = 'dismiss' THEN 1 ELSE 0 END,
		analyst_actions   = analyst_actions || jsonb_build_object($3::text, $2::text),
		last_activity     = $4,
		expires_at        = $5
	WHERE threat_id = $1 AND expires_at > now()
	RETURNING ` + workingColumns

	e, err := scanWorkingRow(tx.QueryRow(ctx, query,
		threatID, string(action), analystID, now, time.Now().Add(w.s.cfg.WorkingTTL),
	))
	if err != nil {
		recordSpanErr(span, err)
		return nil, false, fmt.Errorf("record action: %w", err)
	}
	if e == nil {
		return nil, false, nil
	}

	e.Score = threat.CompositeScore(e, now)
	if _, err := tx.Exec(ctx,
		`UPDATE working_memory SET score = $2 WHERE threat_id = $1`, threatID, e.Score,
	); err != nil {
		recordSpanErr(span, err)
		return nil, false, fmt.Errorf("update score: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		recordSpanErr(span, err)
		return nil, false, fmt.Errorf("commit record action: %w", err)
	}
	return e, true, nil
}

// Claim atomically deletes and returns the entry. DELETE ... RETURNING
// makes the database the arbiter: one claimer wins, the rest see no row.
func (w *workingStore) Claim(ctx context.Context, threatID string) (*threat.WorkingEntry, bool, error) {
	ctx, span := w.s.startSpan(ctx, "pgstore.Working.Claim", "DELETE")
	defer span.End()

	query := `DELETE FROM working_memory WHERE threat_id = $1 AND expires_at > now() RETURNING ` + workingColumns
	e, err := scanWorkingRow(w.s.pool.QueryRow(ctx, query, threatID))
	if err != nil {
		recordSpanErr(span, err)
		return nil, false, err
	}
	if e == nil {
		return nil, false, nil
	}
	return e, true, nil
}

func (w *workingStore) Remove(ctx context.Context, threatID string) error {
	ctx, span := w.s.startSpan(ctx, "pgstore.Working.Remove", "DELETE")
	defer span.End()

	if _, err := w.s.pool.Exec(ctx, `DELETE FROM working_memory WHERE threat_id = $1`, threatID); err != nil {
		recordSpanErr(span, err)
		return fmt.Errorf("delete working entry: %w", err)
	}
	return nil
}

// scanWorkingRow scans a single row into a WorkingEntry. Returns
// (nil, nil) when no row is found.
func scanWorkingRow(row pgx.Row) (*threat.WorkingEntry, error) {
	var (
		e            threat.WorkingEntry
		severity     string
		actionsJSON  []byte
		metadataJSON []byte
	)

	err := row.Scan(
		&e.ThreatID, &e.Content, &severity, &e.StartedAt, &e.LastActivity, &actionsJSON,
		&e.InteractionCount, &e.EscalationCount, &e.ViewCount, &e.DismissCount, &e.Score, &metadataJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	e.Severity = threat.Severity(severity)
	if err := json.Unmarshal(actionsJSON, &e.AnalystActions); err != nil {
		return nil, fmt.Errorf("unmarshal analyst actions: %w", err)
	}
	if err := unmarshalMetadata(metadataJSON, &e.Metadata); err != nil {
		return nil, err
	}
	return &e, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

func unmarshalMetadata(b []byte, m *map[string]string) error {
	if err := json.Unmarshal(b, m); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}
	return nil
}
