package memory

import (
	"context"
	"time"

	"github.com/linnemanlabs/recall/internal/threat"
)

// WorkingStore persists Tier-1 entries. Every Put refreshes the entry's
// TTL to the tier's configured lifetime; expiry is the store's sole
// unsupervised eviction mechanism.
type WorkingStore interface {
	Put(ctx context.Context, e *threat.WorkingEntry) error
	Get(ctx context.Context, threatID string) (*threat.WorkingEntry, bool, error)
	All(ctx context.Context) ([]*threat.WorkingEntry, error)

	// RecordAction applies one analyst action to a live entry as a single
	// atomic mutation: counters bump, the analyst's latest action is
	// recorded, activity refreshes and the composite score is recomputed
	// against now. ok=false when the entry is no longer in working memory,
	// so a caller racing a claim can never resurrect a promoted entry and
	// concurrent actions on the same entry never lose increments.
	RecordAction(ctx context.Context, threatID, analystID string, action threat.ActionType, now time.Time) (*threat.WorkingEntry, bool, error)

	// Claim atomically removes and returns the entry. Exactly one of any
	// number of concurrent claimers for the same threatID succeeds; the
	// rest observe ok=false. This is the fence the promotion supervisor
	// uses before its multi-step move.
	Claim(ctx context.Context, threatID string) (*threat.WorkingEntry, bool, error)

	Remove(ctx context.Context, threatID string) error
}

// ShortTermStore persists Tier-2 entries, keyed by memoryID with a
// threatID secondary index maintained alongside each write.
type ShortTermStore interface {
	Put(ctx context.Context, e *threat.ShortTermEntry) error
	Get(ctx context.Context, memoryID string) (*threat.ShortTermEntry, bool, error)
	GetByThreatID(ctx context.Context, threatID string) (*threat.ShortTermEntry, bool, error)
	All(ctx context.Context) ([]*threat.ShortTermEntry, error)

	// Top returns up to limit entries ranked by score, highest first.
	Top(ctx context.Context, limit int) ([]*threat.ShortTermEntry, error)

	// Claim atomically removes and returns the entry, as on WorkingStore.
	Claim(ctx context.Context, memoryID string) (*threat.ShortTermEntry, bool, error)
}

// LongTermStore persists Tier-3 entries. Entries are never removed except
// by a far-future TTL; decay mutates confidence in place.
type LongTermStore interface {
	Put(ctx context.Context, e *threat.LongTermEntry) error
	Get(ctx context.Context, memoryID string) (*threat.LongTermEntry, bool, error)
	GetByThreatID(ctx context.Context, threatID string) (*threat.LongTermEntry, bool, error)
	All(ctx context.Context) ([]*threat.LongTermEntry, error)

	// UpdateConfidence sets the current confidence for a single entry.
	UpdateConfidence(ctx context.Context, memoryID string, confidence float64) error

	// Unexported returns up to limit entries pending graph export.
	Unexported(ctx context.Context, limit int) ([]*threat.LongTermEntry, error)
	MarkExported(ctx context.Context, memoryID string) error
}

// Stores bundles the three tiers for components that span them. Only the
// promotion supervisor moves entries between tiers.
type Stores struct {
	Working   WorkingStore
	ShortTerm ShortTermStore
	LongTerm  LongTermStore
}
