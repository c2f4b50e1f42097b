// Package memstore provides an in-memory implementation of the three tier
// stores. Suitable for dev/testing; production uses pgstore.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/recall/internal/memory"
	"github.com/linnemanlabs/recall/internal/threat"
)

// Config sets the per-tier TTLs.
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

type workingItem struct {
	entry     *threat.WorkingEntry
	expiresAt time.Time
}

type shortItem struct {
	entry     *threat.ShortTermEntry
	expiresAt time.Time
}

type longItem struct {
	entry     *threat.LongTermEntry
	expiresAt time.Time
}

// Store holds all three tiers behind one mutex so cross-tier claims are
// atomic. Entries are copied on the way in and out.
type Store struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	working       map[string]workingItem // threat ID -> entry
	short         map[string]shortItem   // memory ID -> entry
	shortByThreat map[string]string      // threat ID -> memory ID
	long          map[string]longItem    // memory ID -> entry
	longByThreat  map[string]string      // threat ID -> memory ID
}

// New initializes an empty in-memory Store.
func New(cfg Config) *Store {
	if cfg.WorkingTTL <= 0 {
		cfg = DefaultConfig()
	}
	return &Store{
		cfg:           cfg,
		now:           time.Now,
		working:       make(map[string]workingItem),
		short:         make(map[string]shortItem),
		shortByThreat: make(map[string]string),
		long:          make(map[string]longItem),
		longByThreat:  make(map[string]string),
	}
}

// SetClock overrides the store's clock, for TTL tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Stores returns the three tier-store views over this Store.
func (s *Store) Stores() memory.Stores {
	return memory.Stores{
		Working:   workingStore{s},
		ShortTerm: shortTermStore{s},
		LongTerm:  longTermStore{s},
	}
}

// --- Tier 1 ---

type workingStore struct{ s *Store }

func (w workingStore) Put(_ context.Context, e *threat.WorkingEntry) error {
	s := w.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.working[e.ThreatID] = workingItem{
		entry:     e.Clone(),
		expiresAt: s.now().Add(s.cfg.WorkingTTL),
	}
	return nil
}

func (w workingStore) Get(_ context.Context, threatID string) (*threat.WorkingEntry, bool, error) {
	s := w.s
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.working[threatID]
	if !ok || s.expiredWorking(threatID, item) {
		return nil, false, nil
	}
	return item.entry.Clone(), true, nil
}

func (w workingStore) All(_ context.Context) ([]*threat.WorkingEntry, error) {
	s := w.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*threat.WorkingEntry, 0, len(s.working))
	for id, item := range s.working {
		if s.expiredWorking(id, item) {
			continue
		}
		out = append(out, item.entry.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThreatID < out[j].ThreatID })
	return out, nil
}

func (w workingStore) RecordAction(_ context.Context, threatID, analystID string, action threat.ActionType, now time.Time) (*threat.WorkingEntry, bool, error) {
	s := w.s
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.working[threatID]
	if !ok || s.expiredWorking(threatID, item) {
		return nil, false, nil
	}

	e := item.entry
	e.InteractionCount++
	switch action {
	case threat.ActionView:
		e.ViewCount++
	case threat.ActionEscalate:
		e.EscalationCount++
	case threat.ActionDismiss:
		e.DismissCount++
	}
	if e.AnalystActions == nil {
		e.AnalystActions = make(map[string]threat.ActionType)
	}
	e.AnalystActions[analystID] = action
	e.LastActivity = now
	e.Score = threat.CompositeScore(e, now)

	item.expiresAt = s.now().Add(s.cfg.WorkingTTL)
	s.working[threatID] = item
	return e.Clone(), true, nil
}

func (w workingStore) Claim(_ context.Context, threatID string) (*threat.WorkingEntry, bool, error) {
	s := w.s
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.working[threatID]
	if !ok || s.expiredWorking(threatID, item) {
		return nil, false, nil
	}
	delete(s.working, threatID)
	return item.entry.Clone(), true, nil
}

func (w workingStore) Remove(_ context.Context, threatID string) error {
	s := w.s
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.working, threatID)
	return nil
}

// --- Tier 2 ---

type shortTermStore struct{ s *Store }

func (st shortTermStore) Put(_ context.Context, e *threat.ShortTermEntry) error {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.short[e.MemoryID] = shortItem{
		entry:     e.Clone(),
		expiresAt: s.now().Add(s.cfg.ShortTermTTL),
	}
	s.shortByThreat[e.ThreatID] = e.MemoryID
	return nil
}

func (st shortTermStore) Get(_ context.Context, memoryID string) (*threat.ShortTermEntry, bool, error) {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.short[memoryID]
	if !ok || s.expiredShort(memoryID, item) {
		return nil, false, nil
	}
	return item.entry.Clone(), true, nil
}

func (st shortTermStore) GetByThreatID(ctx context.Context, threatID string) (*threat.ShortTermEntry, bool, error) {
	s := st.s
	s.mu.Lock()
	memoryID, ok := s.shortByThreat[threatID]
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	return st.Get(ctx, memoryID)
}

func (st shortTermStore) All(_ context.Context) ([]*threat.ShortTermEntry, error) {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*threat.ShortTermEntry, 0, len(s.short))
	for id, item := range s.short {
		if s.expiredShort(id, item) {
			continue
		}
		out = append(out, item.entry.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemoryID < out[j].MemoryID })
	return out, nil
}

func (st shortTermStore) Top(ctx context.Context, limit int) ([]*threat.ShortTermEntry, error) {
	all, err := st.All(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].MemoryID < all[j].MemoryID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (st shortTermStore) Claim(_ context.Context, memoryID string) (*threat.ShortTermEntry, bool, error) {
	s := st.s
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.short[memoryID]
	if !ok || s.expiredShort(memoryID, item) {
		return nil, false, nil
	}
	delete(s.short, memoryID)
	delete(s.shortByThreat, item.entry.ThreatID)
	return item.entry.Clone(), true, nil
}

// --- Tier 3 ---

type longTermStore struct{ s *Store }

func (lt longTermStore) Put(_ context.Context, e *threat.LongTermEntry) error {
	s := lt.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.long[e.MemoryID] = longItem{
		entry:     e.Clone(),
		expiresAt: s.now().Add(s.cfg.LongTermTTL),
	}
	s.longByThreat[e.ThreatID] = e.MemoryID
	return nil
}

func (lt longTermStore) Get(_ context.Context, memoryID string) (*threat.LongTermEntry, bool, error) {
	s := lt.s
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.long[memoryID]
	if !ok || s.expiredLong(memoryID, item) {
		return nil, false, nil
	}
	return item.entry.Clone(), true, nil
}

func (lt longTermStore) GetByThreatID(ctx context.Context, threatID string) (*threat.LongTermEntry, bool, error) {
	s := lt.s
	s.mu.Lock()
	memoryID, ok := s.longByThreat[threatID]
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	return lt.Get(ctx, memoryID)
}

func (lt longTermStore) All(_ context.Context) ([]*threat.LongTermEntry, error) {
	s := lt.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*threat.LongTermEntry, 0, len(s.long))
	for id, item := range s.long {
		if s.expiredLong(id, item) {
			continue
		}
		out = append(out, item.entry.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemoryID < out[j].MemoryID })
	return out, nil
}

func (lt longTermStore) UpdateConfidence(_ context.Context, memoryID string, confidence float64) error {
	s := lt.s
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.long[memoryID]
	if !ok {
		return nil
	}
	item.entry.Confidence = confidence
	s.long[memoryID] = item
	return nil
}

func (lt longTermStore) Unexported(ctx context.Context, limit int) ([]*threat.LongTermEntry, error) {
	all, err := lt.All(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if !e.Exported {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (lt longTermStore) MarkExported(_ context.Context, memoryID string) error {
	s := lt.s
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.long[memoryID]
	if !ok {
		return nil
	}
	item.entry.Exported = true
	s.long[memoryID] = item
	return nil
}

// expiry checks run under the store mutex and reap lazily on access.

func (s *Store) expiredWorking(id string, item workingItem) bool {
	if s.now().Before(item.expiresAt) {
		return false
	}
	delete(s.working, id)
	return true
}

func (s *Store) expiredShort(id string, item shortItem) bool {
	if s.now().Before(item.expiresAt) {
		return false
	}
	delete(s.short, id)
	delete(s.shortByThreat, item.entry.ThreatID)
	return true
}

func (s *Store) expiredLong(id string, item longItem) bool {
	if s.now().Before(item.expiresAt) {
		return false
	}
	delete(s.long, id)
	delete(s.longByThreat, item.entry.ThreatID)
	return true
}
