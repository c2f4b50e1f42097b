package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/recall/internal/threat"
)

func newTestStore() (*Store, func(time.Duration)) {
	s := New(Config{
		WorkingTTL:   time.Hour,
		ShortTermTTL: 24 * time.Hour,
		LongTermTTL:  365 * 24 * time.Hour,
	})
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	offset := time.Duration(0)
	var mu sync.Mutex
	s.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return base.Add(offset)
	})
	advance := func(d time.Duration) {
		mu.Lock()
		offset += d
		mu.Unlock()
	}
	return s, advance
}

func TestWorking_PutGetCopies(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	w := s.Stores().Working
	ctx := context.Background()

	e := &threat.WorkingEntry{
		ThreatID:       "t-1",
		Severity:       threat.SeverityHigh,
		AnalystActions: map[string]threat.ActionType{"alice": threat.ActionView},
	}
	if err := w.Put(ctx, e); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// mutating the original must not leak into the store
	e.AnalystActions["bob"] = threat.ActionEscalate

	got, ok, err := w.Get(ctx, "t-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if len(got.AnalystActions) != 1 {
		t.Errorf("stored entry has %d analyst actions, want 1", len(got.AnalystActions))
	}
}

func TestWorking_TTLExpiry(t *testing.T) {
	t.Parallel()

	s, advance := newTestStore()
	w := s.Stores().Working
	ctx := context.Background()

	if err := w.Put(ctx, &threat.WorkingEntry{ThreatID: "t-1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	advance(59 * time.Minute)
	if _, ok, _ := w.Get(ctx, "t-1"); !ok {
		t.Fatal("entry expired before TTL")
	}

	// a write refreshes the TTL
	got, _, _ := w.Get(ctx, "t-1")
	if err := w.Put(ctx, got); err != nil {
		t.Fatalf("Put: %v", err)
	}
	advance(59 * time.Minute)
	if _, ok, _ := w.Get(ctx, "t-1"); !ok {
		t.Fatal("TTL not refreshed by write")
	}

	advance(2 * time.Minute)
	if _, ok, _ := w.Get(ctx, "t-1"); ok {
		t.Fatal("entry still present after TTL")
	}
	if all, _ := w.All(ctx); len(all) != 0 {
		t.Fatalf("All returned %d entries after expiry", len(all))
	}
}

func TestWorking_ClaimIsExclusive(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	w := s.Stores().Working
	ctx := context.Background()

	if err := w.Put(ctx, &threat.WorkingEntry{ThreatID: "t-1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	const claimers = 16
	var wg sync.WaitGroup
	wins := make(chan *threat.WorkingEntry, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e, ok, err := w.Claim(ctx, "t-1"); err == nil && ok {
				wins <- e
			}
		}()
	}
	wg.Wait()
	close(wins)

	var won int
	for range wins {
		won++
	}
	if won != 1 {
		t.Errorf("%d claimers won, want exactly 1", won)
	}
	if _, ok, _ := w.Get(ctx, "t-1"); ok {
		t.Error("claimed entry still present")
	}
}

func TestWorking_RecordActionKeepsEveryIncrement(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	w := s.Stores().Working
	ctx := context.Background()

	if err := w.Put(ctx, &threat.WorkingEntry{ThreatID: "t-1", Severity: threat.SeverityMedium}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	const actors = 24
	var wg sync.WaitGroup
	for i := 0; i < actors; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			analyst := fmt.Sprintf("analyst-%d", i)
			if _, ok, err := w.RecordAction(ctx, "t-1", analyst, threat.ActionEscalate, time.Now()); err != nil || !ok {
				t.Errorf("RecordAction(%s): ok=%v err=%v", analyst, ok, err)
			}
		}()
	}
	wg.Wait()

	got, ok, err := w.Get(ctx, "t-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.InteractionCount != actors || got.EscalationCount != actors {
		t.Errorf("counters = interactions %d escalations %d, want %d each", got.InteractionCount, got.EscalationCount, actors)
	}
	if len(got.AnalystActions) != actors {
		t.Errorf("analyst actions = %d, want %d", len(got.AnalystActions), actors)
	}
}

func TestWorking_RecordActionAfterClaimReportsGone(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	w := s.Stores().Working
	ctx := context.Background()

	if err := w.Put(ctx, &threat.WorkingEntry{ThreatID: "t-1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok, err := w.Claim(ctx, "t-1"); err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}

	if _, ok, err := w.RecordAction(ctx, "t-1", "alice", threat.ActionView, time.Now()); err != nil || ok {
		t.Fatalf("RecordAction on claimed entry: ok=%v err=%v, want ok=false", ok, err)
	}
	// the write-back must not resurrect the claimed entry
	if _, ok, _ := w.Get(ctx, "t-1"); ok {
		t.Error("claimed entry reappeared after RecordAction")
	}
}

func TestShortTerm_SecondaryIndex(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	st := s.Stores().ShortTerm
	ctx := context.Background()

	e := &threat.ShortTermEntry{MemoryID: "m-1", ThreatID: "t-1", Score: 0.8}
	if err := st.Put(ctx, e); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := st.GetByThreatID(ctx, "t-1")
	if err != nil || !ok {
		t.Fatalf("GetByThreatID: ok=%v err=%v", ok, err)
	}
	if got.MemoryID != "m-1" {
		t.Errorf("MemoryID = %q, want m-1", got.MemoryID)
	}

	// claiming removes the index entry too
	if _, ok, _ := st.Claim(ctx, "m-1"); !ok {
		t.Fatal("Claim failed")
	}
	if _, ok, _ := st.GetByThreatID(ctx, "t-1"); ok {
		t.Error("secondary index still resolves after claim")
	}
}

func TestShortTerm_TopRanked(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	st := s.Stores().ShortTerm
	ctx := context.Background()

	scores := []float64{0.3, 0.9, 0.5, 0.7}
	for i, sc := range scores {
		e := &threat.ShortTermEntry{
			MemoryID: fmt.Sprintf("m-%d", i),
			ThreatID: fmt.Sprintf("t-%d", i),
			Score:    sc,
		}
		if err := st.Put(ctx, e); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	top, err := st.Top(ctx, 2)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(top) != 2 || top[0].Score != 0.9 || top[1].Score != 0.7 {
		t.Errorf("Top(2) = %+v, want scores [0.9 0.7]", top)
	}
}

func TestLongTerm_ExportLifecycle(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	lt := s.Stores().LongTerm
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e := &threat.LongTermEntry{
			ShortTermEntry: threat.ShortTermEntry{
				MemoryID: fmt.Sprintf("m-%d", i),
				ThreatID: fmt.Sprintf("t-%d", i),
			},
		}
		if err := lt.Put(ctx, e); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	pending, err := lt.Unexported(ctx, 10)
	if err != nil {
		t.Fatalf("Unexported: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("Unexported = %d entries, want 3", len(pending))
	}

	if err := lt.MarkExported(ctx, "m-1"); err != nil {
		t.Fatalf("MarkExported: %v", err)
	}
	pending, _ = lt.Unexported(ctx, 10)
	if len(pending) != 2 {
		t.Errorf("Unexported after mark = %d entries, want 2", len(pending))
	}

	got, ok, _ := lt.Get(ctx, "m-1")
	if !ok || !got.Exported {
		t.Error("m-1 not marked exported")
	}
}

func TestLongTerm_UpdateConfidence(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	lt := s.Stores().LongTerm
	ctx := context.Background()

	e := &threat.LongTermEntry{
		ShortTermEntry: threat.ShortTermEntry{MemoryID: "m-1", ThreatID: "t-1", Confidence: 0.9},
	}
	if err := lt.Put(ctx, e); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := lt.UpdateConfidence(ctx, "m-1", 0.42); err != nil {
		t.Fatalf("UpdateConfidence: %v", err)
	}

	got, ok, _ := lt.Get(ctx, "m-1")
	if !ok || got.Confidence != 0.42 {
		t.Errorf("Confidence = %v, want 0.42", got.Confidence)
	}
}
