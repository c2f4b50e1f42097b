package ingest

import (
	"context"
	"testing"

	"github.com/linnemanlabs/recall/internal/memory"
	"github.com/linnemanlabs/recall/internal/memory/memstore"
	"github.com/linnemanlabs/recall/internal/threat"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("empty config: expected error")
	}

	cfg = Config{URL: "nats://localhost:4222"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Subject == "" || cfg.QueueGroup == "" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.MaxReconnects != -1 {
		t.Errorf("MaxReconnects = %d, want -1 (retry forever)", cfg.MaxReconnects)
	}
}

func TestHandle(t *testing.T) {
	t.Parallel()

	svc := memory.NewService(memstore.New(memstore.DefaultConfig()).Stores(), nil, nil, nil)
	sub, err := NewSubscriber(Config{URL: "nats://localhost:4222"}, svc, nil)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	ctx := context.Background()

	sub.handle(ctx, []byte(`{"threat_id":"T1","content":"suspicious login pattern","severity":"HIGH","metadata":{"industry":"finance"}}`))

	e, ok, err := svc.GetThreat(ctx, "T1")
	if err != nil || !ok {
		t.Fatalf("GetThreat = ok %v, err %v; want admitted threat", ok, err)
	}
	if e.Severity != threat.SeverityHigh || e.Metadata["industry"] != "finance" {
		t.Errorf("admitted entry = %+v", e)
	}

	// malformed payloads and unknown severities are dropped silently
	sub.handle(ctx, []byte(`{not json`))
	sub.handle(ctx, []byte(`{"threat_id":"T2","severity":"apocalyptic"}`))

	if _, ok, _ := svc.GetThreat(ctx, "T2"); ok {
		t.Error("threat with unknown severity was admitted")
	}

	active, err := svc.ActiveThreats(ctx)
	if err != nil {
		t.Fatalf("ActiveThreats: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("ActiveThreats = %d entries, want 1", len(active))
	}
}
