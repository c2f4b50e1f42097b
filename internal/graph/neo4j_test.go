package graph

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	t.Run("defaults filled", func(t *testing.T) {
		t.Parallel()

		c := Config{URI: "neo4j://graph:7687", Username: "neo4j", Password: "pw"}
		if err := c.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if c.ConnectTimeout != 10*time.Second {
			t.Errorf("ConnectTimeout = %v, want 10s", c.ConnectTimeout)
		}
		if c.MaxConnections != 25 {
			t.Errorf("MaxConnections = %d, want 25", c.MaxConnections)
		}
	})

	t.Run("missing uri", func(t *testing.T) {
		t.Parallel()

		c := Config{Username: "neo4j"}
		if err := c.Validate(); err == nil {
			t.Error("expected error for missing URI")
		}
	})

	t.Run("missing username", func(t *testing.T) {
		t.Parallel()

		c := Config{URI: "neo4j://graph:7687"}
		if err := c.Validate(); err == nil {
			t.Error("expected error for missing username")
		}
	})
}

func TestMergeQueryParameterized(t *testing.T) {
	t.Parallel()

	// Every value flows through driver parameters; string interpolation into
	// Cypher would be an injection hole.
	for _, param := range []string{
		"$memory_id", "$threat_id", "$content", "$severity", "$confidence",
		"$memory_type", "$consolidation_count", "$validated", "$promoted_at",
		"$industry",
	} {
		if !strings.Contains(mergeMemoryQuery, param) {
			t.Errorf("merge query missing parameter %s", param)
		}
	}
	if strings.Contains(mergeMemoryQuery, "%s") || strings.Contains(mergeMemoryQuery, "%v") {
		t.Error("merge query must not use format verbs")
	}
}
