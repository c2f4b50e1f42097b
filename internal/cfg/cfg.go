package cfg

import (
	"errors"
	"flag"
	"fmt"
	"math"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	DatabaseURL string

	NATSURL        string
	NATSSubject    string
	NATSQueueGroup string

	Neo4jURI      string
	Neo4jUsername string
	Neo4jPassword string
	Neo4jDatabase string

	SlackWebhookURL string

	WorkingTTLMinutes  int
	ShortTermTTLHours  int
	LongTermTTLDays    int
	StalenessMinutes   int
	DecayRatePerDay    float64
	DecayFloor         float64
	PromotionSweepSpec string
	EvictionSweepSpec  string
	DecaySweepSpec     string
	ExportSweepSpec    string

	WeightAffinity        float64
	WeightCharacteristics float64
	WeightTemporal        float64
	WeightOrgContext      float64
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.NATSURL, "nats-url", "", "NATS server URL for threat ingestion (empty = HTTP ingestion only)")
	fs.StringVar(&c.NATSSubject, "nats-subject", "threats.classified", "NATS subject carrying classifier output")
	fs.StringVar(&c.NATSQueueGroup, "nats-queue-group", "recall-ingest", "NATS queue group for spreading the subject across replicas")
	fs.StringVar(&c.Neo4jURI, "neo4j-uri", "", "Neo4j URI for knowledge-graph export (empty = export disabled)")
	fs.StringVar(&c.Neo4jUsername, "neo4j-username", "neo4j", "Neo4j username")
	fs.StringVar(&c.Neo4jPassword, "neo4j-password", "", "Neo4j password")
	fs.StringVar(&c.Neo4jDatabase, "neo4j-database", "", "Neo4j database name (empty = server default)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for immediate-alert notifications")
	fs.IntVar(&c.WorkingTTLMinutes, "working-ttl-minutes", 60, "working-memory entry lifetime in minutes")
	fs.IntVar(&c.ShortTermTTLHours, "short-term-ttl-hours", 24, "short-term memory entry lifetime in hours")
	fs.IntVar(&c.LongTermTTLDays, "long-term-ttl-days", 365, "long-term memory entry lifetime in days")
	fs.IntVar(&c.StalenessMinutes, "staleness-minutes", 30, "minutes without activity before a working entry is eviction-eligible")
	fs.Float64Var(&c.DecayRatePerDay, "decay-rate-per-day", 0.001, "daily confidence decay rate for unprotected long-term memories")
	fs.Float64Var(&c.DecayFloor, "decay-floor", 0.3, "confidence floor decay never goes below")
	fs.StringVar(&c.PromotionSweepSpec, "promotion-sweep-spec", "* * * * *", "cron spec for promotion sweeps")
	fs.StringVar(&c.EvictionSweepSpec, "eviction-sweep-spec", "*/5 * * * *", "cron spec for eviction sweeps")
	fs.StringVar(&c.DecaySweepSpec, "decay-sweep-spec", "0 3 * * *", "cron spec for the daily decay sweep")
	fs.StringVar(&c.ExportSweepSpec, "export-sweep-spec", "@every 30s", "cron spec for graph export drains")
	fs.Float64Var(&c.WeightAffinity, "weight-affinity", 0.40, "ensemble weight of the analyst affinity scorer")
	fs.Float64Var(&c.WeightCharacteristics, "weight-characteristics", 0.30, "ensemble weight of the threat characteristics scorer")
	fs.Float64Var(&c.WeightTemporal, "weight-temporal", 0.20, "ensemble weight of the temporal relevance scorer")
	fs.Float64Var(&c.WeightOrgContext, "weight-org-context", 0.10, "ensemble weight of the organizational context scorer")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.Neo4jURI != "" && c.Neo4jPassword == "" {
		errs = append(errs, errors.New("NEO4J_PASSWORD is required when NEO4J_URI is set"))
	}

	if c.WorkingTTLMinutes <= 0 {
		errs = append(errs, fmt.Errorf("invalid WORKING_TTL_MINUTES %d (must be positive)", c.WorkingTTLMinutes))
	}
	if c.ShortTermTTLHours <= 0 {
		errs = append(errs, fmt.Errorf("invalid SHORT_TERM_TTL_HOURS %d (must be positive)", c.ShortTermTTLHours))
	}
	if c.LongTermTTLDays <= 0 {
		errs = append(errs, fmt.Errorf("invalid LONG_TERM_TTL_DAYS %d (must be positive)", c.LongTermTTLDays))
	}
	if c.StalenessMinutes <= 0 {
		errs = append(errs, fmt.Errorf("invalid STALENESS_MINUTES %d (must be positive)", c.StalenessMinutes))
	}

	if c.DecayRatePerDay < 0 || c.DecayRatePerDay >= 1 {
		errs = append(errs, fmt.Errorf("invalid DECAY_RATE_PER_DAY %v (must be in [0, 1))", c.DecayRatePerDay))
	}
	if c.DecayFloor < 0 || c.DecayFloor > 1 {
		errs = append(errs, fmt.Errorf("invalid DECAY_FLOOR %v (must be in [0, 1])", c.DecayFloor))
	}

	// Ensemble weights must form a convex combination
	for name, w := range map[string]float64{
		"WEIGHT_AFFINITY":        c.WeightAffinity,
		"WEIGHT_CHARACTERISTICS": c.WeightCharacteristics,
		"WEIGHT_TEMPORAL":        c.WeightTemporal,
		"WEIGHT_ORG_CONTEXT":     c.WeightOrgContext,
	} {
		if w < 0 {
			errs = append(errs, fmt.Errorf("invalid %s %v (must be non-negative)", name, w))
		}
	}
	sum := c.WeightAffinity + c.WeightCharacteristics + c.WeightTemporal + c.WeightOrgContext
	if math.Abs(sum-1.0) > 1e-9 {
		errs = append(errs, fmt.Errorf("ensemble weights sum to %v, must sum to 1.0", sum))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
