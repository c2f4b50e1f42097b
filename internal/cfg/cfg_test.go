package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		WorkingTTLMinutes:     60,
		ShortTermTTLHours:     24,
		LongTermTTLDays:       365,
		StalenessMinutes:      30,
		DecayRatePerDay:       0.001,
		DecayFloor:            0.3,
		WeightAffinity:        0.40,
		WeightCharacteristics: 0.30,
		WeightTemporal:        0.20,
		WeightOrgContext:      0.10,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.NATSSubject != "threats.classified" {
		t.Errorf("NATSSubject = %q, want %q", c.NATSSubject, "threats.classified")
	}
	if c.NATSQueueGroup != "recall-ingest" {
		t.Errorf("NATSQueueGroup = %q, want %q", c.NATSQueueGroup, "recall-ingest")
	}
	if c.WorkingTTLMinutes != 60 {
		t.Errorf("WorkingTTLMinutes = %d, want 60", c.WorkingTTLMinutes)
	}
	if c.DecayRatePerDay != 0.001 {
		t.Errorf("DecayRatePerDay = %v, want 0.001", c.DecayRatePerDay)
	}
	if c.ExportSweepSpec != "@every 30s" {
		t.Errorf("ExportSweepSpec = %q, want %q", c.ExportSweepSpec, "@every 30s")
	}

	// Defaults must validate as-is.
	if err := c.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-database-url", "postgres://recall:recall@db/recall",
		"-nats-url", "nats://broker:4222",
		"-neo4j-uri", "neo4j://graph:7687",
		"-neo4j-password", "s3cret",
		"-decay-rate-per-day", "0.002",
		"-weight-affinity", "0.25",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.DatabaseURL != "postgres://recall:recall@db/recall" {
		t.Errorf("DatabaseURL = %q, want %q", c.DatabaseURL, "postgres://recall:recall@db/recall")
	}
	if c.NATSURL != "nats://broker:4222" {
		t.Errorf("NATSURL = %q, want %q", c.NATSURL, "nats://broker:4222")
	}
	if c.Neo4jURI != "neo4j://graph:7687" {
		t.Errorf("Neo4jURI = %q, want %q", c.Neo4jURI, "neo4j://graph:7687")
	}
	if c.Neo4jPassword != "s3cret" {
		t.Errorf("Neo4jPassword = %q, want %q", c.Neo4jPassword, "s3cret")
	}
	if c.DecayRatePerDay != 0.002 {
		t.Errorf("DecayRatePerDay = %v, want 0.002", c.DecayRatePerDay)
	}
	if c.WeightAffinity != 0.25 {
		t.Errorf("WeightAffinity = %v, want 0.25", c.WeightAffinity)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	mutate := func(fn func(*Config)) Config {
		c := validBase()
		fn(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "drain zero",
			cfg: mutate(func(c *Config) {
				c.DrainSeconds = 0
			}),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name: "drain above max",
			cfg: mutate(func(c *Config) {
				c.DrainSeconds = 301
				c.ShutdownBudgetSeconds = 302
			}),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name: "budget zero",
			cfg: mutate(func(c *Config) {
				c.ShutdownBudgetSeconds = 0
			}),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name: "budget equals drain",
			cfg: mutate(func(c *Config) {
				c.ShutdownBudgetSeconds = c.DrainSeconds
			}),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name: "port zero",
			cfg: mutate(func(c *Config) {
				c.APIPort = 0
			}),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name: "port above max",
			cfg: mutate(func(c *Config) {
				c.APIPort = 65536
			}),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name: "neo4j uri without password",
			cfg: mutate(func(c *Config) {
				c.Neo4jURI = "neo4j://graph:7687"
			}),
			wantErr:   true,
			errSubstr: []string{"NEO4J_PASSWORD"},
		},
		{
			name: "neo4j uri with password",
			cfg: mutate(func(c *Config) {
				c.Neo4jURI = "neo4j://graph:7687"
				c.Neo4jPassword = "s3cret"
			}),
			wantErr: false,
		},
		{
			name: "working ttl zero",
			cfg: mutate(func(c *Config) {
				c.WorkingTTLMinutes = 0
			}),
			wantErr:   true,
			errSubstr: []string{"WORKING_TTL_MINUTES"},
		},
		{
			name: "short term ttl negative",
			cfg: mutate(func(c *Config) {
				c.ShortTermTTLHours = -1
			}),
			wantErr:   true,
			errSubstr: []string{"SHORT_TERM_TTL_HOURS"},
		},
		{
			name: "long term ttl zero",
			cfg: mutate(func(c *Config) {
				c.LongTermTTLDays = 0
			}),
			wantErr:   true,
			errSubstr: []string{"LONG_TERM_TTL_DAYS"},
		},
		{
			name: "staleness zero",
			cfg: mutate(func(c *Config) {
				c.StalenessMinutes = 0
			}),
			wantErr:   true,
			errSubstr: []string{"STALENESS_MINUTES"},
		},
		{
			name: "decay rate one",
			cfg: mutate(func(c *Config) {
				c.DecayRatePerDay = 1.0
			}),
			wantErr:   true,
			errSubstr: []string{"DECAY_RATE_PER_DAY"},
		},
		{
			name: "decay rate negative",
			cfg: mutate(func(c *Config) {
				c.DecayRatePerDay = -0.1
			}),
			wantErr:   true,
			errSubstr: []string{"DECAY_RATE_PER_DAY"},
		},
		{
			name: "decay floor above one",
			cfg: mutate(func(c *Config) {
				c.DecayFloor = 1.1
			}),
			wantErr:   true,
			errSubstr: []string{"DECAY_FLOOR"},
		},
		{
			name: "negative weight",
			cfg: mutate(func(c *Config) {
				c.WeightAffinity = -0.1
				c.WeightCharacteristics = 0.8
			}),
			wantErr:   true,
			errSubstr: []string{"WEIGHT_AFFINITY"},
		},
		{
			name: "weights do not sum to one",
			cfg: mutate(func(c *Config) {
				c.WeightOrgContext = 0.2
			}),
			wantErr:   true,
			errSubstr: []string{"sum to 1.0"},
		},
		{
			name: "rebalanced weights still sum to one",
			cfg: mutate(func(c *Config) {
				c.WeightAffinity = 0.25
				c.WeightCharacteristics = 0.25
				c.WeightTemporal = 0.25
				c.WeightOrgContext = 0.25
			}),
			wantErr: false,
		},
		{
			name:    "all fields invalid",
			cfg:     Config{},
			wantErr: true,
			errSubstr: []string{
				"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT",
				"WORKING_TTL_MINUTES", "SHORT_TERM_TTL_HOURS", "LONG_TERM_TTL_DAYS",
				"STALENESS_MINUTES", "sum to 1.0",
			},
		},
		{
			name: "extreme negative values",
			cfg: mutate(func(c *Config) {
				c.DrainSeconds = math.MinInt32
				c.ShutdownBudgetSeconds = math.MinInt32
				c.APIPort = math.MinInt32
			}),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port int
		decayRate, wAff     float64
	}{
		{60, 90, 8080, 0.001, 0.40},
		{1, 2, 1, 0.0, 0.40},
		{299, 300, 65535, 0.999, 0.40},
		{0, 0, 0, -1, 0.40},
		{-1, -1, -1, 1.0, -0.40},
		{301, 302, 65536, 0.5, 0.40},
		{150, 100, 8080, 0.001, 0.40},
		{math.MinInt32, math.MinInt32, math.MinInt32, -0.5, 0.40},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, 2.0, 0.40},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.decayRate, s.wAff)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port int, decayRate, wAff float64) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.DecayRatePerDay = decayRate
		c.WeightAffinity = wAff

		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		decayOK := decayRate >= 0 && decayRate < 1
		weightOK := wAff >= 0 && !math.IsNaN(wAff) &&
			math.Abs(wAff+c.WeightCharacteristics+c.WeightTemporal+c.WeightOrgContext-1.0) <= 1e-9

		allValid := drainOK && budgetOK && portOK && crossOK && decayOK && weightOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
