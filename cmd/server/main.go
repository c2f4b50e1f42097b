// Recall is a tiered threat-memory and analyst-prioritization service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/recall/internal/behavior"
	rc "github.com/linnemanlabs/recall/internal/cfg"
	"github.com/linnemanlabs/recall/internal/decay"
	"github.com/linnemanlabs/recall/internal/export"
	"github.com/linnemanlabs/recall/internal/graph"
	"github.com/linnemanlabs/recall/internal/ingest"
	"github.com/linnemanlabs/recall/internal/memory"
	"github.com/linnemanlabs/recall/internal/memory/memstore"
	"github.com/linnemanlabs/recall/internal/memory/pgstore"
	"github.com/linnemanlabs/recall/internal/notify/slack"
	"github.com/linnemanlabs/recall/internal/postgres"
	"github.com/linnemanlabs/recall/internal/predict"
	"github.com/linnemanlabs/recall/internal/promote"
	"github.com/linnemanlabs/recall/internal/threatapi"
)

const appName = "recall"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    rc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix RECALL_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "RECALL_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"working_ttl_minutes", appCfg.WorkingTTLMinutes,
		"short_term_ttl_hours", appCfg.ShortTermTTLHours,
		"long_term_ttl_days", appCfg.LongTermTTLDays,
		"decay_rate_per_day", appCfg.DecayRatePerDay,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	// Start profiling, returns a stop function to call for clean shutdown (flush buffers, etc)
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	// Start otel, returns a shutdown function to call for clean shutdown (flush buffers, etc)
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	workingTTL := time.Duration(appCfg.WorkingTTLMinutes) * time.Minute
	shortTermTTL := time.Duration(appCfg.ShortTermTTLHours) * time.Hour
	longTermTTL := time.Duration(appCfg.LongTermTTLDays) * 24 * time.Hour

	// Initialize the tier stores
	var (
		stores  memory.Stores
		pgStore *pgstore.Store
	)
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err = pgstore.NewWithPool(ctx, pool, pgstore.Config{
			WorkingTTL:   workingTTL,
			ShortTermTTL: shortTermTTL,
			LongTermTTL:  longTermTTL,
		})
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		stores = pgStore.Stores()
		L.Info(ctx, "using postgres store")
	} else {
		stores = memstore.New(memstore.Config{
			WorkingTTL:   workingTTL,
			ShortTermTTL: shortTermTTL,
			LongTermTTL:  longTermTTL,
		}).Stores()
		L.Info(ctx, "using in-memory store (no database-url configured)")
	}

	// Initialize memory metrics on the shared Prometheus registry.
	memMetrics := memory.NewMetrics(m.Registry())

	// Register per-query DB duration histogram and wire the observer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recall_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))

	// Behavior log feeds analyst actions into per-analyst profiles for the
	// prediction engine. Acts as both the service's action sink and the
	// engine's profile source.
	behaviorLog := behavior.NewLog(1000, 5*time.Minute)

	// Memory service owns ingestion, interaction recording, and dashboard queries.
	memSvc := memory.NewService(stores, behaviorLog, L, memMetrics)

	// Promotion supervisor runs the tier transitions and evictions.
	promoteCfg := promote.DefaultConfig()
	promoteCfg.StaleAfter = time.Duration(appCfg.StalenessMinutes) * time.Minute
	supervisor := promote.New(stores, promoteCfg, L, memMetrics)

	// Decay sweeper ages unprotected long-term confidence.
	decayCfg := decay.Config{RatePerDay: appCfg.DecayRatePerDay, Floor: appCfg.DecayFloor}
	decaySweeper := decay.New(stores.LongTerm, decayCfg, L, memMetrics)

	// Prediction engine scores threats per analyst from the behavior log.
	engine, err := predict.New(predict.Weights{
		Affinity:        appCfg.WeightAffinity,
		Characteristics: appCfg.WeightCharacteristics,
		Temporal:        appCfg.WeightTemporal,
		OrgContext:      appCfg.WeightOrgContext,
	}, behaviorLog, predict.Capabilities{}, L, predict.NewMetrics(m.Registry()))
	if err != nil {
		return fmt.Errorf("prediction engine init: %w", err)
	}

	// Immediate-alert predictions go to Slack when a webhook is configured.
	var predictor threatapi.Predictor = engine
	if appCfg.SlackWebhookURL != "" {
		predictor = &alertingPredictor{
			engine:   engine,
			notifier: slack.New(appCfg.SlackWebhookURL),
			logger:   L,
		}
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	// Knowledge-graph exporter, only when Neo4j is configured.
	var (
		graphClient *graph.Client
		exporter    *export.Exporter
	)
	if appCfg.Neo4jURI != "" {
		graphClient, err = graph.NewClient(ctx, graph.Config{
			URI:      appCfg.Neo4jURI,
			Username: appCfg.Neo4jUsername,
			Password: appCfg.Neo4jPassword,
			Database: appCfg.Neo4jDatabase,
		}, L)
		if err != nil {
			return fmt.Errorf("neo4j client: %w", err)
		}
		defer func() { _ = graphClient.Close(context.Background()) }()
		exporter = export.New(stores.LongTerm, graphClient, export.DefaultConfig(), L, memMetrics)
		L.Info(ctx, "graph export enabled", "uri", appCfg.Neo4jURI)
	}

	// NATS ingestion, only when a broker is configured. HTTP ingestion
	// stays available either way.
	var subscriber *ingest.Subscriber
	if appCfg.NATSURL != "" {
		subscriber, err = ingest.NewSubscriber(ingest.Config{
			URL:        appCfg.NATSURL,
			Subject:    appCfg.NATSSubject,
			QueueGroup: appCfg.NATSQueueGroup,
		}, memSvc, L)
		if err != nil {
			return fmt.Errorf("nats subscriber: %w", err)
		}
		if err := subscriber.Start(ctx); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		defer func() { _ = subscriber.Close() }()
		L.Info(ctx, "nats ingestion enabled", "subject", appCfg.NATSSubject, "queue_group", appCfg.NATSQueueGroup)
	}

	// Background sweeps. Each job carries the service logger through its
	// context and skips if the previous run is still going.
	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	jobCtx := log.WithContext(context.Background(), L)

	if _, err := sched.AddFunc(appCfg.PromotionSweepSpec, func() {
		if _, err := supervisor.Sweep(jobCtx); err != nil {
			L.Error(jobCtx, err, "promotion sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule promotion sweep: %w", err)
	}
	if _, err := sched.AddFunc(appCfg.EvictionSweepSpec, func() {
		if _, err := supervisor.Evict(jobCtx); err != nil {
			L.Error(jobCtx, err, "eviction sweep failed")
		}
		if pgStore != nil {
			if err := pgStore.Purge(jobCtx); err != nil {
				L.Error(jobCtx, err, "expired row purge failed")
			}
		}
	}); err != nil {
		return fmt.Errorf("schedule eviction sweep: %w", err)
	}
	if _, err := sched.AddFunc(appCfg.DecaySweepSpec, func() {
		if _, err := decaySweeper.Run(jobCtx); err != nil {
			L.Error(jobCtx, err, "decay sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule decay sweep: %w", err)
	}
	if exporter != nil {
		if _, err := sched.AddFunc(appCfg.ExportSweepSpec, func() {
			if _, err := exporter.Drain(jobCtx); err != nil {
				L.Error(jobCtx, err, "graph export drain failed")
			}
		}); err != nil {
			return fmt.Errorf("schedule export sweep: %w", err)
		}
	}
	sched.Start()
	stopSched := func(ctx context.Context) error {
		select {
		case <-sched.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	// setup readiness checks, currently just the shutdown gate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	// liveness is always true if the app is able to respond
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// start admin/ops listener. sg restricts inbound to internal monitoring infrastructure.
	// we reject connections from public ips and requests with x-forwarded set in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic here
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// setup main api chi router and middleware stack
	r := chi.NewRouter()

	// Compress text responses (we are JSON only for now)
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Stash HTTP method in context for DB query metrics labelling.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
		})
	})

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Limit request body size, this is a wrapper around http.MaxBytesHandler which returns 413 if limit is exceeded
	r.Use(httpmw.MaxBody(1024 * 64)) // 64KB to start with may adjust after i see real traffic

	// add health check endpoints to main listener
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// register api routes
	threatapiHTTP := threatapi.New(L, memSvc, predictor)
	threatapiHTTP.RegisterRoutes(r)

	// middleware stack for main listener, order matters these are wrappers, outermost sees raw request
	// first and is last to see response, innermost is last to see request and first to see response but
	// has access to the full rich context from outer middleware and handlers
	var h http.Handler = r

	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	// add trace-id and span-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// otel instrumentation for automatic spans and trace context propagation
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// WithPublicEndpointFn is the replacement for WithPublicEndpoint()
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// Metrics middleware for prometheus instrumentation
	h = m.Middleware(h)

	// Client IP resolution and spoofing protection middleware, outer so downstream middleware
	// and handlers can use the resolved client ip from context for consistency and security
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h) // request ID

	// Recovery middleware to recover and log panics and serve 500 response.
	// Outer to catch panics from any downstream middleware or handlers
	h = httpmw.Recover(L, nil)(h)

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	// Configure http server options from config
	threatapiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	// Start threatapi HTTP server with middleware and handlers
	threatapiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, threatapiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start threatapi http listener")
		return err
	}
	defer func() {
		err := threatapiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop threatapi http listener")
		}
	}()

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// Wait for in-flight requests to finish and for load balancer
	// to detect unhealthy and stop sending new requests.
	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Stop NATS intake first so no new threats arrive while sweeps wind down.
	if subscriber != nil {
		if err := subscriber.Close(); err != nil {
			L.Error(context.Background(), err, "nats subscriber shutdown")
		}
	}

	// Shutdown components with per-component budget sliced from total.
	// stopProf is synchronous and needs no context, so it's excluded.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"background sweeps", stopSched},
		{"threatapi http server", threatapiHTTPStop},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// alertingPredictor forwards predictions to the engine and fires a Slack
// notification for immediate-alert recommendations without blocking the
// request path.
type alertingPredictor struct {
	engine   *predict.Engine
	notifier *slack.Notifier
	logger   log.Logger
}

func (p *alertingPredictor) Predict(ctx context.Context, analystID string, t predict.ThreatData) (*predict.Result, error) {
	res, err := p.engine.Predict(ctx, analystID, t)
	if err != nil || res == nil {
		return res, err
	}
	if res.Recommendation == predict.RecommendImmediateAlert {
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := p.notifier.Send(nctx, res); err != nil {
				p.logger.Error(nctx, err, "slack alert send failed", "threat_id", res.ThreatID)
			}
		}()
	}
	return res, nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
