// Steward is an AI ticket-triage worker: it consumes ticket lifecycle
// events, classifies new tickets with retrieval-augmented triage, and
// turns resolutions into durable institutional memory.
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
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/steward/internal/authmw"
	"github.com/linnemanlabs/steward/internal/bus"
	"github.com/linnemanlabs/steward/internal/bus/kafkabus"
	"github.com/linnemanlabs/steward/internal/bus/membus"
	"github.com/linnemanlabs/steward/internal/bus/redisbus"
	sc "github.com/linnemanlabs/steward/internal/cfg"
	"github.com/linnemanlabs/steward/internal/ctxstore"
	"github.com/linnemanlabs/steward/internal/dispatch"
	"github.com/linnemanlabs/steward/internal/llm/claude"
	"github.com/linnemanlabs/steward/internal/llm/gemini"
	"github.com/linnemanlabs/steward/internal/memory"
	"github.com/linnemanlabs/steward/internal/notify/slack"
	"github.com/linnemanlabs/steward/internal/outcomeapi"
	"github.com/linnemanlabs/steward/internal/ticket"
	"github.com/linnemanlabs/steward/internal/triage"
)

const appName = "steward"
const component = "worker"

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
		appCfg    sc.Config
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

	// Fill in config values from environment variables with prefix STEWARD_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "STEWARD_", func(format string, args ...any) {
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
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"bus", appCfg.Bus,
		"consumer_group", appCfg.ConsumerGroup,
		"context_store_url", appCfg.ContextStoreURL,
		"llm_provider", appCfg.LLMProvider,
		"similarity_threshold", appCfg.SimilarityThreshold,
		"retrieval_top_k", appCfg.RetrievalTopK,
		"enable_tracing", traceCfg.EnableTracing,
		"enable_pyroscope", profCfg.EnablePyroscope,
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
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Context-store client; refuse to start against an unreachable store.
	store := ctxstore.New(appCfg.ContextStoreURL)
	healthCtx, cancelHealth := context.WithTimeout(ctx, 10*time.Second)
	err = store.Health(healthCtx)
	cancelHealth()
	if err != nil {
		return fmt.Errorf("context store unreachable: %w", err)
	}
	L.Info(ctx, "context store reachable", "url", appCfg.ContextStoreURL)

	// Embeddings always come from the Gemini embedding model. Without a key
	// retrieval degrades to empty and memory writes fail per event.
	var embedder *gemini.Client
	if appCfg.GoogleAPIKey != "" {
		embedder = gemini.New(appCfg.GoogleAPIKey, appCfg.GeminiModel, appCfg.EmbedModel)
		L.Info(ctx, "initialized embedder", "model", appCfg.EmbedModel)
	} else {
		L.Warn(ctx, "no google-api-key: retrieval and memory writes disabled")
	}

	// Generative provider selection. nil model means heuristics only.
	var model *triage.ModelClassifier
	switch appCfg.LLMProvider {
	case sc.ProviderGemini:
		model = triage.NewModelClassifier(embedder)
		L.Info(ctx, "initialized LLM provider", "provider", "gemini", "model", appCfg.GeminiModel)
	case sc.ProviderClaude:
		model = triage.NewModelClassifier(claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel))
		L.Info(ctx, "initialized LLM provider", "provider", "claude", "model", appCfg.ClaudeModel)
	default:
		L.Warn(ctx, "no LLM provider configured, using heuristic classification")
	}

	// Similarity retriever over the store's vector index (best-effort).
	var retriever *triage.Retriever
	if embedder != nil {
		retriever = triage.NewRetriever(
			embedder,
			memorySearcher{store: store},
			appCfg.SimilarityThreshold,
			appCfg.RetrievalTopK,
			L,
		)
	}

	// Triage engine with metrics hooks.
	triageMetrics := triage.NewMetrics(m.Registry())
	engine := triage.NewEngine(retriever, model, L, triageMetrics.Hooks())

	// Memory writer for resolved tickets.
	var writerEmbedder memory.Embedder
	if embedder != nil {
		writerEmbedder = embedder
	}
	writer := memory.NewWriter(writerEmbedder, store, L)

	// Broker consumer selection.
	var consumer bus.Consumer
	switch appCfg.Bus {
	case sc.BusKafka:
		consumer = kafkabus.New(appCfg.KafkaBrokerList(), appCfg.ConsumerGroup, ticket.Topics())
		L.Info(ctx, "using kafka bus", "brokers", appCfg.KafkaBrokers)
	case sc.BusRedis:
		consumer, err = redisbus.New(ctx, appCfg.RedisAddr, appCfg.ConsumerGroup, consumerName(), ticket.Topics())
		if err != nil {
			return fmt.Errorf("redis bus: %w", err)
		}
		L.Info(ctx, "using redis streams bus", "addr", appCfg.RedisAddr)
	case sc.BusMem:
		consumer = membus.New(64)
		L.Info(ctx, "using in-memory bus (dev only)")
	}
	defer func() { _ = consumer.Close() }()

	// Outcome history, dispatcher metrics, notifier.
	history := dispatch.NewHistory(appCfg.HistorySize)
	dispatchMetrics := dispatch.NewMetrics(m.Registry())

	var notifier dispatch.Notifier
	if appCfg.SlackWebhookURL != "" {
		notifier = slack.New(appCfg.SlackWebhookURL)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	dispatcher := dispatch.New(consumer, store, engine, writer, history, dispatchMetrics, notifier, L)

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown so the worker is drained before killing the process.
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

	// setup outcomes api chi router and middleware stack
	r := chi.NewRouter()

	// Compress text responses (we are JSON only for now)
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Limit request body size; the outcomes API is read-only
	r.Use(httpmw.MaxBody(1024 * 4))

	// add health check endpoints to main listener
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// register api routes, behind bearer auth when a token is configured
	outcomesHTTP := outcomeapi.New(L, history)
	r.Group(func(r chi.Router) {
		if appCfg.APIToken != "" {
			r.Use(authmw.BearerToken(appCfg.APIToken))
		}
		outcomesHTTP.RegisterRoutes(r)
	})

	// middleware stack for main listener, order matters these are wrappers, outermost sees raw request
	// first and is last to see response
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

	// Client IP resolution and spoofing protection middleware
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h)

	// Recovery middleware to recover and log panics and serve 500 response.
	h = httpmw.Recover(L, nil)(h)

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	// Configure http server options from config
	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	// Start outcomes HTTP server with middleware and handlers
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start outcomes http listener")
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop outcomes http listener")
		}
	}()

	// Start the consume loop. It owns all event processing; per-event
	// failures never surface here, only fatal broker errors do.
	loopErr := make(chan error, 1)
	go func() { loopErr <- dispatcher.Run(ctx) }()

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm, or a fatal broker error
	var fatal error
	select {
	case <-ctx.Done():
		L.Info(context.Background(), "shutdown signal received")
	case err := <-loopErr:
		if err != nil {
			fatal = err
			L.Error(context.Background(), err, "consume loop failed")
		} else {
			L.Info(context.Background(), "consume loop exited")
		}
	}

	// fail health checks before tearing anything down
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// Close the broker connection; the consume loop exits at the next
	// loop boundary (no in-flight call is interrupted).
	if err := consumer.Close(); err != nil {
		L.Error(context.Background(), err, "consumer close")
	}

	// Wait for the in-flight event to finish, bounded by the drain budget.
	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-loopErr:
		L.Info(context.Background(), "consume loop drained")
	case <-time.After(drainDuration):
		L.Warn(context.Background(), "drain budget exhausted with event in flight")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Shutdown components with per-component budget sliced from total.
	// stopProf is synchronous and needs no context, so it's excluded.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"outcomes http server", apiHTTPStop},
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
	return fatal
}

// memorySearcher adapts the context-store client to the triage.Searcher
// interface.
type memorySearcher struct {
	store *ctxstore.Client
}

func (s memorySearcher) SearchMemory(ctx context.Context, tenantID string, queryEmbedding []float64, topK int) ([]triage.SimilarIncident, error) {
	results, err := s.store.SearchMemory(ctx, tenantID, queryEmbedding, topK)
	if err != nil {
		return nil, err
	}
	out := make([]triage.SimilarIncident, 0, len(results))
	for _, r := range results {
		out = append(out, triage.SimilarIncident{
			Content:    r.Content,
			Similarity: r.Similarity,
			Metadata:   r.Metadata,
		})
	}
	return out, nil
}

// consumerName builds the per-process consumer identity for consumer-group
// brokers that need one.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return appName + "-" + component
	}
	return appName + "-" + host
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
