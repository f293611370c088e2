// Package app assembles the Parlance server: the feature flag store, the
// legacy and modular execution paths, the tool router, and the HTTP boundary
// that exposes them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/avockley/parlance/internal/ambiguity"
	"github.com/avockley/parlance/internal/answer"
	"github.com/avockley/parlance/internal/config"
	"github.com/avockley/parlance/internal/flags"
	"github.com/avockley/parlance/internal/fusion"
	"github.com/avockley/parlance/internal/health"
	"github.com/avockley/parlance/internal/mcpserver"
	"github.com/avockley/parlance/internal/observe"
	"github.com/avockley/parlance/internal/resilience"
	"github.com/avockley/parlance/internal/tool"
	"github.com/avockley/parlance/internal/tool/legacy"
	"github.com/avockley/parlance/internal/tool/modular"
	"github.com/avockley/parlance/pkg/provider/llm"
	"github.com/avockley/parlance/pkg/provider/search"
)

// shutdownTimeout bounds how long Shutdown waits for in-flight requests.
const shutdownTimeout = 15 * time.Second

// Providers bundles the external backends the application depends on.
// Fields may be nil; the app degrades to legacy-only routing when the
// modular path cannot be assembled.
type Providers struct {
	LLM       llm.Provider
	Places    search.Provider
	WebSearch search.Provider

	// LLMFallback, when set, is tried whenever LLM fails or its circuit
	// breaker is open.
	LLMFallback llm.Provider
}

// App is the assembled Parlance server.
type App struct {
	cfg *config.Config
	log *slog.Logger

	flags   *flags.Store
	monitor *observe.Monitor
	metrics *observe.Metrics
	router  *tool.Router

	server      *http.Server
	obsShutdown func(context.Context) error
	legacyConn  *legacy.Executor
	legacyExec  tool.Executor
	defs        []tool.Definition
	pool        *pgxpool.Pool
	promReg     prometheus.Registerer
}

// Option configures optional dependencies on [App].
type Option func(*App)

// WithLegacyExecutor injects a pre-built legacy executor instead of
// connecting to the monolith from config. Used by tests.
func WithLegacyExecutor(e tool.Executor) Option {
	return func(a *App) { a.legacyExec = e }
}

// WithFlagStore injects a pre-built flag store instead of building one from
// the configured persister.
func WithFlagStore(s *flags.Store) Option {
	return func(a *App) { a.flags = s }
}

// WithLogger sets the application logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithPrometheusRegisterer routes the metric exporter to a specific
// Prometheus registry. Tests pass a fresh registry so repeated app
// construction does not collide with the default one.
func WithPrometheusRegisterer(r prometheus.Registerer) Option {
	return func(a *App) { a.promReg = r }
}

// New assembles the application from config and providers. The returned App
// is ready for [App.Run]; call [App.Shutdown] to release its resources.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}

	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	obsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:          "parlance",
		PrometheusRegisterer: a.promReg,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.obsShutdown = obsShutdown

	a.metrics, err = observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	a.monitor = observe.NewMonitor()

	if a.flags == nil {
		if err := a.initFlags(ctx); err != nil {
			return nil, err
		}
	}

	if err := a.initLegacy(ctx); err != nil {
		return nil, err
	}

	modularExec := a.initModular(providers)

	a.defs = make([]tool.Definition, 0, len(cfg.Tools))
	for _, t := range cfg.Tools {
		a.defs = append(a.defs, tool.Definition{
			Name:        t.Name,
			Description: t.Description,
			Category:    tool.Category(t.Category),
		})
	}

	a.router, err = tool.NewRouter(a.defs, a.flags, a.legacyExec, modularExec,
		tool.WithMonitor(a.monitor),
		tool.WithRouterMetrics(a.metrics),
		tool.WithRouterLogger(a.log),
	)
	if err != nil {
		return nil, fmt.Errorf("app: build router: %w", err)
	}

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.buildHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initFlags builds the flag store from the configured persister. The
// Postgres persister takes precedence over the file persister; with neither
// configured the store is memory-only.
func (a *App) initFlags(ctx context.Context) error {
	var persister flags.Persister

	switch {
	case a.cfg.Flags.PostgresDSN != "":
		pool, err := pgxpool.New(ctx, a.cfg.Flags.PostgresDSN)
		if err != nil {
			return fmt.Errorf("app: connect flag store: %w", err)
		}
		a.pool = pool
		pg := flags.NewPostgresPersister(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("app: migrate flag store: %w", err)
		}
		persister = pg
	case a.cfg.Flags.Path != "":
		persister = flags.NewFilePersister(a.cfg.Flags.Path)
	default:
		a.flags = flags.NewStore(nil, flags.WithLogger(a.log))
		return nil
	}

	initial, err := persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("app: load flag snapshot: %w", err)
	}
	a.flags = flags.NewStore(initial, flags.WithPersister(persister), flags.WithLogger(a.log))
	a.log.Info("flag snapshot restored",
		"migration_state", initial.MigrationState,
		"enabled_categories", initial.Categories(),
	)
	return nil
}

// initLegacy connects to the pre-migration monolith unless an executor was
// injected. The legacy path is mandatory: it is the fallback of last resort
// for every migration state.
func (a *App) initLegacy(ctx context.Context) error {
	if a.legacyExec != nil {
		return nil
	}
	if a.cfg.Legacy.Transport == "" {
		return errors.New("app: legacy.transport is not configured and no legacy executor was injected")
	}
	conn, err := legacy.Connect(ctx, legacy.Config{
		Transport: a.cfg.Legacy.Transport,
		Command:   a.cfg.Legacy.Command,
		URL:       a.cfg.Legacy.URL,
		Env:       a.cfg.Legacy.Env,
	}, a.log)
	if err != nil {
		return fmt.Errorf("app: connect legacy monolith: %w", err)
	}
	a.legacyConn = conn
	a.legacyExec = conn
	return nil
}

// initModular assembles the modular pipeline when enough providers are
// configured. Returns nil when the modular path is unavailable, which the
// router treats as "route everything to legacy".
func (a *App) initModular(providers *Providers) tool.Executor {
	// Each search backend gets its own circuit breaker so a flapping
	// backend fails fast instead of eating the stage deadline.
	var backends []search.Provider
	if providers.Places != nil {
		backends = append(backends, resilience.NewSearchBreaker(providers.Places,
			resilience.CircuitBreakerConfig{Logger: a.log}))
	}
	if providers.WebSearch != nil {
		backends = append(backends, resilience.NewSearchBreaker(providers.WebSearch,
			resilience.CircuitBreakerConfig{Logger: a.log}))
	}

	if providers.LLM == nil || len(backends) == 0 {
		a.log.Warn("modular path unavailable; routing all tools to legacy",
			"llm_configured", providers.LLM != nil,
			"search_backends", len(backends),
		)
		return nil
	}

	var fusionOpts []fusion.Option
	if ms := a.cfg.Fusion.ProviderTimeoutMs; ms > 0 {
		fusionOpts = append(fusionOpts, fusion.WithProviderTimeout(time.Duration(ms)*time.Millisecond))
	}
	if n := a.cfg.Fusion.MinReliable; n > 0 {
		fusionOpts = append(fusionOpts, fusion.WithMinReliable(n))
	}
	if n := a.cfg.Fusion.MinReviews; n > 0 {
		fusionOpts = append(fusionOpts, fusion.WithMinReviews(n))
	}
	if n := a.cfg.Fusion.MaxResults; n > 0 {
		fusionOpts = append(fusionOpts, fusion.WithMaxResults(n))
	}
	engine := fusion.NewEngine(backends, fusionOpts...)

	model := providers.LLM
	if providers.LLMFallback != nil {
		failover := resilience.NewLLMFailover(providers.LLM, a.cfg.Providers.LLM.Name,
			resilience.FailoverConfig{Logger: a.log})
		failover.AddFallback(a.cfg.Providers.LLMFallback.Name, providers.LLMFallback)
		model = failover
	}

	classifier := ambiguity.NewClassifier(model, a.log)
	synthesizer := answer.NewSynthesizer(model)

	pipeOpts := []modular.PipelineOption{
		modular.WithPipelineMetrics(a.metrics),
		modular.WithPipelineLogger(a.log),
	}
	if ladder := a.cfg.Fusion.RadiusLadderM; len(ladder) > 0 {
		pipeOpts = append(pipeOpts, modular.WithRadiusLadder(ladder))
	}
	if ms := a.cfg.Fusion.StageTimeoutMs; ms > 0 {
		pipeOpts = append(pipeOpts, modular.WithStageTimeout(time.Duration(ms)*time.Millisecond))
	}

	pipeline, err := modular.NewPipeline(engine, classifier, synthesizer, pipeOpts...)
	if err != nil {
		a.log.Warn("modular path unavailable; routing all tools to legacy", "err", err)
		return nil
	}
	return pipeline
}

// Handler exposes the assembled HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Router exposes the assembled router, mainly for tests.
func (a *App) Router() *tool.Router {
	return a.router
}

// Flags exposes the flag store, mainly for tests and operator tooling.
func (a *App) Flags() *flags.Store {
	return a.flags
}

// buildHandler assembles the HTTP routes: the tool execution API, the flag
// operator API, the MCP ingress, Prometheus metrics, and health probes.
func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()
	a.registerAPI(mux)

	mux.Handle("/mcp", mcpserver.New(a.router, a.defs, a.log).HTTPHandler())

	checkers := []health.Checker{
		{Name: "legacy", Check: a.checkLegacy},
	}
	h := health.New(checkers, health.WithFlags(a.flags), health.WithMonitor(a.monitor))
	h.Register(mux)

	return observe.Middleware(a.metrics)(mux)
}

// checkLegacy probes the legacy monolith connection for /readyz. An injected
// executor has no connection to probe and is reported healthy.
func (a *App) checkLegacy(ctx context.Context) error {
	if a.legacyConn == nil {
		return nil
	}
	return a.legacyConn.Ping(ctx)
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.log.Info("http server listening", "addr", a.cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	}
}

// Shutdown stops the HTTP server and releases the legacy connection, the
// flag store pool, and the telemetry providers. Errors are joined so a
// failing component does not mask the others.
func (a *App) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
	}

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if a.legacyConn != nil {
		if err := a.legacyConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("legacy connection: %w", err))
		}
	}
	if a.flags != nil {
		// Flush the last flag snapshot before the pool it may write to goes away.
		a.flags.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.obsShutdown != nil {
		if err := a.obsShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}
