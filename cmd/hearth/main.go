// Command hearth is the voice-assistant orchestration server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/openhearth/hearth/internal/admin"
	"github.com/openhearth/hearth/internal/analytics"
	"github.com/openhearth/hearth/internal/cache"
	"github.com/openhearth/hearth/internal/clarify"
	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/handler"
	"github.com/openhearth/hearth/internal/health"
	"github.com/openhearth/hearth/internal/homectl"
	"github.com/openhearth/hearth/internal/intent"
	"github.com/openhearth/hearth/internal/llm"
	"github.com/openhearth/hearth/internal/observe"
	"github.com/openhearth/hearth/internal/orchestrator"
	"github.com/openhearth/hearth/internal/resilience"
	"github.com/openhearth/hearth/internal/server"
	"github.com/openhearth/hearth/internal/session"
	"github.com/openhearth/hearth/internal/store"
	"github.com/openhearth/hearth/internal/stt"
	"github.com/openhearth/hearth/internal/tts"
	"github.com/openhearth/hearth/internal/types"
	"github.com/openhearth/hearth/internal/validate"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hearth: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hearth: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("hearth starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "hearth",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer shutdownMetrics(context.Background())

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Stores ────────────────────────────────────────────────────────────────
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable at startup, continuing degraded", "addr", cfg.Redis.Addr, "err", err)
		}
		defer rdb.Close()
	}

	var (
		st store.Store
		pg *store.Postgres
	)
	if cfg.Postgres.DSN != "" {
		pg, err = store.NewPostgres(ctx, cfg.Postgres.DSN)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pg.Close()
		st = pg
	} else {
		slog.Info("no postgres DSN configured, using in-memory admin store")
		st = store.NewMemory()
	}

	// ── Analytics ─────────────────────────────────────────────────────────────
	var sink analytics.Sink
	if pg != nil {
		sink, err = analytics.NewPostgresSink(ctx, pg.Pool())
		if err != nil {
			slog.Error("failed to initialise analytics store", "err", err)
			return 1
		}
	} else {
		sink = analytics.NewMemorySink(0)
	}
	recorder := analytics.NewRecorder(sink)

	// ── Dynamic configuration ─────────────────────────────────────────────────
	var src config.Source = st
	if cfg.Admin.RemoteBaseURL != "" {
		src = config.NewHTTPSource(cfg.Admin.RemoteBaseURL, cfg.Admin.RemoteToken)
		slog.Info("dynamic config pulled from remote admin API", "base_url", cfg.Admin.RemoteBaseURL)
	}
	var loaderOpts []config.LoaderOption
	if rdb != nil {
		loaderOpts = append(loaderOpts, config.WithMirror(rdb))
	}
	loader := config.NewLoader(src, loaderOpts...)

	// ── Response cache ────────────────────────────────────────────────────────
	cacheOpts := []cache.Option{cache.WithMetrics(metrics)}
	if rdb != nil {
		cacheOpts = append(cacheOpts, cache.WithRedis(cache.NewRedisTier(rdb)))
	}
	if cfg.Cache.DiskPath != "" {
		disk, err := cache.OpenDiskTier(cfg.Cache.DiskPath)
		if err != nil {
			slog.Error("failed to open disk cache", "path", cfg.Cache.DiskPath, "err", err)
			return 1
		}
		cacheOpts = append(cacheOpts, cache.WithDisk(disk))
	}
	tiered := cache.New(cfg.Cache.MemoryEntries, cacheOpts...)
	defer tiered.Close()

	// ── Sessions ──────────────────────────────────────────────────────────────
	sessionOpts := []session.ManagerOption{
		session.WithEvents(recorder.Record),
		session.WithMetrics(metrics),
	}
	if rdb != nil {
		sessionOpts = append(sessionOpts, session.WithStore(session.NewRedisStore(rdb)))
	}
	sessions := session.NewManager(loader, sessionOpts...)

	// ── Pipeline collaborators ────────────────────────────────────────────────
	budget := resilience.NewBudget(budgetLimits(cfg.Upstreams))
	handlers := handler.NewRegistry(cfg.Upstreams, budget)
	home := homectl.NewClient(cfg.Upstreams.ControlPlane)
	clarifier := clarify.NewEngine(loader, sessions,
		clarify.WithDevices(home),
		clarify.WithEvents(recorder.Record),
	)

	routerOpts := []llm.RouterOption{}
	if hosted, err := llm.NewAnyLLM(); err != nil {
		slog.Warn("hosted LLM providers unavailable", "err", err)
	} else {
		routerOpts = append(routerOpts, llm.WithHostedProvider(hosted))
	}

	model := cfg.Upstreams.LLMModel
	if model == "" {
		model = "default"
	}

	orch := orchestrator.New(orchestrator.Deps{
		Loader:     loader,
		Classifier: intent.New(loader),
		Sessions:   sessions,
		Clarifier:  clarifier,
		Handlers:   handlers,
		Home:       home,
		Validator:  validate.New(handlers),
		Router:     llm.NewRouter(loader, cfg.Upstreams.LLMPrimary, routerOpts...),
		STT:        stt.New(cfg.Upstreams.STT),
		TTS:        tts.New(cfg.Upstreams.TTS),
		Cache:      tiered,
		Metrics:    metrics,
		Events:     recorder.Record,
		Model:      model,
		Deadline:   cfg.Server.RequestDeadline,
	})

	// ── HTTP surfaces ─────────────────────────────────────────────────────────
	adminSrv := admin.NewServer(st, loader, recorder, sessions, cfg.Admin)

	checkers := []health.Checker{
		health.CheckUpstream("stt", cfg.Upstreams.STT),
		health.CheckUpstream("tts", cfg.Upstreams.TTS),
	}
	if rdb != nil {
		checkers = append(checkers, health.CheckRedis(rdb))
	}
	if pg != nil {
		checkers = append(checkers, health.CheckPostgres(pg.Pool()))
	}

	serverOpts := []server.Option{
		server.WithMetrics(metrics),
		server.WithHealth(health.New(checkers...)),
	}
	if cfg.Server.AdminListenAddr == "" {
		serverOpts = append(serverOpts, server.WithAdmin(adminSrv.Routes()))
	}
	ingress := server.New(orch, sessions, serverOpts...)

	// ── Background loops ──────────────────────────────────────────────────────
	go sessions.Run(ctx)
	go loader.Run(ctx)
	go recorder.Run(ctx)
	go budget.RunResetter(ctx.Done())

	httpSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: ingress.Routes(),
	}
	var adminHTTP *http.Server
	if cfg.Server.AdminListenAddr != "" {
		adminHTTP = &http.Server{
			Addr:    cfg.Server.AdminListenAddr,
			Handler: adminSrv.Routes(),
		}
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("ingress listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if adminHTTP != nil {
		go func() {
			slog.Info("admin listening", "addr", adminHTTP.Addr)
			if err := adminHTTP.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("listener failed", "err", err)
		stop()
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("ingress shutdown error", "err", err)
	}
	if adminHTTP != nil {
		if err := adminHTTP.Shutdown(shutdownCtx); err != nil {
			slog.Warn("admin shutdown error", "err", err)
		}
	}
	if err := recorder.Flush(shutdownCtx); err != nil {
		slog.Warn("analytics flush error", "err", err)
	}

	slog.Info("goodbye")
	return 0
}

// budgetLimits maps each data category to its upstream's daily request cap.
// Unset caps are omitted; the budget treats missing categories as unlimited.
func budgetLimits(ups config.UpstreamsConfig) map[string]int {
	limits := make(map[string]int)
	add := func(category types.Category, ep config.Endpoint) {
		if ep.DailyBudget > 0 {
			limits[string(category)] = ep.DailyBudget
		}
	}
	add(types.CategoryWeather, ups.Weather)
	add(types.CategorySports, ups.Sports)
	add(types.CategoryEvents, ups.Events)
	add(types.CategoryStreaming, ups.Streaming)
	add(types.CategoryNews, ups.News)
	add(types.CategoryStocks, ups.Stocks)
	add(types.CategoryFlights, ups.Flights)
	add(types.CategoryWebSearch, ups.WebSearch)
	return limits
}

func printStartupSummary(cfg *config.Bootstrap) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Hearth — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("Listen addr", cfg.Server.ListenAddr)
	printEntry("Admin addr", orDefault(cfg.Server.AdminListenAddr, "(on ingress)"))
	printEntry("Redis", orDefault(cfg.Redis.Addr, "(in-process)"))
	printEntry("Postgres", configured(cfg.Postgres.DSN))
	printEntry("Disk cache", orDefault(cfg.Cache.DiskPath, "(disabled)"))
	printEntry("STT", configured(cfg.Upstreams.STT.BaseURL))
	printEntry("TTS", configured(cfg.Upstreams.TTS.BaseURL))
	printEntry("Control plane", configured(cfg.Upstreams.ControlPlane.BaseURL))
	printEntry("LLM primary", configured(cfg.Upstreams.LLMPrimary.BaseURL))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEntry(name, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", name, value)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func configured(v string) string {
	if v == "" {
		return "(not configured)"
	}
	return "configured"
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
