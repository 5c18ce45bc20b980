// Package main is the entry point of the classroom chat bot.
//
// The bot reads commands (materia, tarea, sistema) from a chat transport,
// keeps courses, tasks and users per tenant in the entity store and writes
// every change through the persistence gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/educativo/edubot/config"
	"github.com/educativo/edubot/internal/application/store"
	"github.com/educativo/edubot/internal/infrastructure/messaging"
	"github.com/educativo/edubot/internal/infrastructure/persistence"
	"github.com/educativo/edubot/internal/infrastructure/persistence/file"
	"github.com/educativo/edubot/internal/infrastructure/persistence/postgres"
	"github.com/educativo/edubot/internal/infrastructure/persistence/redis"
	"github.com/educativo/edubot/internal/infrastructure/scheduler"
	"github.com/educativo/edubot/internal/infrastructure/scheduler/jobs"
	"github.com/educativo/edubot/internal/interface/chat"
	"github.com/educativo/edubot/internal/interface/chat/handler"
	"github.com/educativo/edubot/internal/interface/chat/middleware"
	opshttp "github.com/educativo/edubot/internal/interface/http"
	"github.com/educativo/edubot/internal/interface/http/handlers"
	"github.com/educativo/edubot/pkg/circuitbreaker"
	"github.com/educativo/edubot/pkg/retry"
	"github.com/educativo/edubot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	log.Info("starting edubot",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
		"storage", cfg.Storage.Backend,
		"transport", cfg.Bot.Transport,
		"features", cfg.Features.Summary(),
	)
	timeutil.SetLocation(cfg.App.Location)

	clock := timeutil.SystemClock{}
	startedAt := clock.Now()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. PERSISTENCE
	// ─────────────────────────────────────────────────────────────────────────
	backend, breaker, err := openBackend(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open %s backend: %w", cfg.Storage.Backend, err)
	}

	gateway, err := persistence.Open(ctx, backend, persistence.Config{
		Name:         cfg.Storage.Backend,
		WriteTimeout: cfg.Storage.WriteTimeout,
		Breaker:      breaker,
		Logger:       log,
	})
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("failed to open persistence gateway: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. EVENT BUS AND ENTITY STORE
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log
	eventBus := messaging.NewInMemoryEventBus(busConfig)
	if cfg.App.Debug || cfg.Observability.LogLevel == "debug" {
		if err := eventBus.SubscribeAll(messaging.ActivityLogger(log.With("component", "activity"))); err != nil {
			log.Warn("failed to subscribe activity logger", "error", err)
		}
	}

	moderators := middleware.NewModeratorList(cfg.Bot.Moderators...)

	hub := store.NewHub(store.Config{
		Persister:        gateway,
		Events:           eventBus,
		Clock:            clock,
		IsModerator:      moderators.IsModerator,
		PersistTimeout:   cfg.Storage.WriteTimeout,
		FirstCourseBonus: cfg.Features.Enabled(config.FeatureFirstCourseBonus),
		Logger:           log,
	})
	if err := hub.Load(ctx); err != nil {
		return shutdownWith(log, err, gateway, eventBus, nil)
	}
	log.Info("entity store loaded", "tenants", len(hub.Tenants()))

	// ─────────────────────────────────────────────────────────────────────────
	// 4. COMMANDS AND DISPATCHER
	// ─────────────────────────────────────────────────────────────────────────
	deps := handler.Deps{Hub: hub, Clock: clock, Moderators: moderators, Logger: log}
	registry, err := chat.NewRegistry(
		handler.NewCourseCommand(deps),
		handler.NewTaskCommand(deps),
		handler.NewSystemCommand(deps, handler.SystemConfig{
			Penalties: cfg.Features.Enabled(config.FeaturePenalties),
			Backend:   gateway.Backend(),
			StartedAt: startedAt,
			Counters:  gateway,
		}),
	)
	if err != nil {
		return shutdownWith(log, err, gateway, eventBus, nil)
	}

	rateConfig := middleware.DefaultRateLimitConfig()
	rateConfig.RequestsPerMinute = cfg.RateLimit.RequestsPerMinute
	rateConfig.BurstSize = cfg.RateLimit.Burst
	rateConfig.BanThreshold = cfg.RateLimit.BanThreshold
	rateConfig.BanDuration = cfg.RateLimit.BanDuration
	rateConfig.WhitelistedUsers = append(cfg.RateLimit.Whitelist, moderators.IDs()...)
	rateLimiter := middleware.NewRateLimiter(rateConfig)
	defer rateLimiter.Stop()

	recoveryConfig := middleware.DefaultRecoveryConfig()
	recoveryConfig.Logger = log
	recoveryConfig.EnableStackTrace = !cfg.IsProduction() || cfg.App.Debug

	metricsConfig := middleware.DefaultMetricsConfig()
	metricsConfig.OnSlowRequest = func(command string, d time.Duration, actorID string) {
		log.Warn("slow command", "command", command, "duration", d, "actor_id", actorID)
	}
	metrics := middleware.NewMetricsMiddleware(metricsConfig)

	dispatcherConfig := chat.DefaultDispatcherConfig()
	dispatcherConfig.Prefix = cfg.Bot.Prefix
	dispatcherConfig.TenantMode = chat.TenantMode(cfg.Bot.TenantMode)
	dispatcherConfig.CommandTimeout = cfg.Bot.CommandTimeout
	dispatcherConfig.MaxMessageLength = cfg.Bot.MaxMessageLength
	dispatcherConfig.WordBoundarySplitFor = cfg.Features.ForActor(config.FeatureWordBoundarySplit, moderators.IsModerator)
	dispatcherConfig.CommandCounters = cfg.Features.Enabled(config.FeatureCommandCounters)
	dispatcherConfig.Logger = log

	dispatcher, err := chat.NewDispatcher(registry, dispatcherConfig, chat.DispatcherDeps{
		RateLimiter: rateLimiter,
		Recovery:    middleware.NewRecoveryMiddleware(recoveryConfig),
		Metrics:     metrics,
		Counters:    gateway,
		Clock:       clock,
	})
	if err != nil {
		return shutdownWith(log, err, gateway, eventBus, nil)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. MAINTENANCE JOBS
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{Logger: log})
	flushJob := jobs.NewFlushStoreJob(gateway, jobs.FlushStoreConfig{Timeout: cfg.Storage.FlushInterval, Logger: log})
	if err := sched.Register(flushJob, scheduler.Every(cfg.Storage.FlushInterval)); err != nil {
		return shutdownWith(log, err, gateway, eventBus, nil)
	}
	if cfg.Observability.StatsInterval > 0 {
		statsJob := jobs.NewReportStatsJob(hub, metricsSource(metrics), log)
		if err := sched.Register(statsJob, scheduler.Every(cfg.Observability.StatsInterval)); err != nil {
			return shutdownWith(log, err, gateway, eventBus, nil)
		}
	}
	if err := sched.Start(context.Background()); err != nil {
		return shutdownWith(log, err, gateway, eventBus, nil)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. TRANSPORT AND BOT
	// ─────────────────────────────────────────────────────────────────────────
	transport, err := openTransport(ctx, cfg, log)
	if err != nil {
		return shutdownWith(log, err, gateway, eventBus, sched)
	}

	bot, err := chat.NewBot(chat.BotConfig{
		MaxConcurrentMessages:   cfg.Bot.MaxConcurrent,
		GracefulShutdownTimeout: cfg.App.ShutdownTimeout,
		Logger:                  log,
	}, transport, dispatcher)
	if err != nil {
		return shutdownWith(log, err, gateway, eventBus, sched)
	}

	var ops *opshttp.Server
	if cfg.Observability.HTTPEnabled {
		ops = newOpsServer(cfg, backend, breaker, gateway, hub, metrics, sched, log)
		go func() {
			for err := range ops.StartAsync() {
				log.Error("ops HTTP server failed", "error", err)
			}
		}()
	}

	log.Info("edubot is running", "prefix", cfg.Bot.Prefix, "commands", registry.Len())
	runErr := bot.Run(ctx)
	if runErr != nil {
		log.Error("bot stopped with error", "error", runErr)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting graceful shutdown", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := bot.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop bot gracefully", "error", err)
	}
	bot.Wait()
	if ops != nil {
		if err := ops.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to stop ops HTTP server", "error", err)
		}
	}

	stats := bot.Stats()
	snapshot := metrics.Snapshot()
	log.Info("bot stats",
		"messages_received", stats.MessagesReceived,
		"messages_handled", stats.MessagesHandled,
		"replies_sent", stats.RepliesSent,
		"errors", stats.ErrorsCount,
		"commands_total", snapshot.TotalRequests,
		"command_errors", snapshot.TotalErrors,
	)

	return shutdownWith(log, runErr, gateway, eventBus, sched)
}

// shutdownWith stops the scheduler when it runs, closes the gateway (which
// flushes) and the event bus, and returns cause joined with any close error.
func shutdownWith(
	log *slog.Logger,
	cause error,
	gateway *persistence.Gateway,
	bus *messaging.InMemoryEventBus,
	sched *scheduler.Scheduler,
) error {
	if sched != nil && sched.IsRunning() {
		_ = sched.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closeErr := gateway.Close(ctx)
	if closeErr != nil {
		log.Error("failed to close persistence gateway", "error", closeErr)
	}
	_ = bus.Close()

	if err := errors.Join(cause, closeErr); err != nil {
		return err
	}
	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures structured logging.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Observability.LogLevel)}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var h slog.Handler
	if cfg.IsProduction() || cfg.Observability.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}

	log := slog.New(h).With("app", cfg.App.Name)
	slog.SetDefault(log)
	return log
}

// newOpsServer builds the health, stats and jobs endpoints. Backends that
// can ping get a connectivity check, breaker-guarded ones a breaker check.
func newOpsServer(
	cfg *config.Config,
	backend persistence.Backend,
	breaker *circuitbreaker.CircuitBreaker,
	gateway *persistence.Gateway,
	hub *store.Hub,
	metrics *middleware.MetricsMiddleware,
	sched *scheduler.Scheduler,
	log *slog.Logger,
) *opshttp.Server {
	checker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	checker.AddCheck("store", handlers.NewStoreCheck(gateway))
	if p, ok := backend.(handlers.Pinger); ok {
		checker.AddCheck(cfg.Storage.Backend, handlers.NewPingCheck(p))
	}
	if breaker != nil {
		checker.AddCheck("circuit_breaker", handlers.NewBreakerCheck(breaker))
	}

	httpConfig := opshttp.DefaultConfig()
	httpConfig.Host = cfg.Observability.HTTPHost
	httpConfig.Port = cfg.Observability.HTTPPort
	httpConfig.Version = cfg.App.Version
	httpConfig.APIKeyHash = cfg.Observability.HTTPAPIKeyHash

	return opshttp.NewServer(httpConfig, opshttp.Dependencies{
		Hub:           hub,
		Metrics:       metrics,
		Jobs:          sched,
		HealthChecker: checker,
		Logger:        log,
	})
}

// metricsSource exposes the dispatcher metrics to the stats job.
func metricsSource(m *middleware.MetricsMiddleware) jobs.MetricsSource {
	return func() jobs.CommandMetrics {
		snap := m.Snapshot()
		out := jobs.CommandMetrics{
			TotalRequests: snap.TotalRequests,
			TotalErrors:   snap.TotalErrors,
			UniqueUsers:   snap.UniqueUsers,
			PerCommand:    make(map[string]int64, len(snap.Commands)),
		}
		for _, c := range snap.Commands {
			out.PerCommand[c.Name] = c.TotalCount
		}
		return out
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openBackend connects the configured storage backend. Networked backends
// are connected with retries and get a circuit breaker.
func openBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (persistence.Backend, *circuitbreaker.CircuitBreaker, error) {
	onStateChange := func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}
	connect := retry.ConnectRetrier(retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		log.Warn("backend connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}))

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return persistence.NewMemoryBackend(), nil, nil

	case config.BackendFile:
		b, err := file.New(cfg.Storage.FilePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using file backend", "path", b.Path())
		return b, nil, nil

	case config.BackendRedis:
		redisCfg := redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Namespace:    cfg.Redis.Namespace,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   redis.DefaultConfig().MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}
		var b *redis.Backend
		err := connect.Do(ctx, func(ctx context.Context) error {
			var connErr error
			b, connErr = redis.New(ctx, redisCfg)
			return connErr
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("connected to redis", "addr", redisCfg.Addr(), "namespace", b.Namespace())
		return b, circuitbreaker.RedisBreaker(onStateChange), nil

	case config.BackendPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL
		pgCfg.MaxConns = int32(cfg.Database.MaxConns)
		pgCfg.MinConns = int32(cfg.Database.MinConns)
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
		pgCfg.ConnectTimeout = cfg.Database.ConnectTimeout

		var b *postgres.Backend
		err := connect.Do(ctx, func(ctx context.Context) error {
			var connErr error
			b, connErr = postgres.New(ctx, pgCfg)
			return connErr
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("connected to postgres")
		return b, circuitbreaker.DatabaseBreaker(onStateChange), nil
	}

	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
