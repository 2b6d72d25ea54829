// Command voicecore is the main entry point for the VoiceCore speech server.
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

	"github.com/sarathi-ai/voicecore/internal/agent"
	"github.com/sarathi-ai/voicecore/internal/audioopt"
	"github.com/sarathi-ai/voicecore/internal/command"
	"github.com/sarathi-ai/voicecore/internal/config"
	"github.com/sarathi-ai/voicecore/internal/gateway"
	"github.com/sarathi-ai/voicecore/internal/limiter"
	"github.com/sarathi-ai/voicecore/internal/observe"
	"github.com/sarathi-ai/voicecore/internal/server"
	"github.com/sarathi-ai/voicecore/internal/session"
	"github.com/sarathi-ai/voicecore/internal/voicecache"
	"github.com/sarathi-ai/voicecore/pkg/provider/speech"
	"github.com/sarathi-ai/voicecore/pkg/types"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("voicecore", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicecore: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicecore: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can retune it.
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("voicecore starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voicecore",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Speech adapters ───────────────────────────────────────────────────────
	reg := config.BuiltinRegistry()
	primary, err := reg.Create(cfg.Providers.Primary)
	if err != nil {
		slog.Error("failed to create primary provider",
			"name", cfg.Providers.Primary.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "role", "primary", "name", cfg.Providers.Primary.Name)

	var backup speech.Adapter
	if cfg.Providers.Backup.Name != "" {
		backup, err = reg.Create(cfg.Providers.Backup)
		if err != nil {
			slog.Error("failed to create backup provider",
				"name", cfg.Providers.Backup.Name, "err", err)
			return 1
		}
		slog.Info("provider created", "role", "backup", "name", cfg.Providers.Backup.Name)
	}

	// ── Admission control ─────────────────────────────────────────────────────
	lim := limiter.New(
		limiter.WithMaxConcurrent(cfg.Limiter.MaxConcurrent),
		limiter.WithQueueTimeout(cfg.Limiter.QueueTimeout.Std()),
		limiter.WithRateLimit(types.CallTTS, cfg.Limiter.TTSPerHour),
		limiter.WithRateLimit(types.CallSTT, cfg.Limiter.STTPerHour),
		limiter.WithLogger(logger),
		limiter.WithRejectionHook(func(reason string, kind types.CallKind) {
			metrics.RecordLimiterRejection(context.Background(), reason, string(kind))
		}),
	)
	if err := metrics.RegisterLimiterObserver(func() (int64, int64) {
		st := lim.Stats()
		return int64(st.InFlight), int64(st.Queued)
	}); err != nil {
		slog.Warn("failed to register limiter gauges", "err", err)
	}

	// ── Provider gateway ──────────────────────────────────────────────────────
	gwOpts := []gateway.GatewayOption{
		gateway.WithGatewayLogger(logger),
		gateway.WithFailoverHook(func() {
			metrics.ProviderFailovers.Add(context.Background(), 1)
		}),
	}
	if backup != nil {
		gwOpts = append(gwOpts, gateway.WithBackup(backup))
	}
	gw := gateway.New(primary, lim, gwOpts...)

	// ── Response cache ────────────────────────────────────────────────────────
	backend, err := newCacheBackend(ctx, cfg.Cache)
	if err != nil {
		slog.Error("failed to create cache backend",
			"backend", cfg.Cache.Backend, "err", err)
		return 1
	}
	cache := voicecache.New(backend,
		voicecache.WithTTL(cfg.Cache.TTL.Std()),
		voicecache.WithCompressMin(cfg.Cache.CompressMin),
		voicecache.WithLogger(logger),
		voicecache.WithObserver(func(hit bool) {
			result := "miss"
			if hit {
				result = "hit"
			}
			metrics.RecordCacheLookup(context.Background(), result)
		}),
	)
	defer func() {
		if err := cache.Close(); err != nil {
			slog.Warn("cache close error", "err", err)
		}
	}()

	// ── Session pipeline ──────────────────────────────────────────────────────
	classifier := command.NewProcessor(command.WithThreshold(cfg.Command.ConfidenceThreshold))
	manager := session.NewManager(session.Deps{
		Gateway:    gw,
		Cache:      cache,
		Optimizer:  audioopt.New(),
		Classifier: classifier,
		Generator:  agent.NewPersonas(),
		Logger:     logger,
	}, session.WithIdleTimeout(cfg.Session.IdleTimeout.Std()))
	defer manager.CloseAll()

	defaults := session.DefaultSettings
	defaults.Agent = cfg.Session.DefaultAgent
	defaults.Language = cfg.Session.DefaultLanguage

	srv := server.New(manager, gw, cache,
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithDefaultSettings(defaults),
	)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(d config.ConfigDiff, _ *config.Config) {
		applyReload(d, logLevel, classifier, lim, manager)
	}, config.WithWatcherLogger(logger))
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	// ── HTTP server ───────────────────────────────────────────────────────────
	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newCacheBackend builds the storage backend named in cfg. The Redis
// connection is verified with a PING so a misconfigured address fails at
// startup instead of degrading every lookup.
func newCacheBackend(ctx context.Context, cfg config.CacheConfig) (voicecache.Backend, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		return voicecache.NewRedisBackendFromClient(client), nil
	default:
		return voicecache.NewMemoryBackend(
			voicecache.WithCapacity(int64(cfg.Capacity) << 20),
		), nil
	}
}

// applyReload pushes the hot-reloadable parts of a config change into the
// running components. Everything the diff does not track requires a restart.
func applyReload(d config.ConfigDiff, logLevel *slog.LevelVar, classifier *command.Processor, lim *limiter.Limiter, manager *session.Manager) {
	if !d.Any() {
		return
	}
	if d.LogLevelChanged {
		logLevel.Set(d.NewLogLevel.Level())
		slog.Info("log level updated", "log_level", d.NewLogLevel)
	}
	if d.CommandChanged {
		classifier.SetThreshold(d.NewThreshold)
		slog.Info("command threshold updated", "threshold", d.NewThreshold)
	}
	if d.RateCapsChanged {
		lim.SetRateLimit(types.CallTTS, d.NewTTSPerHour)
		lim.SetRateLimit(types.CallSTT, d.NewSTTPerHour)
		slog.Info("rate caps updated",
			"tts_per_hour", d.NewTTSPerHour, "stt_per_hour", d.NewSTTPerHour)
	}
	if d.IdleTimeoutChanged {
		manager.SetIdleTimeout(d.NewIdleTimeout.Std())
		slog.Info("session idle timeout updated", "idle_timeout", d.NewIdleTimeout.Std())
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        VoiceCore — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Primary", providerLabel(cfg.Providers.Primary))
	printRow("Backup", providerLabel(cfg.Providers.Backup))
	printRow("Cache", string(cfg.Cache.Backend))
	printRow("Slots", fmt.Sprintf("%d", cfg.Limiter.MaxConcurrent))
	printRow("Default agent", cfg.Session.DefaultAgent)
	printRow("Language", cfg.Session.DefaultLanguage)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(entry config.ProviderEntry) string {
	if entry.Name == "" {
		return "(not configured)"
	}
	if entry.TTSModel != "" {
		return entry.Name + " / " + entry.TTSModel
	}
	return entry.Name
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", key, value)
}
