package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/offline-alert-relay/internal/api"
	"github.com/mr1hm/offline-alert-relay/internal/config"
	"github.com/mr1hm/offline-alert-relay/internal/connectivity"
	"github.com/mr1hm/offline-alert-relay/internal/dispatch"
	"github.com/mr1hm/offline-alert-relay/internal/district"
	"github.com/mr1hm/offline-alert-relay/internal/emergency"
	"github.com/mr1hm/offline-alert-relay/internal/logging"
	"github.com/mr1hm/offline-alert-relay/internal/metrics"
	"github.com/mr1hm/offline-alert-relay/internal/notify"
	"github.com/mr1hm/offline-alert-relay/internal/pipeline"
	"github.com/mr1hm/offline-alert-relay/internal/queue"
	"github.com/mr1hm/offline-alert-relay/internal/reconcile"
	"github.com/mr1hm/offline-alert-relay/internal/repository"
	"github.com/mr1hm/offline-alert-relay/internal/riskcache"
	"github.com/mr1hm/offline-alert-relay/internal/safety"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port, "store", cfg.Store.Backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, err := openStore(ctx, cfg.Store)
	if err != nil {
		logging.Fatalf("Failed to initialize store: %v", err)
	}
	defer kv.Close()

	resolver := district.Default()
	if cfg.Districts.File != "" {
		if resolver, err = district.LoadFile(cfg.Districts.File); err != nil {
			logging.Fatalf("Failed to load districts: %v", err)
		}
	}

	clock := clockwork.NewRealClock()
	m := metrics.NewMetrics()
	broadcaster := notify.NewBroadcaster()
	monitor := connectivity.NewMonitor(cfg.Connectivity.Initial, m)

	store := queue.NewStore(kv, cfg.Queue.RetryCeiling, clock, m)

	senders, closeSenders := buildSenders(cfg.Dispatch)
	defer closeSenders()
	fanout := dispatch.NewFanout(senders, cfg.Dispatch.Timeout, store, monitor, m)

	reconciler := reconcile.New(store, fanout, monitor, broadcaster, cfg.Sync.Interval, clock, m)

	riskClient := riskcache.NewClient(cfg.Risk.APIURL, cfg.Risk.Timeout)
	cache := riskcache.New(kv, resolver, riskClient, monitor, cfg.Risk.RefreshWorkers, clock, m)

	if cfg.Risk.SeedFile != "" {
		rows, err := riskcache.LoadSeedFile(cfg.Risk.SeedFile)
		if err != nil {
			logging.Fatalf("Failed to load district risk seed: %v", err)
		}
		if _, err := cache.SeedOverlay(ctx, rows); err != nil {
			logging.Fatalf("Failed to seed district overlay: %v", err)
		}
	}

	safetyStore := safety.NewStore(kv)
	if err := seedSafety(ctx, safetyStore, cfg.Safety); err != nil {
		logging.Fatalf("Failed to seed safety instructions: %v", err)
	}

	svc := emergency.NewService(resolver, cache, store, fanout, monitor, broadcaster, clock, m)

	// The API source leaves connectivity to PUT /api/connectivity.
	var watcher pipeline.Watcher
	if cfg.Connectivity.Source == "dial" {
		watcher = connectivity.NewDialWatcher(monitor, cfg.Connectivity.ProbeAddr,
			cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout, clock)
	}

	mgr := pipeline.NewManager(monitor, reconciler, cache, broadcaster, watcher)
	mgr.Start(ctx)

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimit))

	handler := api.NewHandler(api.Deps{
		Emergency:    svc,
		Risk:         cache,
		Districts:    resolver,
		Queue:        store,
		Safety:       safetyStore,
		Sync:         reconciler,
		Connectivity: monitor,
		Events:       broadcaster,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	mgr.Stop()
	monitor.Close()
	broadcaster.Close() // ends open event streams

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg config.StoreConfig) (repository.KVStore, error) {
	if cfg.Backend == "redis" {
		return repository.NewRedisKV(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return repository.NewSQLiteDB(cfg.Path)
}

func buildSenders(cfg config.DispatchConfig) ([]dispatch.Sender, func()) {
	client := &http.Client{}
	senders := []dispatch.Sender{
		dispatch.NewSMSChannel(cfg.SMSURL, client),
		dispatch.NewEmailChannel(cfg.EmailURL, client),
	}

	if cfg.IncidentSink == "kafka" {
		incidents := dispatch.NewKafkaIncidentLog(cfg.KafkaBrokers, cfg.KafkaTopic)
		return append(senders, incidents), func() {
			if err := incidents.Close(); err != nil {
				slog.Warn("failed to close incident writer", "error", err)
			}
		}
	}
	return append(senders, dispatch.NewIncidentLogChannel(cfg.IncidentURL, client)), func() {}
}

// seedSafety installs the built-in set on first start. A configured file
// replaces whatever is stored.
func seedSafety(ctx context.Context, store *safety.Store, cfg config.SafetyConfig) error {
	if cfg.File == "" {
		_, err := store.Seed(ctx, safety.Defaults())
		return err
	}
	list, err := safety.LoadFile(cfg.File)
	if err != nil {
		return err
	}
	return store.Replace(ctx, list)
}
