package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/makt28/vigil/internal/audit"
	"github.com/makt28/vigil/internal/config"
	"github.com/makt28/vigil/internal/model"
	"github.com/makt28/vigil/internal/monitor"
	"github.com/makt28/vigil/internal/notify"
	"github.com/makt28/vigil/internal/status"
	"github.com/makt28/vigil/internal/storage"
	"github.com/makt28/vigil/internal/web"
)

const pruneInterval = time.Hour

func main() {
	// --- 1. Load Config ---
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	configPath := os.Getenv("VIGIL_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfgMgr, err := config.NewManager(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	cfg := cfgMgr.Get()

	// --- 2. Setup Logger ---
	setupLogger(cfg.System.LogLevel)
	slog.Info("starting Vigil", "bind", cfg.System.BindAddress, "storage", cfg.Storage.Driver)

	// --- 3. Open Storage ---
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	if err := syncCatalog(context.Background(), store, cfg); err != nil {
		slog.Error("failed to sync monitors and notifiers", "error", err)
		os.Exit(1)
	}

	// --- 4. Init Audit Sink ---
	var sink audit.Sink = audit.NewStoreSink(store)
	var asyncSink *audit.AsyncSink
	if cfg.Audit.Async {
		asyncSink = audit.NewAsyncSink(sink, audit.AsyncOptions{
			QueueSize:   cfg.Audit.QueueSize,
			MaxAttempts: cfg.Audit.MaxAttempts,
		})
		sink = asyncSink
	}

	// --- 5. Init Aggregator & Dispatcher ---
	registry := notify.NewDefaultRegistry(notify.Settings{
		HTTPTimeout: cfg.Dispatch.HTTPTimeout,
		SMTP: notify.SMTPSettings{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		},
	})
	aggregator := status.NewAggregator(store)
	dispatcher := notify.NewDispatcher(store, registry, sink, notify.Options{
		SendTimeout:   cfg.Dispatch.SendTimeout,
		MaxAttempts:   cfg.Dispatch.MaxAttempts,
		BaseBackoff:   cfg.Dispatch.BaseBackoff,
		BackoffJitter: cfg.Dispatch.BackoffJitter,
		Concurrency:   cfg.Dispatch.Concurrency,
	})
	slog.Info("notification providers registered", "providers", registry.Kinds())

	// --- 6. Init Embedded Checker ---
	var scheduler *monitor.Scheduler
	if cfg.Checker.Enabled {
		region := model.Region(cfg.Checker.Region)
		analyzer := monitor.NewAnalyzer(region, aggregator, dispatcher)
		scheduler = monitor.NewScheduler(cfgMgr, analyzer, region)
		scheduler.Start()
		slog.Info("embedded checker started", "region", region)
	}

	// --- 7. Background tasks ---
	stopCh := make(chan struct{})
	go resyncOnChange(cfgMgr, store, stopCh)
	go periodicPrune(store, cfgMgr, stopCh)
	cfgMgr.Watch()

	// --- 8. HTTP Server ---
	router := web.NewRouter(web.Deps{
		Config:     cfgMgr,
		Statuses:   aggregator,
		Dispatcher: dispatcher,
		Registry:   registry,
		Store:      store,
	}, stopCh)
	srv := &http.Server{
		Addr:              cfg.System.BindAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Vigil is running", "address", cfg.System.BindAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// --- 9. Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("received shutdown signal", "signal", sig)

	close(stopCh)
	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfgMgr.Get().System.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	if asyncSink != nil {
		if err := asyncSink.Close(ctx); err != nil {
			slog.Error("audit queue not drained", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		slog.Error("failed to close storage", "error", err)
	}

	slog.Info("Vigil stopped gracefully")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

// syncCatalog writes the monitors, notifiers and subscriptions declared in
// config into storage.
func syncCatalog(ctx context.Context, store storage.Store, cfg config.Config) error {
	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}
	if err := storage.Seed(ctx, store, catalog); err != nil {
		return err
	}
	slog.Info("catalog synced", "monitors", len(catalog.Monitors), "notifiers", len(catalog.Notifications))
	return nil
}

func resyncOnChange(cfgMgr *config.Manager, store storage.Store, stopCh <-chan struct{}) {
	changes := cfgMgr.Subscribe()
	for {
		select {
		case <-stopCh:
			return
		case <-changes:
			cfg := cfgMgr.Get()
			setupLogger(cfg.System.LogLevel)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := syncCatalog(ctx, store, cfg); err != nil {
				slog.Error("catalog resync failed", "error", err)
			}
			cancel()
		}
	}
}

func periodicPrune(store storage.Store, cfgMgr *config.Manager, stopCh <-chan struct{}) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			retention := cfgMgr.Get().Audit.Retention
			if retention <= 0 {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			n, err := store.PruneAudit(ctx, time.Now().Add(-retention))
			cancel()
			if err != nil {
				slog.Error("audit prune failed", "error", err)
			} else {
				slog.Debug("audit prune complete", "removed", n)
			}
		}
	}
}
