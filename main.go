package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"hedge-core/internal/api"
	"hedge-core/internal/events"
	"hedge-core/internal/execution"
	"hedge-core/internal/orchestrator"
	"hedge-core/internal/persistence"
	"hedge-core/internal/positions"
	"hedge-core/internal/rebalance"
	"hedge-core/internal/reconciliation"
	"hedge-core/internal/session"
	"hedge-core/internal/tradeerr"
	"hedge-core/internal/trading"
	"hedge-core/pkg/config"
	"hedge-core/pkg/db"
	futures "hedge-core/pkg/exchanges/binance/futures_usdt"
	"hedge-core/pkg/exchanges/common"
	"hedge-core/pkg/logger"
	spot "hedge-core/pkg/market/binance"
)

const historySize = 200

var log = logger.WithComponent("main")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ load config: %v", err)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   true,
	}); err != nil {
		log.Fatalf("❌ init logger: %v", err)
	}
	if cfg.BinanceAPIKey == "" || cfg.BinanceAPISecret == "" {
		log.Warn("⚠️ BINANCE_API_KEY or BINANCE_API_SECRET is empty, signed calls will fail")
	}
	log.Infof("✓ Config loaded (port %s, testnet %v, db %s)", cfg.Port, cfg.BinanceTestnet, cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Batch history
	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("❌ apply migrations: %v", err)
	}
	if n, err := database.Queries().MarkAbandoned(ctx); err != nil {
		log.Warnf("⚠️ mark abandoned batches: %v", err)
	} else if n > 0 {
		log.Warnf("⚠️ %d batches were left running by a previous process", n)
	}
	writer := persistence.NewBatchWriter(database.DB, 50, 500*time.Millisecond)
	defer writer.Close()

	// Exchange access
	futuresCfg := futures.Config{
		APIKey:     cfg.BinanceAPIKey,
		APISecret:  cfg.BinanceAPISecret,
		Testnet:    cfg.BinanceTestnet,
		RecvWindow: cfg.RecvWindow,
	}
	primary := futures.NewClient(futuresCfg)
	primary.StartTimeSync(ctx)

	sessions := session.NewManager(func(ctx context.Context) (common.Exchange, error) {
		c := futures.NewClient(futuresCfg)
		if err := c.SyncTime(ctx); err != nil {
			return nil, tradeerr.Wrap(tradeerr.Retryable, "new session", "", err)
		}
		return c, nil
	}, session.DefaultConfig())
	sessions.Start(ctx)
	defer sessions.Stop()

	// Broadcast and batch execution
	hub := events.NewHub(events.NewBus(), historySize)
	orch := orchestrator.New(hub, orchestrator.WithRecorder(persistence.NewRecorder(writer)))
	tradingSvc := trading.NewService(orch, sessions, hub, trading.Config{
		Execution: execution.Config{
			PollInterval: cfg.OrderPollInterval,
			RetryDelay:   cfg.RetryDelay,
		},
	})

	screener := rebalance.NewScreener(primary, spot.NewClient("", cfg.BinanceTestnet), hub)
	planner := rebalance.NewPlanner(primary, positions.NewService(primary), screener, hub)

	settings := func() config.Settings { return cfg.Settings }
	reconciler := reconciliation.NewService(tradingSvc, orch, func() int { return cfg.Settings.Leverage }, cfg.ReconcileInterval)
	reconciler.Start(ctx)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(api.Deps{
		Trading:    tradingSvc,
		Planner:    planner,
		Hub:        hub,
		History:    database.Queries(),
		Sessions:   sessions,
		Reconciler: reconciler,
		Settings:   settings,
	}, api.AuthConfig{
		AccessKey: cfg.AppAccessKey,
		JWTSecret: cfg.JWTSecret,
		TokenTTL:  cfg.TokenTTL,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("✓ API listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ http server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	// Stop the running batch first so in-flight orders unwind while the
	// exchange clients are still usable.
	if orch.Stop() {
		log.Info("waiting for running batch to stop")
	}
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	if err := orch.Wait(waitCtx); err != nil {
		log.Warnf("⚠️ batch did not stop in time: %v", err)
	}
	if err := httpServer.Shutdown(waitCtx); err != nil {
		log.Warnf("⚠️ http shutdown: %v", err)
	}
	cancel()
}
