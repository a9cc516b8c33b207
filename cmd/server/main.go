package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"clinic-sync-service/internal/api"
	"clinic-sync-service/internal/config"
	"clinic-sync-service/internal/localdb"
	"clinic-sync-service/internal/logger"
	"clinic-sync-service/internal/network"
	"clinic-sync-service/internal/remote"
	"clinic-sync-service/internal/store"
	syncengine "clinic-sync-service/internal/sync"
	"clinic-sync-service/internal/writer"
)

func main() {
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting clinic sync service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Local embedded store
	db, err := localdb.Open(cfg.LocalDB.Path)
	if err != nil {
		logger.Log.Fatal("Failed to open local database", zap.Error(err))
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		logger.Log.Fatal("Failed to initialize schema", zap.Error(err))
	}

	syncStore := store.NewSQLiteStore(db)

	// Remote cloud store
	remoteClient := remote.NewClient(cfg.Remote)

	// Conflict rules: config overrides the shipped clinical defaults
	rules := syncengine.DefaultRules()
	if len(cfg.Sync.Tables) > 0 {
		rules, err = syncengine.NewRules(cfg.Sync.Tables)
		if err != nil {
			logger.Log.Fatal("Invalid conflict rules", zap.Error(err))
		}
	}
	detector := syncengine.NewDetector(rules)

	// Network monitor
	monitor := network.NewMonitor(cfg.Network)

	// Sync engine
	tracker := syncengine.NewTracker()
	pusher := syncengine.NewPusher(syncStore, remoteClient, detector, tracker, monitor, cfg.Sync.BatchSize)
	puller := syncengine.NewPuller(db, syncStore, remoteClient, detector, tracker, monitor, cfg.Sync.TableNames(), cfg.Sync.BatchSize)
	resolver := syncengine.NewResolver(db, syncStore, remoteClient, tracker)
	coordinator := syncengine.NewCoordinator(pusher, puller, syncStore, tracker, monitor, cfg.Scheduler)

	monitor.OnOnline(coordinator.HandleOnline)
	monitor.OnOffline(coordinator.HandleOffline)
	monitor.Start(ctx)
	defer monitor.Stop()

	gateway := writer.NewGateway(db, syncStore, monitor, tracker, func() {
		coordinator.PushNow(context.Background())
	})

	if err := coordinator.InitializeOnStartup(ctx); err != nil {
		logger.Log.Fatal("Failed to initialize sync coordinator", zap.Error(err))
	}
	defer coordinator.Cleanup()

	// Control/diagnostics API for the UI layer
	handler := api.NewHandler(coordinator, resolver, tracker, syncStore, gateway)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: handler.Routes(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down...")
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.Error("Server shutdown error", zap.Error(err))
	}
}
