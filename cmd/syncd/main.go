// Package main provides the synchronization daemon entry point. One process
// hosts the polling scheduler, the audit retention worker, and the
// operational HTTP API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/opsforge/buildsync/internal/db"
	"github.com/opsforge/buildsync/internal/server"
	"github.com/opsforge/buildsync/pkg/audit"
	"github.com/opsforge/buildsync/pkg/ledger"
	"github.com/opsforge/buildsync/pkg/registry"
	"github.com/opsforge/buildsync/pkg/repository"
	"github.com/opsforge/buildsync/pkg/retention"
	"github.com/opsforge/buildsync/pkg/scheduler"
)

func main() {
	var (
		listenAddr         string
		databaseType       string
		databaseDSN        string
		repoURL            string
		definitionsPath    string
		auditRetentionDays int
	)

	flag.StringVar(&listenAddr, "listen", ":8080", "Address to listen on")
	flag.StringVar(&databaseType, "db-type", "", "Database type (postgres, mysql, or sqlite)")
	flag.StringVar(&databaseDSN, "db-dsn", "", "Database connection string")
	flag.StringVar(&repoURL, "repo-url", "", "Base URL of the remote artifact repository")
	flag.StringVar(&definitionsPath, "definitions", "", "Optional YAML file of component/branch definitions to seed")
	flag.IntVar(&auditRetentionDays, "audit-retention-days", 90, "Days of audit events to keep")
	flag.Parse()

	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if databaseDSN == "" {
		databaseDSN = os.Getenv("DATABASE_DSN")
	}
	if databaseType == "" {
		databaseType = envOrDefault("DATABASE_TYPE", "postgres")
	}
	if repoURL == "" {
		repoURL = os.Getenv("BUILDSYNC_REPO_URL")
	}
	if repoURL == "" {
		glog.Fatalf("Repository URL is required (use -repo-url flag or BUILDSYNC_REPO_URL environment variable)")
	}

	cfg := scheduler.ConfigFromEnv()

	logger.Info("starting synchronization daemon",
		"listen", listenAddr,
		"dbType", databaseType,
		"repoURL", repoURL,
		"pollInterval", cfg.PollInterval.String(),
		"concurrency", cfg.Concurrency,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	gormDB, err := db.Open(db.Config{Type: databaseType, DSN: databaseDSN})
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	registryStore := registry.NewStore(gormDB)
	ledgerStore := ledger.NewStore(gormDB)
	auditStore := audit.NewStore(gormDB)
	retentionManager := retention.NewManager(gormDB, logger)

	for name, migrate := range map[string]func() error{
		"registry":  registryStore.AutoMigrate,
		"ledger":    ledgerStore.AutoMigrate,
		"audit":     auditStore.AutoMigrate,
		"retention": retentionManager.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			glog.Fatalf("Failed to migrate %s tables: %v", name, err)
		}
	}

	if definitionsPath != "" {
		created, err := registryStore.ImportDefinitions(definitionsPath)
		if err != nil {
			glog.Fatalf("Failed to import definitions from %s: %v", definitionsPath, err)
		}
		logger.Info("imported definitions", "path", definitionsPath, "created", created)
	}

	var repoOpts []repository.HTTPOption
	if user := os.Getenv("BUILDSYNC_REPO_USERNAME"); user != "" {
		repoOpts = append(repoOpts, repository.WithBasicAuth(user, os.Getenv("BUILDSYNC_REPO_PASSWORD")))
	}
	repoOpts = append(repoOpts, repository.WithLogger(logger))
	repoClient, err := repository.NewHTTPClient(repoURL, repoOpts...)
	if err != nil {
		glog.Fatalf("Failed to create repository client: %v", err)
	}

	sched := scheduler.New(cfg, registryStore, ledgerStore, retentionManager, auditStore, repoClient, logger)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	retentionWorker := audit.NewRetentionWorker(auditStore, auditRetentionDays, logger)
	go retentionWorker.Run(ctx)

	apiServer := server.New(gormDB, registryStore, ledgerStore, auditStore, sched, logger)
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: apiServer.MountRoutes(),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Info("synchronization daemon ready", "listen", listenAddr)

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// The scheduler drains its in-flight jobs before returning.
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		logger.Error("timed out waiting for in-flight jobs")
	}

	logger.Info("synchronization daemon stopped")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
