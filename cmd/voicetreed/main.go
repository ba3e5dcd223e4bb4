// Package main is the entry point for the voicetree core daemon: it loads
// configuration, opens persisted state, loads the vault into memory,
// starts the filesystem watcher, and serves the HTTP intent interface.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/voicetree/core/internal/apiserver"
	"github.com/voicetree/core/internal/config"
	"github.com/voicetree/core/internal/graphmodel"
	"github.com/voicetree/core/internal/store"
	"github.com/voicetree/core/internal/syncengine"
	"github.com/voicetree/core/internal/vault"
	"github.com/voicetree/core/internal/vaultfs"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("server panic recovered: %v", r)
			log.Printf("stack trace:\n%s", debug.Stack())
			os.Exit(1)
		}
	}()

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadFromYAML(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	classifier, err := vault.NewNodeClassifierFromConfig(&cfg.Vault.NodeClassification)
	if err != nil {
		log.Fatalf("failed to build node classifier: %v", err)
	}

	persist, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("failed to open persisted state: %v", err)
	}
	defer persist.Close()

	graph := newGraph(cfg, classifier, persist, logger)

	resolver, err := vault.BuildResolver(cfg.Vault.VaultPaths, cfg.Vault.DeniedDirectoryNames)
	if err != nil {
		log.Fatalf("failed to build link resolver: %v", err)
	}

	engine := syncengine.New(graph, resolver, syncengine.Options{
		WritePath:  cfg.Vault.WritePath,
		VaultPaths: cfg.Vault.VaultPaths,
		DeniedDirs: cfg.Vault.DeniedDirectoryNames,
		Classifier: classifier,
		Persist:    persist,
		DeltaTTL:   cfg.Echo.RecentDeltasDiskTTL,
		ActionTTL:  cfg.Echo.RecentActionsTTL,
		Logger:     logger,
	})

	watcher, err := vaultfs.New(cfg.Vault.DeniedDirectoryNames, cfg.Echo.RecentDeltasTTL, logger)
	if err != nil {
		log.Fatalf("failed to start filesystem watcher: %v", err)
	}
	if err := watcher.AddRoot(cfg.Vault.WatchedDirectory); err != nil {
		log.Fatalf("failed to watch %q: %v", cfg.Vault.WatchedDirectory, err)
	}

	watchCtx, stopWatching := context.WithCancel(context.Background())
	go watcher.Run(watchCtx)
	go forwardFSEvents(watchCtx, watcher, engine, logger)

	srv := apiserver.New(engine, apiserver.Options{
		Logger:                  logger,
		DefaultFileCountCeiling: cfg.Vault.FileCountCeiling,
		DefaultContextRadius:    cfg.Context.DefaultRadius,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("http server panic recovered", "error", r, "stack", string(debug.Stack()))
				quit <- syscall.SIGTERM
			}
		}()
		logger.Info("starting server", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s", err)
		}
	}()

	<-quit
	logger.Info("shutting down")

	stopWatching()
	watcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server exiting")
}

func newGraph(cfg *config.Config, classifier *vault.NodeClassifier, persist *store.Store, logger *slog.Logger) *graphmodel.Graph {
	g := graphmodel.NewGraph()
	for _, root := range cfg.Vault.VaultPaths {
		result, err := vault.LoadVaultInto(g, root, cfg.Vault.DeniedDirectoryNames, cfg.Vault.FileCountCeiling, classifier, persist)
		if err != nil {
			log.Fatalf("failed to load vault %q: %v", root, err)
		}
		if len(result.ParseErrors) > 0 {
			logger.Warn("vault load completed with parse errors", "root", root, "count", len(result.ParseErrors))
		}
		g = result.Graph
	}
	return g
}

func forwardFSEvents(ctx context.Context, watcher *vaultfs.Watcher, engine *syncengine.Engine, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if _, err := engine.HandleFSEvent(ctx, ev); err != nil {
				logger.Warn("failed to handle filesystem event", "path", ev.AbsolutePath, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("filesystem watcher error", "error", err)
		}
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
