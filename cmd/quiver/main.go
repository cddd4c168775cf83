// Command quiver runs the vector database server: it opens the storage
// engine, serves the REST API, and shuts both down cleanly on SIGINT or
// SIGTERM.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sanonone/quiver/internal/config"
	"github.com/sanonone/quiver/internal/server"
	"github.com/sanonone/quiver/pkg/engine"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file (optional)")
	httpAddr := flag.String("http-addr", "", "Listen address for the REST API (overrides config)")
	dataDir := flag.String("data-dir", "", "Directory for AOF and snapshot files (overrides config)")
	authToken := flag.String("auth-token", "", "Bearer token required on API requests (overrides config)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	setupLogging(*logLevel)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("Failed to load configuration", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *authToken != "" {
		cfg.AuthToken = *authToken
	}

	opts := engine.DefaultOptions(cfg.DataDir)
	opts.AutoSaveInterval = cfg.AutoSaveInterval
	opts.AutoSaveThreshold = cfg.AutoSaveThreshold
	opts.AofRewritePercentage = cfg.AofRewritePercentage
	opts.MaintenanceInterval = cfg.MaintenanceInterval

	eng, err := engine.Open(opts)
	if err != nil {
		slog.Error("Failed to open storage engine", "data_dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	srv := server.NewServer(eng, cfg.HTTPAddr, cfg.AuthToken)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Run(); err != nil {
			slog.Error("HTTP server failed", "error", err)
			shutdownChan <- syscall.SIGTERM
		}
	}()

	<-shutdownChan

	srv.Shutdown()
	if err := eng.Close(); err != nil {
		slog.Error("Engine close failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
