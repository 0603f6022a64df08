package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"

	"agent-platform/internal/common/logging"
	"agent-platform/internal/config"
)

// Run is the main entry point for the application.
func Run() error {
	_ = godotenv.Load()

	runtime.GOMAXPROCS(runtime.NumCPU())

	logging.InitGlobalLogger()
	defer logging.MustSync()

	logging.Info("Starting agent platform",
		logging.Field{Key: "cpus", Value: runtime.NumCPU()},
		logging.Field{Key: "version", Value: "1.0.0"},
	)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer application.Cleanup()

	if err := application.Reconciler.Start(); err != nil {
		logging.Error("Failed to start event reconciler", err)
		return err
	}

	logging.Info("Agent platform started",
		logging.Field{Key: "database", Value: cfg.DatabaseType},
		logging.Field{Key: "transport", Value: cfg.TransportType},
		logging.Field{Key: "registered_agents", Value: application.Registry.List()},
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down...")
	cancel()
	return nil
}
