package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MediSynth-io/showcase/internal/api"
	"github.com/MediSynth-io/showcase/internal/config"
	"github.com/MediSynth-io/showcase/internal/database"
	"github.com/MediSynth-io/showcase/internal/logging"
)

const version = "0.1.0"

var configInit = config.Init

// loadConfig reads path, or app.yml from CONFIG_DIR when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return configInit()
	}
	return config.LoadConfig(path)
}

func initializeAPI(cfg config.Config, logger *slog.Logger) (*api.Api, *database.DB, error) {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}

	services, err := api.NewServices(cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	a, err := api.NewApi(cfg, services, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return a, db, nil
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("starting showcase API", "version", version, "port", cfg.APIPort, "database", cfg.Database.Type)

	a, db, err := initializeAPI(*cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.Serve(ctx)
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file (default $CONFIG_DIR/app.yml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("showcase API stopped", "error", err)
		os.Exit(1)
	}
}
