package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/wyfcoding/quantbacktest/internal/manager"
	"github.com/wyfcoding/quantbacktest/internal/run/infrastructure/persistence/mysql"
	"github.com/wyfcoding/quantbacktest/pkg/config"
	"github.com/wyfcoding/quantbacktest/pkg/db"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
	"github.com/wyfcoding/quantbacktest/pkg/metrics"
)

var configPath = flag.String("config", "configs/config.toml", "config file path")

func main() {
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. Logger
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Metrics
	m := metrics.New("manager")
	if err := m.Register(); err != nil {
		logger.Fatal(ctx, "Failed to register metrics", "error", err)
	}
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				logger.Error(ctx, "Metrics server exited", "error", err)
			}
		}()
	}

	// 4. Infrastructure
	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to connect database", "error", err)
	}
	defer database.Close()

	// 5. Autoscaler
	spawner := manager.NewWorkerSpawner(manager.WorkerProcSpec{
		Bin:            cfg.Manager.WorkerBin,
		ConfigPath:     *configPath,
		Concurrency:    cfg.Manager.WorkerConcurrency,
		PollIntervalMs: cfg.Manager.WorkerPollInterval,
	})
	scaler := manager.NewAutoscaler(
		mysql.NewRunRepository(database.DB),
		spawner,
		m,
		time.Duration(cfg.Manager.PollInterval)*time.Millisecond,
		cfg.Manager.MinProcs,
		cfg.Manager.MaxProcs,
		cfg.Manager.ProcCapacity,
		time.Duration(cfg.Manager.ShutdownTimeout)*time.Second,
	)
	scaler.Run(ctx)
}
