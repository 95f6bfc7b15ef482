package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/wyfcoding/quantbacktest/internal/engine"
	"github.com/wyfcoding/quantbacktest/internal/marketdata"
	"github.com/wyfcoding/quantbacktest/internal/run/domain"
	"github.com/wyfcoding/quantbacktest/internal/run/infrastructure/messaging"
	"github.com/wyfcoding/quantbacktest/internal/run/infrastructure/persistence/mysql"
	"github.com/wyfcoding/quantbacktest/internal/worker"
	"github.com/wyfcoding/quantbacktest/pkg/config"
	"github.com/wyfcoding/quantbacktest/pkg/db"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
	"github.com/wyfcoding/quantbacktest/pkg/metrics"
	"github.com/wyfcoding/quantbacktest/pkg/mq"
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
	m := metrics.New("worker")
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

	var publisher domain.EventPublisher = domain.NopPublisher{}
	if cfg.Kafka.Enabled {
		producer, err := mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			logger.Fatal(ctx, "Failed to create kafka producer", "error", err)
		}
		defer producer.Close()
		publisher = messaging.NewKafkaEventPublisher(producer, cfg.Kafka.Topic)
	}

	// 5. Repository & Processor
	runRepo := mysql.NewRunRepository(database.DB)
	processor := worker.NewProcessor(
		engine.NewSimEngine(engine.DefaultRegistry()),
		marketdata.NewCandleRepository(database.DB),
		runRepo,
		mysql.NewRunResultRepository(database.DB),
		mysql.NewOptimizationVariantRepository(database.DB),
		mysql.NewWfoFoldRepository(database.DB),
		mysql.NewRunTradeRepository(database.DB),
		mysql.NewRunLogRepository(database.DB),
		m,
		cfg.Worker.MaxConcurrency,
	)

	// 6. Start
	loop := worker.NewLoop(
		runRepo,
		processor,
		publisher,
		m,
		cfg.Worker.Concurrency,
		time.Duration(cfg.Worker.PollInterval)*time.Millisecond,
	)
	loop.Run(ctx)
}
