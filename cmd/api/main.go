package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/wyfcoding/quantbacktest/internal/engine"
	"github.com/wyfcoding/quantbacktest/internal/marketdata"
	"github.com/wyfcoding/quantbacktest/internal/run/application"
	"github.com/wyfcoding/quantbacktest/internal/run/domain"
	"github.com/wyfcoding/quantbacktest/internal/run/infrastructure/messaging"
	"github.com/wyfcoding/quantbacktest/internal/run/infrastructure/persistence/mysql"
	httpserver "github.com/wyfcoding/quantbacktest/internal/run/interfaces/http"
	"github.com/wyfcoding/quantbacktest/pkg/config"
	"github.com/wyfcoding/quantbacktest/pkg/db"
	"github.com/wyfcoding/quantbacktest/pkg/idgen"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
	"github.com/wyfcoding/quantbacktest/pkg/metrics"
	"github.com/wyfcoding/quantbacktest/pkg/mq"
)

var (
	configPath = flag.String("config", "configs/config.toml", "config file path")
	machineID  = flag.Int64("machine-id", 0, "snowflake machine id")
)

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

	ctx := context.Background()
	if err := idgen.Init(*machineID); err != nil {
		logger.Fatal(ctx, "Failed to init id generator", "error", err)
	}

	// 3. Metrics
	m := metrics.New("api")
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

	if cfg.Environment == "dev" {
		if err := mysql.AutoMigrate(database.DB); err != nil {
			logger.Error(ctx, "Failed to migrate database", "error", err)
		}
	}

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

	// 5. Repository & Application
	runRepo := mysql.NewRunRepository(database.DB)
	barReader := marketdata.NewCandleRepository(database.DB)
	commands := application.NewCommandService(runRepo, barReader, engine.DefaultRegistry(), publisher)
	queries := application.NewQueryService(
		runRepo,
		mysql.NewRunResultRepository(database.DB),
		mysql.NewOptimizationVariantRepository(database.DB),
		mysql.NewWfoFoldRepository(database.DB),
		mysql.NewRunTradeRepository(database.DB),
		mysql.NewRunLogRepository(database.DB),
	)

	// 6. Interfaces
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	handler := httpserver.NewHandler(commands, queries)
	handler.RegisterRoutes(r, m)

	// 7. Start
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(ctx, "HTTP server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			logger.Info(ctx, "Shutting down HTTP server")
		case <-gctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "Server exited with error", "error", err)
	}
}
