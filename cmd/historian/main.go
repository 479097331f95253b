// cmd/historian is an asynchronous service that pops session events from a
// Redis list and persists them to PostgreSQL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/tumaurmai/internal/cache"
	"github.com/jason-s-yu/tumaurmai/internal/config"
	"github.com/jason-s-yu/tumaurmai/internal/database"
	"github.com/jason-s-yu/tumaurmai/internal/historian"
	"github.com/jason-s-yu/tumaurmai/internal/logging"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load(config.Options{})
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connStr := database.ConnString(cfg.DatabaseURL)
	if connStr == "" {
		logger.Fatal("historian needs DATABASE_URL or PG_HOST")
	}
	if err := database.ConnectDB(ctx, connStr); err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer database.Close()
	if err := database.Migrate(ctx); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb, err := cache.ConnectRedis(ctx, addr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	svc := historian.New(historian.Options{
		Redis:      rdb,
		Queue:      cfg.EventQueueName,
		BatchSize:  cfg.HistorianBatchSize,
		FlushDelay: cfg.HistorianFlush,
		Write:      database.InsertSessionEvents,
		Logger:     logger,
	})
	if err := svc.Run(ctx); err != nil {
		logger.Errorf("historian: %v", err)
	}
	logger.Info("Historian shutdown complete.")
}
