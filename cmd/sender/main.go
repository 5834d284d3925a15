package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/dispatch-service/internal/channel"
	"github.com/example/dispatch-service/internal/common"
	"github.com/example/dispatch-service/internal/dispatch"
	"github.com/example/dispatch-service/internal/events"
	"github.com/example/dispatch-service/internal/queue"
	"github.com/example/dispatch-service/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("sender")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := common.NewLogger(cfg.ServiceName)
	shutdown, err := common.SetupOTel(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry")
	}
	defer common.ShutdownTelemetry(context.Background(), shutdown)

	metricsSrv := common.StartMetricsServer(cfg.MetricsPort)
	defer metricsSrv.Shutdown(context.Background())

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL must be provided")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()
	db := store.NewPostgres(pool)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()

	engine := &dispatch.Engine{
		Store:     db,
		Channels:  channel.FromConfig(cfg, logger),
		Publisher: events.NewRedisPublisher(redisClient, logger),
		Logger:    logger,
		Workers:   cfg.SendWorkers,
	}

	readerFactory := func() *kafka.Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.ServiceName,
			Topic:   cfg.SendTopic,
		})
	}

	worker := queue.Worker{
		ReaderFactory: readerFactory,
		Engine:        engine,
		Store:         db,
		MaxAttempts:   cfg.SendMaxAttempts,
		RetryDelay:    cfg.SendRetryDelay,
		Logger:        logger,
	}

	logger.Info().Msg("sender worker started")
	if err := worker.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("sender worker stopped")
	}
}
