package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/dispatch-service/internal/api"
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

	cfg, err := common.LoadConfig("api")
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

	producer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    cfg.SendTopic,
		Balancer: &kafka.Hash{},
	}
	defer producer.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()
	publisher := events.NewRedisPublisher(redisClient, logger)

	registry := channel.FromConfig(cfg, logger)
	engine := &dispatch.Engine{
		Store:     db,
		Channels:  registry,
		Publisher: publisher,
		Logger:    logger,
	}

	var whatsapp *channel.WhatsAppBridge
	if a, ok := registry.Get("whatsapp"); ok {
		whatsapp = a.(*channel.WhatsAppBridge)
	}

	h := api.NewHandler(
		db,
		&dispatch.RecipientResolver{Contacts: db},
		&queue.Enqueuer{Writer: producer},
		engine,
		publisher,
		whatsapp,
		logger,
	)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.HTTPPort),
		Handler: h.Router(),
	}

	go func() {
		logger.Info().Int("port", cfg.HTTPPort).Msg("api service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
