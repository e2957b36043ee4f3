package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/DavidJBarnes/wanly-api/internal/bootstrap"
	"github.com/DavidJBarnes/wanly-api/internal/finalize"
	"github.com/DavidJBarnes/wanly-api/internal/infra"
	"github.com/DavidJBarnes/wanly-api/internal/storage"
)

// The finalizer consumes finalize requests published by the API when
// FINALIZE_DISPATCH=amqp and runs the stitch pipeline for each.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	if cfg.AMQPURL == "" {
		logger.Fatal().Msg("finalizer: AMQP_URL is required")
	}
	if cfg.StoreDriver == infra.StoreDriverMemory {
		logger.Fatal().Msg("finalizer: a shared postgres store is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("finalizer: failed to open store")
	}
	defer closeStore()

	objects, err := storage.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("finalizer: failed to configure storage")
	}

	conn, err := bootstrap.DialAMQP(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("finalizer: failed to connect broker")
	}
	defer conn.Close()

	pipeline := finalize.NewPipeline(finalize.Options{
		Store:      store,
		Objects:    objects,
		FFmpegPath: cfg.FFmpegPath,
		Logger:     &logger,
	})
	consumer, err := finalize.NewConsumer(conn, cfg.AMQPExchange, cfg.AMQPRoutingKey, cfg.AMQPQueue, pipeline, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("finalizer: failed to configure consumer")
	}
	defer consumer.Close()

	if err := consumer.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("finalizer: consumer stopped with error")
	}
	logger.Info().Msg("finalizer: stopped")
}
