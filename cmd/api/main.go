package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/DavidJBarnes/wanly-api/internal/bootstrap"
	"github.com/DavidJBarnes/wanly-api/internal/finalize"
	"github.com/DavidJBarnes/wanly-api/internal/http/handlers"
	httpapi "github.com/DavidJBarnes/wanly-api/internal/http/httpapi"
	"github.com/DavidJBarnes/wanly-api/internal/infra"
	"github.com/DavidJBarnes/wanly-api/internal/middleware"
	"github.com/DavidJBarnes/wanly-api/internal/queue"
	"github.com/DavidJBarnes/wanly-api/internal/storage"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	store, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	objects, err := storage.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	// Finalize dispatch: in-process, or handed to cmd/finalizer over AMQP.
	var (
		finalizer queue.Finalizer
		inline    *finalize.InlineDispatcher
	)
	switch cfg.FinalizeDispatch {
	case infra.FinalizeDispatchAMQP:
		conn, err := bootstrap.DialAMQP(cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect broker")
		}
		defer conn.Close()
		publisher, err := finalize.NewPublisher(conn, cfg.AMQPExchange, cfg.AMQPRoutingKey, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure finalize publisher")
		}
		defer publisher.Close()
		finalizer = publisher
	default:
		pipeline := finalize.NewPipeline(finalize.Options{
			Store:      store,
			Objects:    objects,
			FFmpegPath: cfg.FFmpegPath,
			Logger:     &logger,
		})
		inline = finalize.NewInlineDispatcher(ctx, pipeline, &logger)
		finalizer = inline
	}

	svc := queue.New(queue.Options{
		Store:      store,
		Catalog:    store,
		Objects:    objects,
		Finalizer:  finalizer,
		Logger:     &logger,
		StaleAfter: cfg.StaleClaimAfter,
	})

	var limiter middleware.Limiter
	if cfg.RateLimitPerMin > 0 {
		limiter = middleware.NewMemoryLimiter(cfg.RateLimitPerMin, time.Minute)
		if cfg.RedisAddr != "" {
			rdb, err := bootstrap.NewRedisClient(ctx, cfg)
			if err != nil {
				logger.Fatal().Err(err).Msg("failed to connect redis")
			}
			defer rdb.Close()
			limiter = middleware.NewRedisLimiter(rdb, cfg.RateLimitPerMin, time.Minute)
		}
	}

	app := handlers.NewApp(svc, infra.Component(logger, "http"))
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:         infra.Component(logger, "http"),
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter:        limiter,
		RequestTimeout: cfg.HTTPWriteTimeout,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Str("store", cfg.StoreDriver).Str("finalize", cfg.FinalizeDispatch).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if inline != nil {
		logger.Info().Msg("waiting for in-flight finalize runs")
		inline.Wait()
	}
	logger.Info().Msg("server stopped")
}
