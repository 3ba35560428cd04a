package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/framecast/compilation-service/internal/domain/entity"
	"github.com/framecast/compilation-service/internal/infra/config"
	miniostorage "github.com/framecast/compilation-service/internal/infra/minio"
	"github.com/framecast/compilation-service/internal/infra/postgres"
	"github.com/framecast/compilation-service/internal/infra/rabbitmq"
	"github.com/framecast/compilation-service/internal/transport/handler"
	"github.com/framecast/compilation-service/internal/transport/router"
	"github.com/framecast/compilation-service/internal/usecase"
	"github.com/framecast/compilation-service/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting framecast ingestion api")

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN})
		fatalOnErr(err, "init sentry")
		defer sentry.Flush(2 * time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	fatalOnErr(postgres.RunMigrations(cfg.DatabaseURL), "run migrations")

	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:     cfg.MinIOEndpoint,
		AccessKey:    cfg.MinIOAccessKey,
		SecretKey:    cfg.MinIOSecretKey,
		UseSSL:       cfg.MinIOUseSSL,
		FramesBucket: cfg.MinIOFramesBucket,
		VideosBucket: cfg.MinIOVideosBucket,
		FrameFormat:  cfg.FrameFormat,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")

	jobPub, err := rabbitmq.NewJobPublisher(pub, cfg.RabbitMQCompilationQueue, cfg.RabbitMQMaxPriority)
	fatalOnErr(err, "create job publisher")

	ledger := postgres.NewLedger(pool)

	dispatch := usecase.NewDispatchUseCase(ledger, jobPub, log, usecase.DispatchConfig{
		RetryBaseDelay: time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
	})
	status := usecase.NewStatusUseCase(ledger, storage, jobPub, log, cfg.PresignTTL)

	h := handler.New(dispatch, status, storage, log, handler.Config{
		MaxUploadBytes: cfg.MaxUploadBytes,
		DefaultFPS:     cfg.DefaultFPS,
		DefaultFormat:  cfg.DefaultFormat,
		DefaultQuality: entity.Quality(cfg.DefaultQuality),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: router.New(h),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	go func() {
		log.Info("api server starting", zap.Int("port", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("api server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	log.Info("framecast ingestion api stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
