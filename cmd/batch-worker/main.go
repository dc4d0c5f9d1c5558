package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mediakeep/upload-service/internal/config"
	"github.com/mediakeep/upload-service/internal/queue"
	"github.com/mediakeep/upload-service/internal/services/media"
	"github.com/mediakeep/upload-service/internal/storage/batchstore"
	"github.com/mediakeep/upload-service/internal/storage/postgres"
	"github.com/mediakeep/upload-service/internal/upload"
)

func main() {
	// Load config
	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize database connection
	metadata, err := postgres.NewPostgres(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	slog.Info("Connected to Postgres database")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	slog.Info("Connected to Redis")

	store := batchstore.NewWithTTL(redisClient, time.Duration(cfg.Upload.RecordTTLHours)*time.Hour)

	mediaService, err := media.NewService(cfg)
	if err != nil {
		log.Fatal("Failed to initialize object storage:", err)
	}
	slog.Info("Connected to object storage", slog.String("bucket", cfg.MinIO.BucketName))

	sqsClient, err := queue.NewClient(context.Background(), cfg)
	if err != nil {
		log.Fatal("Failed to initialize SQS client:", err)
	}

	selector := upload.NewSelector()
	selector.MultipartThreshold = cfg.Upload.MultipartThreshold
	selector.PartSize = cfg.Upload.PartSize

	issuer := upload.NewIssuer(mediaService, selector)
	aggregator := upload.NewAggregator(store)

	// Progress events are pushed by the API process; the worker only
	// updates records.
	worker := upload.NewWorker(store, metadata, issuer, aggregator, nil)
	worker.SetChunkGrantTTL(time.Duration(cfg.Upload.ChunkGrantTTLSecs) * time.Second)

	consumer := queue.NewConsumer(sqsClient, cfg, worker)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	slog.Info("Batch worker started", slog.String("queue", cfg.SQS.QueueURL))

	if err := consumer.Run(ctx); err != nil && err != context.Canceled {
		slog.Error("consumer stopped with error", slog.String("error", err.Error()))
	}

	slog.Info("Batch worker stopped")
}
