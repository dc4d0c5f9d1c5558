package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mediakeep/upload-service/internal/config"
	"github.com/mediakeep/upload-service/internal/events"
	"github.com/mediakeep/upload-service/internal/http/handlers/batch"
	wshandler "github.com/mediakeep/upload-service/internal/http/handlers/websocket"
	"github.com/mediakeep/upload-service/internal/http/middleware"
	"github.com/mediakeep/upload-service/internal/queue"
	"github.com/mediakeep/upload-service/internal/services/media"
	"github.com/mediakeep/upload-service/internal/storage/batchstore"
	"github.com/mediakeep/upload-service/internal/storage/postgres"
	"github.com/mediakeep/upload-service/internal/upload"
	ws "github.com/mediakeep/upload-service/internal/websocket"
)

func main() {
	// load config
	cfg := config.MustLoad()

	// database setup
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

	// object storage
	mediaService, err := media.NewService(cfg)
	if err != nil {
		log.Fatal("Failed to initialize object storage:", err)
	}
	slog.Info("Connected to object storage", slog.String("bucket", cfg.MinIO.BucketName))

	// queue
	sqsClient, err := queue.NewClient(context.Background(), cfg)
	if err != nil {
		log.Fatal("Failed to initialize SQS client:", err)
	}
	publisher := queue.NewPublisher(sqsClient, cfg.SQS.QueueURL)

	// websocket hub for progress events
	hub := ws.NewHub()
	go hub.Run()
	notifier := events.NewEventPublisher(hub)

	// upload engine
	selector := upload.NewSelector()
	selector.MultipartThreshold = cfg.Upload.MultipartThreshold
	selector.PartSize = cfg.Upload.PartSize

	issuer := upload.NewIssuer(mediaService, selector)
	planner := upload.NewPlanner(store, publisher, metadata, issuer, notifier)
	planner.SetThresholds(cfg.Upload.BatchThreshold, cfg.Upload.ChunkSize)
	planner.SetDirectGrantTTL(time.Duration(cfg.Upload.DirectGrantTTLSecs) * time.Second)

	handlers := batch.NewHandlers(planner, store, issuer, mediaService)
	handlers.SetGrantTTLs(
		time.Duration(cfg.Upload.DirectGrantTTLSecs)*time.Second,
		time.Duration(cfg.Upload.ChunkGrantTTLSecs)*time.Second,
	)

	// setup server
	router := http.NewServeMux()

	auth := middleware.AuthMiddleware(cfg.JWTSecret)
	rl := middleware.NewRateLimitConfig(redisClient)

	router.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	router.Handle("POST /upload/batch-initiate", auth(rl.RateLimitedHandler("batch_initiate", handlers.BatchInitiate())))
	router.Handle("GET /upload/batch-status", auth(handlers.BatchStatus()))
	router.Handle("POST /upload/batch-chunk-urls", auth(handlers.BatchChunkURLs()))
	router.Handle("POST /upload/initiate", auth(rl.RateLimitedHandler("upload_initiate", handlers.UploadInitiate())))
	router.Handle("POST /upload/complete", auth(handlers.UploadComplete()))
	router.Handle("GET /upload/object-status", auth(handlers.ObjectStatus()))
	router.HandleFunc("GET /ws", wshandler.WebSocketHandler(hub, cfg.JWTSecret))

	server := http.Server{
		Addr:    cfg.HTTPServer.Address,
		Handler: router,
	}

	log.Println("server started on", cfg.HTTPServer.Address)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %s", err)
		}
	}()

	<-done

	slog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = server.Shutdown(ctx)
	if err != nil {
		slog.Error("failed to gracefully shutdown server", slog.String("error", err.Error()))
		return
	}

	slog.Info("Server stopped")
}
