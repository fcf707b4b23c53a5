package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/api"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/api/ws"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/config"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/models"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/observability"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/queue"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/recognition"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/storage"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/verify"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting analysis API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Status consumer: forward persisted state transitions to WebSocket clients
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create status consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeStatus(ctx, "api-status", func(ctx context.Context, msg jetstream.Msg) error {
		var ev models.StatusEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			return err
		}
		hub.BroadcastStatus(ev)
		return nil
	})
	if err != nil {
		slog.Warn("start status consumer", "error", err)
	}

	// Recognition service client for face registration and tag confirmation
	recog := recognition.NewClient(cfg.Recognition)
	if err := recog.EnsureCollection(context.Background()); err != nil {
		slog.Warn("ensure face collection", "error", err)
	}

	resolver := verify.NewResolver(db, recog, minioStore)

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:   cfg.Server.APIKey,
		DB:       db,
		MinIO:    minioStore,
		Producer: producer,
		Recog:    recog,
		Resolver: resolver,
		Hub:      hub,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
