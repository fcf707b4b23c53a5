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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/analysis"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/config"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/delivery"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/models"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/observability"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/queue"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/recognition"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/storage"
)

// staleRunAge is how old an unfinished run must be before a restarted
// analyzer reclaims it. Longer than the worst-case rendition wait.
const staleRunAge = 30 * time.Minute

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

	slog.Info("starting analyzer", "workers", cfg.Analysis.WorkerCount)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Runs orphaned by a crashed analyzer would block re-triggers forever.
	released, err := db.ReleaseStaleRuns(context.Background(), staleRunAge)
	if err != nil {
		slog.Warn("release stale runs", "error", err)
	} else if released > 0 {
		slog.Info("released stale runs", "count", released)
	}

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
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Remote service clients
	deliveryClient := delivery.NewClient(cfg.Delivery)
	recogClient := recognition.NewClient(cfg.Recognition)

	orch := analysis.NewOrchestrator(db, deliveryClient, recogClient, minioStore, producer, cfg.Analysis)

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start consuming analysis jobs
	err = consumer.ConsumeAnalysisJobs(ctx, "analyzer-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var job models.AnalysisJob
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			slog.Error("unmarshal analysis job", "error", err)
			return nil // Don't retry on unmarshal errors
		}

		switch job.Kind {
		case models.JobFaceSweep:
			return orch.Sweep(ctx, job.VideoID)
		default:
			return orch.Run(ctx, job.VideoID)
		}
	}, cfg.Analysis.WorkerCount)
	if err != nil {
		slog.Error("start analysis consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("analyzer metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down analyzer...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("analyzer stopped")
}
