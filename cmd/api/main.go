package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/rs/zerolog"

	"github.com/ledgerscan/ledgerscan/internal/api/handlers"
	"github.com/ledgerscan/ledgerscan/internal/api/middleware"
	"github.com/ledgerscan/ledgerscan/internal/batch"
	"github.com/ledgerscan/ledgerscan/internal/blob"
	"github.com/ledgerscan/ledgerscan/internal/extract"
	"github.com/ledgerscan/ledgerscan/internal/logger"
	"github.com/ledgerscan/ledgerscan/internal/retry"
	"github.com/ledgerscan/ledgerscan/internal/store"
	bqstore "github.com/ledgerscan/ledgerscan/internal/store/bigquery"
	"github.com/ledgerscan/ledgerscan/internal/store/bolt"
	"github.com/ledgerscan/ledgerscan/internal/store/memory"
	"github.com/ledgerscan/ledgerscan/internal/task"
)

func main() {
	fs := ff.NewFlagSet("ledgerscan-api")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		storeKind   = fs.StringLong("store", "memory", "Task store: 'memory', 'bolt' or 'bigquery'")
		dbPath      = fs.StringLong("db", "ledgerscan.db", "Database file path (bolt store)")
		bqProject   = fs.StringLong("bq-project", "", "BigQuery project ID (bigquery store)")
		bqDataset   = fs.StringLong("bq-dataset", "ledgerscan", "BigQuery dataset (bigquery store)")
		bucket      = fs.StringLong("bucket", "", "GCS bucket for document storage (optional)")
		model       = fs.StringLong("model", extract.DefaultModelName, "Gemini model name")
		currency    = fs.StringLong("currency", "USD", "Reporting currency for extracted amounts")
		concurrency = fs.IntLong("concurrency", batch.DefaultConcurrency, "Max documents extracted in parallel")
		retries     = fs.IntLong("retries", retry.DefaultRetries, "Extraction retries after the initial attempt")
		retryDelay  = fs.DurationLong("retry-delay", retry.DefaultInitialDelay, "Initial retry delay; doubles per attempt")
		ownerID     = fs.StringLong("owner", "default", "Owner ID recorded on uploaded tasks")
		logLevel    = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("LEDGERSCAN"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(*logLevel)
	ctx := context.Background()

	taskStore, err := openStore(ctx, *storeKind, *dbPath, *bqProject, *bqDataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open task store")
	}
	defer taskStore.Close()

	var blobs *blob.GCS
	if *bucket != "" {
		blobs, err = blob.NewGCS(ctx, *bucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create blob store")
		}
		defer blobs.Close()
	} else {
		log.Warn().Msg("No GCS bucket configured - documents are kept in memory only")
	}

	extractor, err := extract.NewGemini(ctx, *model)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create extractor")
	}

	queue := task.NewQueue(taskStore, nil, log)
	restoreTasks(ctx, queue, taskStore, *ownerID, log)

	retrier := retry.New(*retries, *retryDelay)

	// blob.GCS is optional; a typed nil must not reach the interface field.
	var fetcher batch.BlobFetcher
	var uploader handlers.BlobUploader
	if blobs != nil {
		fetcher = blobs
		uploader = blobs
	}

	processor := batch.NewProcessor(extractor, retrier, queue, fetcher, *currency, log)
	scheduler := batch.NewScheduler(queue, *concurrency, processor.Process, log)
	runner := batch.NewRunner(scheduler, log)

	tasksHandler := handlers.NewTasksHandler(queue, uploader, *ownerID, log)
	batchHandler := handlers.NewBatchHandler(runner, queue, log)
	exportHandler := handlers.NewExportHandler(queue, log)

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, tasksHandler, batchHandler, exportHandler)

	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop starting new extractions; in-flight ones drain.
	runner.Cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func openStore(ctx context.Context, kind, dbPath, bqProject, bqDataset string) (store.TaskStore, error) {
	switch kind {
	case "memory":
		return memory.NewStore(), nil
	case "bolt":
		return bolt.NewStore(dbPath)
	case "bigquery":
		if bqProject == "" {
			return nil, fmt.Errorf("bigquery store requires --bq-project")
		}
		return bqstore.NewStore(ctx, bqProject, bqDataset)
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
}

func restoreTasks(ctx context.Context, queue *task.Queue, taskStore store.TaskStore, ownerID string, log zerolog.Logger) {
	persisted, err := taskStore.ListTasksByOwner(ctx, ownerID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to restore persisted tasks")
		return
	}
	queue.Restore(persisted)
	if len(persisted) > 0 {
		log.Info().Int("tasks", len(persisted)).Msg("Restored persisted tasks")
	}
}
