// The worker runs a single batch extraction pass over the tasks persisted in
// a store and exits. Ctrl-C stops new extractions and drains in-flight ones.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/ledgerscan/ledgerscan/internal/batch"
	"github.com/ledgerscan/ledgerscan/internal/blob"
	"github.com/ledgerscan/ledgerscan/internal/extract"
	"github.com/ledgerscan/ledgerscan/internal/logger"
	"github.com/ledgerscan/ledgerscan/internal/retry"
	"github.com/ledgerscan/ledgerscan/internal/store"
	bqstore "github.com/ledgerscan/ledgerscan/internal/store/bigquery"
	"github.com/ledgerscan/ledgerscan/internal/store/bolt"
	"github.com/ledgerscan/ledgerscan/internal/task"
)

func main() {
	fs := ff.NewFlagSet("ledgerscan-worker")
	var (
		storeKind   = fs.StringLong("store", "bolt", "Task store: 'bolt' or 'bigquery'")
		dbPath      = fs.StringLong("db", "ledgerscan.db", "Database file path (bolt store)")
		bqProject   = fs.StringLong("bq-project", "", "BigQuery project ID (bigquery store)")
		bqDataset   = fs.StringLong("bq-dataset", "ledgerscan", "BigQuery dataset (bigquery store)")
		bucket      = fs.StringLong("bucket", "", "GCS bucket holding document bytes")
		model       = fs.StringLong("model", extract.DefaultModelName, "Gemini model name")
		currency    = fs.StringLong("currency", "USD", "Reporting currency for extracted amounts")
		concurrency = fs.IntLong("concurrency", batch.DefaultConcurrency, "Max documents extracted in parallel")
		retries     = fs.IntLong("retries", retry.DefaultRetries, "Extraction retries after the initial attempt")
		retryDelay  = fs.DurationLong("retry-delay", retry.DefaultInitialDelay, "Initial retry delay; doubles per attempt")
		ownerID     = fs.StringLong("owner", "default", "Owner whose tasks are processed")
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

	var taskStore store.TaskStore
	var err error
	switch *storeKind {
	case "bolt":
		taskStore, err = bolt.NewStore(*dbPath)
	case "bigquery":
		if *bqProject == "" {
			log.Fatal().Msg("bigquery store requires --bq-project")
		}
		taskStore, err = bqstore.NewStore(ctx, *bqProject, *bqDataset)
	default:
		log.Fatal().Str("store", *storeKind).Msg("Unknown store")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open task store")
	}
	defer taskStore.Close()

	extractor, err := extract.NewGemini(ctx, *model)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create extractor")
	}

	var fetcher batch.BlobFetcher
	if *bucket != "" {
		blobs, err := blob.NewGCS(ctx, *bucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create blob store")
		}
		defer blobs.Close()
		fetcher = blobs
	}

	queue := task.NewQueue(taskStore, nil, log)
	persisted, err := taskStore.ListTasksByOwner(ctx, *ownerID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load persisted tasks")
	}
	queue.Restore(persisted)
	log.Info().Int("tasks", len(persisted)).Msg("Loaded persisted tasks")

	retrier := retry.New(*retries, *retryDelay)
	processor := batch.NewProcessor(extractor, retrier, queue, fetcher, *currency, log)
	scheduler := batch.NewScheduler(queue, *concurrency, processor.Process, log)

	// SIGINT requests a drain: started extractions finish, nothing new starts.
	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	summary, err := scheduler.Run(runCtx)
	if err != nil {
		log.Warn().Err(err).Msg("Run cancelled")
	}
	fmt.Println(summary.String())
}
