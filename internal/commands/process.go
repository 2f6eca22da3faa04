package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerscan/ledgerscan/internal/batch"
	"github.com/ledgerscan/ledgerscan/internal/export"
	"github.com/ledgerscan/ledgerscan/internal/extract"
	"github.com/ledgerscan/ledgerscan/internal/logger"
	"github.com/ledgerscan/ledgerscan/internal/retry"
	"github.com/ledgerscan/ledgerscan/internal/task"
)

func newProcessCommand() *cobra.Command {
	var (
		model       string
		currency    string
		concurrency int
		retries     int
		retryDelay  time.Duration
		outPath     string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "process <file>...",
		Short: "Extract the given documents and reconcile statements against them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, args, model, currency, concurrency, retries, retryDelay, outPath, verbose)
		},
	}

	cmd.Flags().StringVar(&model, "model", extract.DefaultModelName, "Gemini model name")
	cmd.Flags().StringVar(&currency, "currency", "USD", "reporting currency for extracted amounts")
	cmd.Flags().IntVar(&concurrency, "concurrency", batch.DefaultConcurrency, "max documents extracted in parallel")
	cmd.Flags().IntVar(&retries, "retries", retry.DefaultRetries, "extraction retries after the initial attempt")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", retry.DefaultInitialDelay, "initial retry delay; doubles per attempt")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write results as CSV to this file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log extraction progress")

	return cmd
}

func runProcess(cmd *cobra.Command, args []string, model, currency string, concurrency, retries int, retryDelay time.Duration, outPath string, verbose bool) error {
	log := logger.Nop()
	if verbose {
		log = logger.New()
	}

	ctx := cmd.Context()

	onDuplicate := func(name string, size int64) {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipping duplicate: %s (%d bytes)\n", name, size)
	}
	queue := task.NewQueue(nil, onDuplicate, log)

	var tasks []*task.Task
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		tasks = append(tasks, task.New("cli", filepath.Base(path), mimeTypeFor(path), data))
	}
	queue.Enqueue(ctx, tasks...)

	extractor, err := extract.NewGemini(ctx, model)
	if err != nil {
		return fmt.Errorf("creating extractor: %w", err)
	}

	retrier := retry.New(retries, retryDelay)
	processor := batch.NewProcessor(extractor, retrier, queue, nil, currency, log)
	scheduler := batch.NewScheduler(queue, concurrency, processor.Process, log)

	summary, err := scheduler.Run(ctx)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "run cancelled: %v\n", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary.String())

	for _, t := range queue.All() {
		if t.Status == task.StatusError {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed: %s: %s\n", t.SourceName, t.ErrorMessage)
		}
	}

	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", outPath, err)
		}
		defer f.Close()

		if err := export.WriteTasks(f, queue.All()); err != nil {
			return fmt.Errorf("writing CSV: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d documents failed", summary.Failed, summary.Started)
	}
	return nil
}

func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "application/pdf"
	}
}
