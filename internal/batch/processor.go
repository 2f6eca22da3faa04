package batch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ledgerscan/ledgerscan/internal/extract"
	"github.com/ledgerscan/ledgerscan/internal/recon"
	"github.com/ledgerscan/ledgerscan/internal/retry"
	"github.com/ledgerscan/ledgerscan/internal/task"
)

// BlobFetcher retrieves document bytes by their durable URI, for tasks
// restored from a store without their in-memory content.
type BlobFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Processor performs the per-task work the scheduler fans out: the extraction
// call wrapped in the retrier, result validation, and for statement results
// reconciliation against the evidence extracted so far.
type Processor struct {
	extractor         extract.Extractor
	retrier           *retry.Backoff
	queue             *task.Queue
	blobs             BlobFetcher
	reportingCurrency string
	log               zerolog.Logger
}

// NewProcessor wires the extraction port, retrier and queue together. blobs
// may be nil when all tasks carry their bytes in memory.
func NewProcessor(extractor extract.Extractor, retrier *retry.Backoff, queue *task.Queue, blobs BlobFetcher, reportingCurrency string, log zerolog.Logger) *Processor {
	return &Processor{
		extractor:         extractor,
		retrier:           retrier,
		queue:             queue,
		blobs:             blobs,
		reportingCurrency: reportingCurrency,
		log:               log,
	}
}

// Process extracts one document. Extraction port failures are retried with
// backoff; validation failures are permanent and bypass the retrier. For
// statements, the matcher and aggregator run before the result is returned,
// so totals and match notes are final when the task completes.
func (p *Processor) Process(ctx context.Context, t *task.Task) (*task.Result, error) {
	data := t.SourceBytes
	if len(data) == 0 && t.SourceURI != "" && p.blobs != nil {
		fetched, err := p.blobs.Fetch(ctx, t.SourceURI)
		if err != nil {
			return nil, &extract.Error{Message: "fetch document bytes", Cause: err}
		}
		data = fetched
	}

	var res *task.Result
	err := p.retrier.Do(ctx, func(ctx context.Context) error {
		r, err := p.extractor.Extract(ctx, data, t.MimeType, p.reportingCurrency)
		if err != nil {
			p.log.Warn().Err(err).Str("task_id", t.ID).Str("source", t.SourceName).Msg("Extraction attempt failed")
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	// A zero total or an empty statement is a failed scan, not a transient
	// fault; retrying would only repeat it.
	if err := extract.Validate(res); err != nil {
		return nil, err
	}

	if res.Statement != nil {
		matched := recon.MatchStatement(res.Statement, p.queue.CompletedEvidence())
		recon.Recompute(res.Statement)
		p.log.Info().
			Str("task_id", t.ID).
			Int("transactions", len(res.Statement.Transactions)).
			Int("matched", matched).
			Msg("Statement reconciled")
	}

	return res, nil
}
