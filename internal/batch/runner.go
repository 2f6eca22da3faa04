package batch

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrRunInProgress is returned when a batch run is requested while another
// one is still draining.
var ErrRunInProgress = errors.New("a batch run is already in progress")

// Runner serializes batch runs and exposes cooperative cancellation to the
// HTTP API. At most one run is active at a time.
type Runner struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool

	sched *Scheduler
	log   zerolog.Logger
}

// NewRunner creates a runner for the given scheduler.
func NewRunner(sched *Scheduler, log zerolog.Logger) *Runner {
	return &Runner{sched: sched, log: log}
}

// Start kicks off a background run over the current queue snapshot.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrRunInProgress
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	go func() {
		defer cancel()
		summary, err := r.sched.Run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error().Err(err).Msg("Batch run ended with error")
		}
		r.log.Info().Str("summary", summary.String()).Msg("Batch run done")

		r.mu.Lock()
		r.running = false
		r.cancel = nil
		r.mu.Unlock()
	}()

	return nil
}

// Cancel requests cooperative cancellation of the active run: no new tasks
// start, in-flight tasks drain. It reports whether a run was active.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running || r.cancel == nil {
		return false
	}
	r.cancel()
	return true
}

// Running reports whether a run is currently active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
