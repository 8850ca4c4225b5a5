package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/registrykit/mastr-fetch/pkg/logging"
	"github.com/registrykit/mastr-fetch/pkg/registry"
)

// Prometheus metrics for worker processing.
var (
	recordsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mastr_records_written_total",
		Help: "Total records fetched and written to output sinks",
	})

	fetchFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mastr_fetch_failures_total",
		Help: "Total identifiers skipped after retries were exhausted",
	})

	batchesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mastr_batches_completed_total",
		Help: "Total batches fully processed by workers",
	})

	batchesDiscardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mastr_batches_discarded_total",
		Help: "Total batches truncated because the error budget was exceeded",
	})
)

// Fetcher fetches one record per identifier. Implementations must be
// safe for exclusive use by a single worker; they are never shared.
type Fetcher interface {
	Fetch(ctx context.Context, identifier string) (registry.Record, error)
}

// Worker consumes batches from the shared queue until it receives the
// shutdown sentinel or the cancellation token stops it. Each worker
// exclusively owns its fetcher, sink and error budget, so no locking
// crosses worker boundaries.
type Worker struct {
	id     int
	queue  <-chan Message
	fetch  Fetcher
	sink   *RecordWriter
	budget *ErrorBudget
	token  *Token
	logger zerolog.Logger
}

// NewWorker creates a worker with its exclusively-owned collaborators.
func NewWorker(id int, queue <-chan Message, fetch Fetcher, sink *RecordWriter, budget *ErrorBudget, token *Token) *Worker {
	return &Worker{
		id:     id,
		queue:  queue,
		fetch:  fetch,
		sink:   sink,
		budget: budget,
		token:  token,
		logger: logging.WorkerLogger(id),
	}
}

// Run is the worker loop: block on the queue, process data batches,
// stop on the shutdown sentinel or on the token. The sink is flushed
// and closed on every exit path. Only sink failures are returned;
// per-identifier fetch failures never cross the worker boundary.
func (w *Worker) Run(ctx context.Context) (err error) {
	defer func() {
		if closeErr := w.sink.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("worker %d: close sink: %w", w.id, closeErr)
		}
	}()

	for {
		select {
		case msg := <-w.queue:
			if msg.Shutdown {
				w.logger.Info().Msg("Received shutdown sentinel, no more batches to process")
				return nil
			}

			cont, err := w.processBatch(ctx, msg.Batch)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}

		case <-w.token.Stopping():
			w.logger.Info().Msg("Stop requested while idle")
			return nil
		}
	}
}

// processBatch iterates one batch in order. It returns false when the
// worker should stop (graceful or forced), and an error only for sink
// failures.
func (w *Worker) processBatch(ctx context.Context, batch Batch) (bool, error) {
	w.budget.Reset()
	w.logger.Info().Int("batch_size", len(batch)).Msg("Processing next batch")

	for i, id := range batch {
		switch w.token.State() {
		case ForcedStop:
			w.logger.Warn().Int("discarded", len(batch)-i).Msg("Force termination")
			return false, nil
		case GracefulStop:
			w.logger.Info().Msg("Gracefully terminating")
			return false, nil
		}

		if w.budget.Exceeded() {
			w.logger.Warn().
				Int("errors", w.budget.Count()).
				Int("discarded", len(batch)-i).
				Msg("Reached errors limit, discarding rest of batch")
			batchesDiscardedTotal.Inc()
			return true, nil
		}

		rec, err := w.fetch.Fetch(ctx, id)
		if err != nil {
			// A cancelled context means forced stop, not a fetch fault.
			if errors.Is(err, context.Canceled) || errors.Is(err, registry.ErrContextCancelled) {
				w.logger.Warn().Msg("Force termination during fetch")
				return false, nil
			}

			fetchFailuresTotal.Inc()
			w.budget.Record()
			w.logger.Warn().
				Err(err).
				Str("identifier", id).
				Int("errors", w.budget.Count()).
				Msg("Fetch failed, continuing")
			continue
		}

		if err := w.sink.Write(rec); err != nil {
			return false, fmt.Errorf("worker %d: %w", w.id, err)
		}
		recordsWrittenTotal.Inc()

		// A successful reply means earlier failures were likely
		// unrelated, so the streak starts over.
		w.budget.Reset()
	}

	batchesCompletedTotal.Inc()
	return true, nil
}
