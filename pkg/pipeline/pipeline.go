// Package pipeline implements the parallel batch-fetch pipeline: a
// dispatcher partitions an identifier source into bounded batches, a
// pool of workers pulls the batches through a bounded queue, fetches
// records with retry and a per-batch error budget, and everything
// shuts down cooperatively through a shared cancellation token.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/registrykit/mastr-fetch/pkg/logging"
	"github.com/registrykit/mastr-fetch/pkg/registry"
)

// Default tuning, matching the registry operator guidance this tool
// grew up with.
const (
	DefaultQueueSize   = 20
	DefaultBatchSize   = 100
	DefaultErrorsLimit = 20
)

// Options configures one pipeline run over one identifier source.
type Options struct {
	// Input is the identifier source file and start row.
	Input InputSpec

	// ColumnIndex selects the identifier column in the input.
	ColumnIndex int

	// Parallelism is the worker count P. Defaults to the number of CPUs.
	Parallelism int

	// OutputDir receives one output file per worker.
	OutputDir string

	// BatchSize bounds identifiers per batch. Defaults to DefaultBatchSize.
	BatchSize int

	// QueueSize bounds un-consumed queue messages. Defaults to
	// DefaultQueueSize; in-flight identifiers are bounded by
	// QueueSize × BatchSize.
	QueueSize int

	// ErrorsLimit is the per-batch consecutive-failure budget.
	// Defaults to DefaultErrorsLimit.
	ErrorsLimit int

	// Fields is the output schema. Defaults to registry.DefaultUnitFields.
	Fields []string

	// Compress gzips the output sinks.
	Compress bool

	// NewFetcher builds the exclusively-owned fetcher for one worker
	// (REQUIRED).
	NewFetcher func(workerID int) (Fetcher, error)

	// Token is the shared cancellation token. Defaults to a fresh token
	// nobody ever triggers.
	Token *Token
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.ErrorsLimit <= 0 {
		opts.ErrorsLimit = DefaultErrorsLimit
	}
	if len(opts.Fields) == 0 {
		opts.Fields = registry.DefaultUnitFields
	}
	if opts.Token == nil {
		opts.Token = NewToken()
	}
	return opts
}

// Run executes one pipeline over one input source: P workers plus the
// dispatcher on the calling goroutine. It returns once the source is
// exhausted and all workers have joined, or once a stop request has
// drained the pool. Setup and sink failures are returned; fetch
// failures are absorbed per the error budget.
func Run(ctx context.Context, o Options) error {
	if o.NewFetcher == nil {
		return fmt.Errorf("pipeline: NewFetcher is required")
	}
	opts := o.withDefaults()
	logger := logging.NewLogger("pipeline")

	src, err := OpenSource(opts.Input, opts.ColumnIndex)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	// A forced stop cancels the context so in-flight fetches abort
	// without waiting for the operation timeout.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-opts.Token.Forced():
			cancel()
		case <-ctx.Done():
		}
	}()

	queue := make(chan Message, opts.QueueSize)

	logger.Info().
		Str("source", opts.Input.Path).
		Int("start_row", opts.Input.StartRow).
		Int("parallelism", opts.Parallelism).
		Int("batch_size", opts.BatchSize).
		Int("queue_size", opts.QueueSize).
		Msg("Starting worker pool")

	var wg sync.WaitGroup
	workerErrs := make(chan error, opts.Parallelism)
	start := time.Now()

	for i := 0; i < opts.Parallelism; i++ {
		sink, err := NewRecordWriter(
			SinkPath(opts.OutputDir, opts.Input.Path, i, opts.Compress),
			opts.Fields, opts.Compress)
		if err != nil {
			opts.Token.Graceful()
			wg.Wait()
			return fmt.Errorf("worker %d: %w", i, err)
		}

		fetcher, err := opts.NewFetcher(i)
		if err != nil {
			sink.Close()
			opts.Token.Graceful()
			wg.Wait()
			return fmt.Errorf("worker %d: create fetcher: %w", i, err)
		}

		worker := NewWorker(i, queue, fetcher, sink,
			NewErrorBudget(opts.ErrorsLimit), opts.Token)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := worker.Run(ctx); err != nil {
				workerErrs <- err
			}
		}()
	}

	dispatcher := NewDispatcher(queue, opts.BatchSize, opts.Parallelism, opts.Token)
	dispatchErr := dispatcher.Run(src)
	if dispatchErr != nil {
		// No sentinels were sent; stop the pool so the join below
		// cannot hang.
		opts.Token.Graceful()
	}

	wg.Wait()
	close(workerErrs)

	errs := []error{dispatchErr}
	for err := range workerErrs {
		errs = append(errs, err)
	}

	logger.Info().
		Str("source", opts.Input.Path).
		Str("state", opts.Token.State().String()).
		Dur("duration", time.Since(start)).
		Msg("All workers joined")

	return errors.Join(errs...)
}
