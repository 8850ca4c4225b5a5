package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/registrykit/mastr-fetch/pkg/metrics"
	"github.com/registrykit/mastr-fetch/pkg/pipeline"
	"github.com/registrykit/mastr-fetch/pkg/registry"
)

func buildFetchCommand() *cobra.Command {
	var (
		apiKey      string
		mastrNumber string
		column      int
		parallel    int
		outputDir   string
		batchSize   int
		queueSize   int
		errorsLimit int
		maxAttempts int
		retryFactor float64
		compress    bool
		cacheURL    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "fetch [flags] INPUT[:START-ROW]...",
		Short: "Fetch unit records for the identifiers in the input files",
		Long: `Fetch reads unit identifiers from one column of each input CSV and
fetches the full records in parallel. Appending ":N" to an input path
resumes it from row N. Output files append, so a resumed run continues
where the previous one stopped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("api-key") {
				cfg.API.Key = apiKey
			}
			if cmd.Flags().Changed("mastr-number") {
				cfg.API.MastrNumber = mastrNumber
			}
			if cmd.Flags().Changed("parallel") {
				cfg.Pipeline.Parallelism = parallel
			}
			if cmd.Flags().Changed("column") {
				cfg.Pipeline.ColumnIndex = column
			}
			if cmd.Flags().Changed("output-dir") {
				cfg.Pipeline.OutputDir = outputDir
			}
			if cmd.Flags().Changed("batch-size") {
				cfg.Pipeline.BatchSize = batchSize
			}
			if cmd.Flags().Changed("queue-size") {
				cfg.Pipeline.QueueSize = queueSize
			}
			if cmd.Flags().Changed("errors-limit") {
				cfg.Pipeline.ErrorsLimit = errorsLimit
			}
			if cmd.Flags().Changed("retry-max-attempts") {
				cfg.Retry.MaxAttempts = maxAttempts
			}
			if cmd.Flags().Changed("retry-factor") {
				cfg.Retry.Factor = retryFactor
			}
			if cmd.Flags().Changed("compress") {
				cfg.Pipeline.Compress = compress
			}
			if cmd.Flags().Changed("cache-url") {
				cfg.Cache.URL = cacheURL
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Metrics.Enabled = true
				cfg.Metrics.Addr = metricsAddr
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			return runFetch(cmd.Context(), args)
		},
	}

	cmd.Flags().StringVarP(&apiKey, "api-key", "a", "", "MaStR API key (or env API_KEY)")
	cmd.Flags().StringVarP(&mastrNumber, "mastr-number", "m", "", "market actor MaStR number (or env MASTR_NUMBER)")
	cmd.Flags().IntVarP(&column, "column", "n", 0, "identifier column index in the input CSV")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "worker count (default: number of CPUs)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", ".", "directory for the per-worker output files")
	cmd.Flags().IntVar(&batchSize, "batch-size", pipeline.DefaultBatchSize, "identifiers per batch")
	cmd.Flags().IntVar(&queueSize, "queue-size", pipeline.DefaultQueueSize, "batches buffered between dispatcher and workers")
	cmd.Flags().IntVar(&errorsLimit, "errors-limit", pipeline.DefaultErrorsLimit, "consecutive failures tolerated per batch")
	cmd.Flags().IntVar(&maxAttempts, "retry-max-attempts", 3, "remote calls per identifier before giving up")
	cmd.Flags().Float64Var(&retryFactor, "retry-factor", 2.0, "exponential backoff growth factor")
	cmd.Flags().BoolVar(&compress, "compress", false, "gzip the output files")
	cmd.Flags().StringVar(&cacheURL, "cache-url", "", "Redis URL for the record cache (empty: no cache)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runFetch(ctx context.Context, inputs []string) error {
	// Parse every input up front so a typo in the third argument does
	// not surface after hours of fetching the first.
	specs := make([]pipeline.InputSpec, 0, len(inputs))
	for _, arg := range inputs {
		spec, err := pipeline.ParseInputSpec(arg)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	token := pipeline.NewToken()

	// First signal: graceful stop. Second: forced.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			log.Warn().Str("state", token.State().String()).Msg("Interrupt received")
			token.Interrupt()
		}
	}()

	if cfg.Metrics.Enabled {
		go func() {
			log.Info().Str("addr", cfg.Metrics.Addr).Msg("Serving metrics")
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	var cache *registry.Cache
	if cfg.Cache.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Cache.URL)
		if err != nil {
			return fmt.Errorf("parse cache url: %w", err)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		cache = registry.NewCache(redisClient, cfg.Cache.TTL)
	}

	policy := cfg.RetryPolicy()
	newFetcher := func(workerID int) (pipeline.Fetcher, error) {
		client, err := registry.New(registry.Config{
			BaseURL:     cfg.API.BaseURL,
			APIKey:      cfg.API.Key,
			MastrNumber: cfg.API.MastrNumber,
			Timeout:     cfg.API.Timeout,
			Cache:       cache,
		})
		if err != nil {
			return nil, err
		}
		return &registry.UnitFetcher{Client: client, Policy: policy}, nil
	}

	var errs []error
	for _, spec := range specs {
		if token.State() != pipeline.Running {
			log.Warn().Str("input", spec.Path).Msg("Stop requested, skipping remaining inputs")
			break
		}

		err := pipeline.Run(ctx, pipeline.Options{
			Input:       spec,
			ColumnIndex: cfg.Pipeline.ColumnIndex,
			Parallelism: cfg.Pipeline.Parallelism,
			OutputDir:   cfg.Pipeline.OutputDir,
			BatchSize:   cfg.Pipeline.BatchSize,
			QueueSize:   cfg.Pipeline.QueueSize,
			ErrorsLimit: cfg.Pipeline.ErrorsLimit,
			Compress:    cfg.Pipeline.Compress,
			NewFetcher:  newFetcher,
			Token:       token,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("input %s: %w", spec.Path, err))
		}
	}

	if token.State() == pipeline.ForcedStop {
		errs = append(errs, errForced)
	}

	return errors.Join(errs...)
}
