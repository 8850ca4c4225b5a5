package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/registrykit/mastr-fetch/pkg/pipeline"
	"github.com/registrykit/mastr-fetch/pkg/registry"
)

func buildListUnitsCommand() *cobra.Command {
	var (
		apiKey      string
		mastrNumber string
		output      string
		start       int
		pageSize    int
		maxUnits    int
		filterType  string
	)

	cmd := &cobra.Command{
		Use:   "list-units",
		Short: "Export the registry unit listing to a CSV file",
		Long: `List-units pages through the registry's unit listing and writes the
summary rows to one CSV file. The listing carries every unit type; use
--filter-type to keep only one (for example Solareinheit). The export
is a common way to build the identifier input for fetch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("api-key") {
				cfg.API.Key = apiKey
			}
			if cmd.Flags().Changed("mastr-number") {
				cfg.API.MastrNumber = mastrNumber
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			return runListUnits(cmd.Context(), output, start, pageSize, maxUnits, filterType)
		},
	}

	cmd.Flags().StringVarP(&apiKey, "api-key", "a", "", "MaStR API key (or env API_KEY)")
	cmd.Flags().StringVarP(&mastrNumber, "mastr-number", "m", "", "market actor MaStR number (or env MASTR_NUMBER)")
	cmd.Flags().StringVarP(&output, "output", "o", "units.csv", "output CSV file")
	cmd.Flags().IntVar(&start, "start", 0, "listing offset to start from")
	cmd.Flags().IntVar(&pageSize, "page-size", 1000, "units requested per call")
	cmd.Flags().IntVar(&maxUnits, "max-units", 0, "stop after this many units (0: all)")
	cmd.Flags().StringVar(&filterType, "filter-type", "", "keep only units of this Einheittyp")

	return cmd
}

func runListUnits(ctx context.Context, output string, start, pageSize, maxUnits int, filterType string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := registry.New(registry.Config{
		BaseURL:     cfg.API.BaseURL,
		APIKey:      cfg.API.Key,
		MastrNumber: cfg.API.MastrNumber,
		Timeout:     cfg.API.Timeout,
	})
	if err != nil {
		return err
	}

	sink, err := pipeline.CreateRecordWriter(output, registry.DefaultListFields, false)
	if err != nil {
		return err
	}
	defer sink.Close()

	policy := cfg.RetryPolicy()
	written := 0

	for offset := start; ; {
		var page []registry.Record
		err := policy.Do(ctx, "GetListeAlleEinheiten", func() error {
			p, err := client.ListUnits(ctx, offset, pageSize)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, registry.ErrContextCancelled) {
				log.Warn().Int("written", written).Msg("Interrupted, keeping rows exported so far")
				break
			}
			// The registry answers a past-the-end offset with an error
			// rather than an empty page.
			var regErr *registry.Error
			if errors.As(err, &regErr) && regErr.Fault == registry.FaultPermanent {
				log.Info().Int("offset", offset).Msg("Listing refused the offset, probably reached the end")
				break
			}
			return err
		}

		if len(page) == 0 {
			break
		}

		for _, rec := range page {
			if filterType != "" && rec.FieldValue("Einheittyp") != filterType {
				continue
			}
			if err := sink.Write(rec); err != nil {
				return err
			}
			written++
			if maxUnits > 0 && written >= maxUnits {
				log.Info().Int("written", written).Str("output", output).Msg("Reached unit cap")
				return nil
			}
		}

		offset += len(page)
		log.Info().Int("offset", offset).Int("written", written).Msg("Listing page exported")

		if len(page) < pageSize {
			break
		}
	}

	log.Info().Int("written", written).Str("output", output).Msg("Listing export complete")
	return nil
}
