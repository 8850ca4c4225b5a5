// Command mastr-fetch bulk-fetches unit records from the
// Marktstammdatenregister (MaStR): identifiers come in from CSV files,
// a parallel worker pool pulls the full records from the API, and each
// worker appends to its own output CSV.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/registrykit/mastr-fetch/pkg/config"
	"github.com/registrykit/mastr-fetch/pkg/logging"
)

var version = "dev"

// errForced marks a run ended by a forced stop. It maps to a non-zero
// exit code; a graceful stop exits clean.
var errForced = errors.New("forcefully terminated")

var (
	cfgFile   string
	logLevel  string
	logPretty bool
	cfg       *config.Config
)

func buildRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mastr-fetch",
		Short: "Parallel batch fetcher for the Marktstammdatenregister",
		Long: `mastr-fetch reads unit identifiers from CSV files and fetches the
full unit records from the MaStR API with a parallel worker pool,
writing one output CSV per worker. A first interrupt stops gracefully
after the in-flight units, a second one aborts immediately.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = logLevel
			}
			if cmd.Flags().Changed("log-pretty") {
				cfg.Logging.Pretty = logPretty
			}
			logging.Setup(logging.Config{
				Level:  logging.LogLevel(cfg.Logging.Level),
				Pretty: cfg.Logging.Pretty,
			})
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "human-readable log output")

	rootCmd.AddCommand(buildFetchCommand())
	rootCmd.AddCommand(buildListUnitsCommand())

	return rootCmd
}

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		if !errors.Is(err, errForced) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
