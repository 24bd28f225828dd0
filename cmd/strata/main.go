package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stratahq/strata/cmd/strata/commands"
	"github.com/stratahq/strata/logger"
)

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Strata - Deterministic identity and schema evolution engine",
	Long: `Strata - Content-addressed ingestion with self-evolving schemas.

Payloads are normalized into deterministic identities, validated against
versioned schemas, and every value that does not fit is kept as evidence
for confidence-scored automatic schema enhancement.

Available commands:
  ingest - Submit a payload envelope through the write path
  store  - Manage content-addressed raw sources
  schema - Inspect and evolve entity schemas
  queue  - Manage the enhancement queue processor
  db     - Manage database operations
  config - Manage Strata configuration

Examples:
  strata store put invoice.pdf       # Store raw bytes, get a source id
  strata ingest --capability store_invoice:v1 --body @payload.json --source src_abc
  strata schema show invoice         # Show the active invoice schema
  strata queue run                   # Run the enhancement processor
  strata db stats                    # Show database statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Root().PersistentFlags().GetBool("json")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if verbose, _ := cmd.Root().PersistentFlags().GetCount("verbose"); verbose > 0 {
			if err := logger.SetVerbose(); err != nil {
				return fmt.Errorf("failed to enable verbose logging: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "JSON output")

	rootCmd.AddCommand(commands.IngestCmd)
	rootCmd.AddCommand(commands.StoreCmd)
	rootCmd.AddCommand(commands.SchemaCmd)
	rootCmd.AddCommand(commands.QueueCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
