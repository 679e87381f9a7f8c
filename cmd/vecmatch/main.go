// Package main is the entry point for the vecmatch CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalFlags are shared by every command that opens a client.
type globalFlags struct {
	envFile     string
	metricsAddr string
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   "vecmatch",
		Short: "Match CSV targets to their nearest CSV sources by embedding similarity",
		Long: `vecmatch loads two CSV datasets, embeds a text column of every row through an
OpenAI-compatible endpoint, stores the rows with their embeddings, and links
every target to the most similar source in the same namespace.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. .env file (if --env-file specified or .env exists in current directory)
  3. Environment variables
  4. Command line flags

Environment variables:
  DB_URL                       Database URL (default: sqlite:///vecmatch.db)
  LOG_LEVEL                    Log level: DEBUG, INFO, WARN, ERROR (default: INFO)
  LOG_FORMAT                   Log format: pretty, text, json (default: pretty)
  LOG_TIME_INTERVAL            Seconds between progress lines (default: 0, every batch)
  METRICS_ADDR                 Listen address for /metrics, /healthz, /progress

  EMBEDDING_ENDPOINT_*         Embedding service configuration
    BASE_URL                   Base URL (e.g., https://api.openai.com/v1)
    MODEL                      Model identifier (e.g., text-embedding-3-small)
    API_KEY                    API key for authentication
    NUM_PARALLEL_TASKS         Concurrent sub-requests (default: 1)
    MAX_BATCH_SIZE             Texts per sub-request (default: 256)
    TIMEOUT                    Request timeout in seconds (default: 60)
    MAX_RETRIES                Retry attempts (default: 5)
  EMBEDDING_DIMENSION          Vector dimension (default: 1024)
  HTTP_CACHE_DIR               Cache embedding responses on disk

  SOURCES_FILES, TARGETS_FILES Comma-separated files or globs
  SOURCE_COLUMN, TARGET_COLUMN Column holding the text to embed (required)
  NAMESPACE_COLUMN             Column partitioning matches (optional)
  SKIP_ROWS                    Records to skip before the header (default: 0)
  CHUNK_SIZE                   Rows per ingestion batch (default: 1000)
  MATCH_BATCH_SIZE             Targets per matching round (default: 10000)
  QUARANTINE_DIR               Where failed batches are written (default: quarantine)
  STORE_TIMEOUT                Seconds per store call (default: 300)
  STORE_MAX_RETRIES            Retries of a failed store call (default: 1)`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve /metrics, /healthz and /progress on this address")

	cmd.AddCommand(initCmd(&flags))
	cmd.AddCommand(loadCmd(&flags))
	cmd.AddCommand(matchCmd(&flags))
	cmd.AddCommand(runCmd(&flags))
	cmd.AddCommand(statusCmd(&flags))
	cmd.AddCommand(versionCmd())

	return cmd
}
