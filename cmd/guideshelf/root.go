package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/guideshelf/internal/api"
	"github.com/jackzampolin/guideshelf/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "guideshelf",
	Short: "Incremental topic and subtopic extraction for textbooks",
	Long: `guideshelf turns approved textbook pages into teaching guidelines.

Pages are processed one at a time. Each page is classified as continuing the
current subtopic or starting a new one, and its content is merged into a
per-subtopic shard. Finalization consolidates shards and sync publishes them
as guideline rows.

The pipeline stages:
  - extraction: page-by-page segmentation into topic/subtopic shards
  - finalization: renames, duplicate merges and summaries
  - sync: snapshot of final shards into the guidelines table`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.guideshelf/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "guideshelf home directory (default: ~/.guideshelf)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
