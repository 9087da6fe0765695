// Package cli wires the cobra commands for the crawler daemon.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose    bool
	jsonOutput bool
	listenAddr string
	storeKind  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "crawlerd",
	Short:   "High-throughput company website crawler",
	Long:    `crawlerd scrapes company websites at batch scale and emits normalized, token-bounded text chunks for profile extraction.`,
	Version: "2.0.0",
}

// Execute runs the CLI. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "JSON log output")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "control API listen address")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", "persistence backend: postgres or memory")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(batchCmd)
}
