// Package main is the entry point for the browse CLI, which opens one record
// view against the records service, applies search, filter, sort and page
// intents, and prints the settled page.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zatekoja/clinicopsdashboard/internal/infrastructure/observability"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse clinic records from the terminal",
	Long: `browse reads patients, appointments or OPD assignments from the records
service and prints one page of them. Without search text or filters pages come
straight from the service; otherwise every page is read once and searched,
filtered and sorted locally.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		observability.InitLogger(observability.LoggerOptions{
			ServiceName: "browse",
			Env:         "cli",
			Level:       level,
			Output:      os.Stderr,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
