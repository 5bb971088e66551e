package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Error-telemetry triage engine",
	Long: `triage groups production error events by normalized signature,
correlates each new error group with recent commits, and emits one
triage ticket per group. Already-ticketed signatures are skipped.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
