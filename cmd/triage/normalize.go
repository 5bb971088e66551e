package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opsdrift/triage/internal/signature"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize <message>",
	Short: "Show the grouping signature for an error message",
	Long: `Print the normalized signature a raw error message would group
under. Useful for checking why two occurrences did or did not collapse
into the same ticket.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(signature.Normalize(strings.Join(args, " ")))
	},
}

func init() {
	rootCmd.AddCommand(normalizeCmd)
}
