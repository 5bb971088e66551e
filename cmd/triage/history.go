package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opsdrift/triage/internal/signature"
	"github.com/opsdrift/triage/internal/storage/sqlite"
)

var (
	historyDBPath string
	historyDays   int
	historyRaw    bool
)

var historyCmd = &cobra.Command{
	Use:   "history <signature>",
	Short: "Show processing history for an error signature",
	Long: `List the processing records for an error signature within the
lookback window. The argument is normalized first unless --raw is given,
so a raw error message works as input.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := showHistory(strings.Join(args, " ")); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyDBPath, "db", "", "dedup-state database path (defaults to TRIAGE_DB)")
	historyCmd.Flags().IntVar(&historyDays, "days", 7, "lookback window in days")
	historyCmd.Flags().BoolVar(&historyRaw, "raw", false, "treat the argument as an already-normalized signature")
	rootCmd.AddCommand(historyCmd)
}

func showHistory(input string) error {
	dbPath := historyDBPath
	if dbPath == "" {
		dbPath = os.Getenv("TRIAGE_DB")
	}
	if dbPath == "" {
		return fmt.Errorf("no dedup store configured (--db or TRIAGE_DB)")
	}

	sig := input
	if !historyRaw {
		sig = signature.Normalize(input)
	}

	store, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open dedup store: %w", err)
	}
	defer store.Close()

	records, err := store.History(context.Background(), sig, historyDays)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("%s %s\n", cyan("Signature:"), sig)

	if len(records) == 0 {
		fmt.Printf("No processing records in the last %d days.\n", historyDays)
		return nil
	}

	for _, r := range records {
		fmt.Printf("  %s  ticket %s  %d occurrences", r.FirstSeen.Format(time.RFC3339), r.TicketKey, r.ErrorCount)
		if r.ServiceName != "" {
			fmt.Printf("  %s/%s", r.ServiceName, r.Environment)
		}
		fmt.Println()
	}
	return nil
}
