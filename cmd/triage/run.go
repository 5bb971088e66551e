package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opsdrift/triage/internal/ai"
	"github.com/opsdrift/triage/internal/keywords"
	"github.com/opsdrift/triage/internal/scoring"
	"github.com/opsdrift/triage/internal/storage"
	"github.com/opsdrift/triage/internal/storage/sqlite"
	"github.com/opsdrift/triage/internal/triage"
	"github.com/opsdrift/triage/internal/types"
)

var (
	runInput       string
	runDBPath      string
	runConcurrency int
	runNoAI        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Triage a batch of error events",
	Long: `Read an event batch from a YAML or JSON file, group the events by
normalized error signature, score recent commits against each new group,
and emit one triage ticket per group. Signatures that already produced a
ticket are skipped.

Configuration comes from TRIAGE_* environment variables. When
ANTHROPIC_API_KEY is set, the completion service is used as the primary
parse and scoring strategy, with deterministic fallbacks.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runTriage(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "event batch file (YAML or JSON)")
	runCmd.Flags().StringVar(&runDBPath, "db", "", "dedup-state database path (defaults to TRIAGE_DB)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "max concurrent groups (overrides TRIAGE_MAX_CONCURRENT_GROUPS)")
	runCmd.Flags().BoolVar(&runNoAI, "no-ai", false, "skip the completion service even when ANTHROPIC_API_KEY is set")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}

func runTriage() error {
	events, err := loadEvents(runInput)
	if err != nil {
		return err
	}

	cfg := triage.LoadFromEnv()
	if runConcurrency > 0 {
		cfg.MaxConcurrentGroups = runConcurrency
	}

	dbPath := runDBPath
	if dbPath == "" {
		dbPath = os.Getenv("TRIAGE_DB")
	}
	var store storage.StateStore = storage.NullStore{}
	if dbPath != "" {
		s, err := sqlite.New(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open dedup store: %w", err)
		}
		defer s.Close()
		store = s
	} else {
		fmt.Fprintln(os.Stderr, "Warning: no dedup store configured (--db or TRIAGE_DB); every group is treated as new")
	}

	deps := triage.Dependencies{
		Tracker: &consoleTracker{out: os.Stdout},
		Store:   store,
	}

	if !runNoAI && os.Getenv("ANTHROPIC_API_KEY") != "" {
		client, err := ai.NewClient(&ai.Config{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: completion service unavailable, using deterministic strategies: %v\n", err)
		} else {
			deps.Parser = &triage.FallbackParser{Primary: aiParser{client}}
			deps.Scorer = &triage.FallbackScorer{Primary: aiScorer{client}}
		}
	}

	orchestrator, err := triage.New(cfg, deps)
	if err != nil {
		return err
	}

	summary, err := orchestrator.Run(context.Background(), events)
	if err != nil {
		return err
	}

	printSummary(summary)
	return nil
}

// batchFile is the on-disk batch format: a top-level events list, or a
// bare list of events.
type batchFile struct {
	Events []types.LogEvent `json:"events" yaml:"events"`
}

func loadEvents(path string) ([]types.LogEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	unmarshal := yaml.Unmarshal
	if strings.EqualFold(filepath.Ext(path), ".json") {
		unmarshal = json.Unmarshal
	}

	var batch batchFile
	if err := unmarshal(data, &batch); err == nil && len(batch.Events) > 0 {
		return batch.Events, nil
	}

	var events []types.LogEvent
	if err := unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	return events, nil
}

// aiParser and aiScorer adapt the completion-service client to the
// orchestrator's strategy interfaces.
type aiParser struct{ client *ai.Client }

func (p aiParser) Parse(ctx context.Context, payload []byte) (*types.DiagnosticRecord, error) {
	return p.client.ExtractDiagnostic(ctx, payload)
}

type aiScorer struct{ client *ai.Client }

func (s aiScorer) Score(ctx context.Context, commits []types.Commit, kws keywords.Set, errCtx scoring.ErrorContext) ([]types.ScoredCommit, error) {
	return s.client.ScoreCommits(ctx, commits, kws, errCtx)
}

// consoleTracker renders tickets to stdout instead of an issue tracker.
// The wire client for a real tracker plugs in behind the same interface.
type consoleTracker struct {
	out  io.Writer
	mu   sync.Mutex
	next int
}

func (t *consoleTracker) CreateTicket(ctx context.Context, data types.TriageData) (types.TicketRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	key := fmt.Sprintf("TRIAGE-%d", t.next)

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(t.out, "\n%s %s\n", cyan("=== Ticket"), cyan(key+" ==="))
	fmt.Fprintf(t.out, "Signature:   %s\n", data.ErrorSignature)
	fmt.Fprintf(t.out, "Occurrences: %d (first seen %s)\n", data.ErrorCount, data.FirstSeen.Format(time.RFC3339))
	if data.ServiceName != "" {
		fmt.Fprintf(t.out, "Service:     %s (%s)\n", data.ServiceName, data.Environment)
	}
	if data.DeploymentInfo != nil {
		fmt.Fprintf(t.out, "Deployed:    %s at %s (%s)\n",
			data.DeploymentInfo.Version,
			data.DeploymentInfo.DeployedAt.Format(time.RFC3339),
			shortHash(data.DeploymentInfo.CommitHash))
	}
	fmt.Fprintf(t.out, "Message:     %s\n", data.ErrorMessage)

	if len(data.SuspectedCommits) == 0 {
		fmt.Fprintf(t.out, "\nNo suspected commits in the lookback window.\n")
		return types.TicketRef{IssueKey: key}, nil
	}

	fmt.Fprintf(t.out, "\n%s\n", yellow("Suspected commits:"))
	for i, sc := range data.SuspectedCommits {
		if i >= 5 {
			fmt.Fprintf(t.out, "  ... and %d more\n", len(data.SuspectedCommits)-i)
			break
		}
		fmt.Fprintf(t.out, "  %s %s %s\n",
			scoreColor(sc.RelevanceScore).Sprintf("[%5.1f]", sc.RelevanceScore),
			shortHash(sc.Commit.Hash),
			sc.Commit.Title())
		fmt.Fprintf(t.out, "          %s", sc.Reasoning)
		if sc.RollbackRisk != "" {
			fmt.Fprintf(t.out, " (rollback risk: %s)", sc.RollbackRisk)
		}
		fmt.Fprintln(t.out)
		if sc.Commit.PullRequestURL != "" {
			fmt.Fprintf(t.out, "          %s\n", sc.Commit.PullRequestURL)
		}
	}

	return types.TicketRef{IssueKey: key}, nil
}

func scoreColor(score float64) *color.Color {
	switch {
	case score >= 60:
		return color.New(color.FgRed, color.Bold)
	case score >= 30:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgWhite)
	}
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

func printSummary(summary *triage.Summary) {
	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()

	fmt.Printf("\n%s\n", cyan("=== Run Summary ==="))
	fmt.Printf("Run ID:     %s\n", summary.RunID)
	fmt.Printf("Events:     %d in %d groups\n", summary.TotalEvents, summary.TotalGroups)
	fmt.Printf("Tickets:    %s\n", green(fmt.Sprintf("%d created", summary.NewlyProcessed)))
	fmt.Printf("Duplicates: %d skipped\n", summary.SkippedDuplicates)
	if summary.Failed > 0 {
		red := color.New(color.FgRed, color.Bold).SprintFunc()
		fmt.Printf("Failed:     %s\n", red(fmt.Sprintf("%d groups", summary.Failed)))
	}
}
