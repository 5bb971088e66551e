// Package triage sequences the error-triage pipeline: group raw events
// by normalized signature, skip already-ticketed groups, gather commit
// and deployment context, score suspect commits, and file one ticket per
// new error group.
package triage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/opsdrift/triage/internal/keywords"
	"github.com/opsdrift/triage/internal/scoring"
	"github.com/opsdrift/triage/internal/signature"
	"github.com/opsdrift/triage/internal/storage"
	"github.com/opsdrift/triage/internal/types"
)

// pullRequestLookups caps how many top-scored commits get a PR-URL
// resolution call per group.
const pullRequestLookups = 3

// Orchestrator runs the per-batch triage pipeline.
type Orchestrator struct {
	cfg         Config
	tracker     Tracker
	scm         SourceControl
	deployments DeploymentRegistry
	store       storage.StateStore
	parser      *FallbackParser
	scorer      *FallbackScorer
	now         func() time.Time
}

// Dependencies holds the orchestrator's collaborators. Tracker is
// required; everything else degrades gracefully when absent.
type Dependencies struct {
	Tracker       Tracker
	SourceControl SourceControl
	Deployments   DeploymentRegistry
	Store         storage.StateStore
	Parser        *FallbackParser
	Scorer        *FallbackScorer
	Now           func() time.Time
}

// New creates an orchestrator. Configuration is threaded in explicitly;
// no collaborator call reads ambient process state.
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}

	store := deps.Store
	if store == nil {
		store = storage.NullStore{}
	}
	parserStrategy := deps.Parser
	if parserStrategy == nil {
		parserStrategy = &FallbackParser{}
	}
	scorerStrategy := deps.Scorer
	if scorerStrategy == nil {
		scorerStrategy = &FallbackScorer{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if scorerStrategy.Now == nil {
		scorerStrategy.Now = now
	}

	return &Orchestrator{
		cfg:         cfg,
		tracker:     deps.Tracker,
		scm:         deps.SourceControl,
		deployments: deps.Deployments,
		store:       store,
		parser:      parserStrategy,
		scorer:      scorerStrategy,
		now:         now,
	}, nil
}

// Summary reports the outcome of one batch run. It is always produced,
// even when every group fails.
type Summary struct {
	RunID             string            `json:"run_id"`
	TotalEvents       int               `json:"total_events"`
	TotalGroups       int               `json:"total_groups"`
	NewlyProcessed    int               `json:"newly_processed"`
	SkippedDuplicates int               `json:"skipped_duplicates"`
	Failed            int               `json:"failed"`
	Tickets           []types.TicketRef `json:"tickets"`
}

// group is one error signature's slice of the batch, in insertion order
// of first occurrence.
type group struct {
	signature string
	events    []types.LogEvent
}

type groupOutcome int

const (
	outcomeProcessed groupOutcome = iota
	outcomeSkipped
	outcomeFailed
)

// Run executes the pipeline over one event batch. It fails fast on
// validation errors before any network I/O; afterwards no single group's
// failure prevents the summary.
func (o *Orchestrator) Run(ctx context.Context, events []types.LogEvent) (*Summary, error) {
	if err := validateBatch(events); err != nil {
		return nil, err
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	groups := groupBySignature(events)

	summary := &Summary{
		RunID:       uuid.NewString(),
		TotalEvents: len(events),
		TotalGroups: len(groups),
	}

	var mu sync.Mutex
	record := func(outcome groupOutcome, ticket types.TicketRef) {
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case outcomeProcessed:
			summary.NewlyProcessed++
			summary.Tickets = append(summary.Tickets, ticket)
		case outcomeSkipped:
			summary.SkippedDuplicates++
		case outcomeFailed:
			summary.Failed++
		}
	}

	if o.cfg.MaxConcurrentGroups > 1 {
		// Groups are independent after the Group step; per-group step
		// ordering is preserved inside processGroup.
		sem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrentGroups))
		var wg sync.WaitGroup
		for _, g := range groups {
			if err := sem.Acquire(ctx, 1); err != nil {
				record(outcomeFailed, types.TicketRef{})
				continue
			}
			wg.Add(1)
			go func(g group) {
				defer wg.Done()
				defer sem.Release(1)
				outcome, ticket := o.processGroup(ctx, g)
				record(outcome, ticket)
			}(g)
		}
		wg.Wait()
	} else {
		for _, g := range groups {
			outcome, ticket := o.processGroup(ctx, g)
			record(outcome, ticket)
		}
	}

	return summary, nil
}

// validateBatch checks the event batch before any work starts.
func validateBatch(events []types.LogEvent) error {
	if len(events) == 0 {
		return &types.ValidationError{Field: "events", Reason: "batch is empty"}
	}
	for i, ev := range events {
		if ev.Time.IsZero() {
			return &types.ValidationError{
				Field:  fmt.Sprintf("events[%d].time", i),
				Reason: "missing timestamp",
			}
		}
		if ev.Message == "" {
			return &types.ValidationError{
				Field:  fmt.Sprintf("events[%d].message", i),
				Reason: "missing message",
			}
		}
	}
	return nil
}

// groupBySignature partitions events by normalized signature. Group order
// is insertion order of each signature's first occurrence.
func groupBySignature(events []types.LogEvent) []group {
	index := make(map[string]int)
	var groups []group
	for _, ev := range events {
		sig := signature.Normalize(ev.Message)
		if at, ok := index[sig]; ok {
			groups[at].events = append(groups[at].events, ev)
			continue
		}
		index[sig] = len(groups)
		groups = append(groups, group{signature: sig, events: []types.LogEvent{ev}})
	}
	return groups
}

// processGroup runs CheckDedup, GatherContext, Score, BuildPayload,
// CreateTicket, and MarkProcessed for one group, in that order.
func (o *Orchestrator) processGroup(ctx context.Context, g group) (groupOutcome, types.TicketRef) {
	// CheckDedup. A lookup failure is resolved by the configured policy
	// rather than crashing the group.
	dedupCtx, cancel := o.callContext(ctx)
	processed, err := o.store.IsProcessed(dedupCtx, g.signature)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dedup lookup failed for %q (%s policy applies): %v\n",
			g.signature, o.cfg.DedupPolicy, err)
		processed = o.cfg.DedupPolicy != DedupFailOpen
	}
	if processed {
		return outcomeSkipped, types.TicketRef{}
	}

	representative := g.events[0]
	firstSeen := representative.Time
	for _, ev := range g.events[1:] {
		if ev.Time.Before(firstSeen) {
			firstSeen = ev.Time
		}
	}

	kws, errCtx := o.gatherDiagnostics(ctx, representative)
	deployment := o.lookupDeployment(ctx, representative, firstSeen)
	commits := o.fetchCommits(ctx)

	scored := o.scorer.Score(ctx, commits, kws, errCtx)
	scored = dropZeroScores(scored)
	o.resolvePullRequests(ctx, scored)

	data := types.TriageData{
		ErrorSignature:   g.signature,
		ErrorCount:       len(g.events),
		ErrorMessage:     representative.Message,
		FirstSeen:        firstSeen,
		SuspectedCommits: scored,
		ServiceName:      representative.ServiceName,
		Environment:      representative.Environment,
		DeploymentInfo:   deployment,
	}

	// CreateTicket. Failure abandons this group with no state mutation.
	ticketCtx, cancel := o.callContext(ctx)
	ticket, err := o.tracker.CreateTicket(ticketCtx, data)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "abandoning group %q: %v\n",
			g.signature, &types.TicketCreationError{Signature: g.signature, Err: err})
		return outcomeFailed, types.TicketRef{}
	}

	// MarkProcessed. A write failure leaves the ticket standing; the
	// inconsistency window is accepted and logged.
	markCtx, cancel := o.callContext(ctx)
	err = o.store.MarkProcessed(markCtx, types.ProcessingRecord{
		ErrorSignature: g.signature,
		TicketKey:      ticket.IssueKey,
		ServiceName:    representative.ServiceName,
		Environment:    representative.Environment,
		ErrorCount:     len(g.events),
		FirstSeen:      firstSeen,
	})
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ticket %s created but state write failed for %q: %v\n",
			ticket.IssueKey, g.signature, err)
	}

	return outcomeProcessed, ticket
}

// gatherDiagnostics derives the keyword set and error context for a
// group's representative event. When the event carries a structured raw
// payload, the parse strategy enriches both; a malformed payload just
// means text-only keywords.
func (o *Orchestrator) gatherDiagnostics(ctx context.Context, ev types.LogEvent) (keywords.Set, scoring.ErrorContext) {
	kws := keywords.Extract(ev.Message)
	errCtx := scoring.ErrorContext{Message: ev.Message}

	if ev.Source == "" {
		return kws, errCtx
	}

	parseCtx, cancel := o.callContext(ctx)
	defer cancel()
	record, err := o.parser.Parse(parseCtx, []byte(ev.Source))
	if err != nil {
		fmt.Fprintf(os.Stderr, "structured parse failed, using message text only: %v\n", err)
		return kws, errCtx
	}

	errCtx.Message = record.ErrorMessage
	errCtx.ExceptionType = record.ExceptionType
	for _, kw := range record.SearchKeywords.Files {
		kws[kw] = true
	}
	for _, kw := range record.SearchKeywords.Methods {
		kws[kw] = true
	}
	for _, kw := range record.SearchKeywords.Context {
		kws[kw] = true
	}
	return kws, errCtx
}

// lookupDeployment fetches the deployment active at first occurrence.
// Failure is non-fatal: the ticket just omits deployment info.
func (o *Orchestrator) lookupDeployment(ctx context.Context, ev types.LogEvent, firstSeen time.Time) *types.DeploymentInfo {
	if o.deployments == nil || ev.ServiceName == "" {
		return nil
	}

	depCtx, cancel := o.callContext(ctx)
	defer cancel()
	deployment, err := o.deployments.DeployedCommitAt(depCtx, ev.ServiceName, ev.Environment, firstSeen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "deployment lookup failed: %v\n",
			&types.CollaboratorError{Collaborator: "deployment registry", Err: err})
		return nil
	}
	return deployment
}

// fetchCommits lists candidate commits in the lookback window. Failure
// is non-fatal: scoring proceeds with an empty candidate list.
func (o *Orchestrator) fetchCommits(ctx context.Context) []types.Commit {
	if o.scm == nil || o.cfg.Repository == "" {
		return nil
	}

	lookback := o.cfg.LookbackDays
	if lookback == 0 {
		lookback = defaultLookbackDays
	}
	since := o.now().AddDate(0, 0, -lookback)

	scmCtx, cancel := o.callContext(ctx)
	defer cancel()
	commits, err := o.scm.CommitsSince(scmCtx, o.cfg.Repository, since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "commit fetch failed, continuing without commit context: %v\n",
			&types.CollaboratorError{Collaborator: "source control", Err: err})
		return nil
	}
	return commits
}

// resolvePullRequests fills in PR URLs for the top-scored commits that
// lack one. Lookup failures are ignored.
func (o *Orchestrator) resolvePullRequests(ctx context.Context, scored []types.ScoredCommit) {
	if o.scm == nil || o.cfg.Repository == "" {
		return
	}
	for i := range scored {
		if i >= pullRequestLookups {
			break
		}
		if scored[i].Commit.PullRequestURL != "" {
			continue
		}
		prCtx, cancel := o.callContext(ctx)
		url, err := o.scm.PullRequestFor(prCtx, o.cfg.Repository, scored[i].Commit.Hash)
		cancel()
		if err == nil && url != "" {
			scored[i].Commit.PullRequestURL = url
		}
	}
}

func dropZeroScores(scored []types.ScoredCommit) []types.ScoredCommit {
	kept := scored[:0]
	for _, sc := range scored {
		if sc.RelevanceScore > 0 {
			kept = append(kept, sc)
		}
	}
	return kept
}

// callContext applies the per-external-call timeout when configured.
func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, o.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}
