package triage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/opsdrift/triage/internal/keywords"
	"github.com/opsdrift/triage/internal/parser"
	"github.com/opsdrift/triage/internal/scoring"
	"github.com/opsdrift/triage/internal/types"
)

// Fallback-on-failure control flow, made explicit in types: a fallible
// primary strategy is composed with a guaranteed-succeeding secondary, so
// the "always produces output" contract is visible in the signature of
// the composed strategy rather than hidden in exception handling.

// DiagnosticParser is a fallible parse strategy for raw event payloads.
// The completion-service extractor implements this.
type DiagnosticParser interface {
	Parse(ctx context.Context, payload []byte) (*types.DiagnosticRecord, error)
}

// CommitScorer is a fallible scoring strategy. The completion-service
// scorer implements this.
type CommitScorer interface {
	Score(ctx context.Context, commits []types.Commit, kws keywords.Set, errCtx scoring.ErrorContext) ([]types.ScoredCommit, error)
}

// FallbackParser tries the optional primary strategy and falls back to
// the deterministic structural parser. The structural parser itself can
// still reject a malformed payload, which the caller treats as "no
// structured record" for that event.
type FallbackParser struct {
	Primary DiagnosticParser // optional
}

// Parse returns the primary strategy's record when it succeeds, otherwise
// the deterministic parser's.
func (f *FallbackParser) Parse(ctx context.Context, payload []byte) (*types.DiagnosticRecord, error) {
	if f.Primary != nil {
		record, err := f.Primary.Parse(ctx, payload)
		if err == nil {
			return record, nil
		}
		fmt.Fprintf(os.Stderr, "primary parse strategy failed, using structural parser: %v\n", err)
	}
	return parser.Parse(payload)
}

// FallbackScorer composes the optional completion-service scorer with the
// heuristic scorer. Score is total: it always produces a ranking.
type FallbackScorer struct {
	Primary CommitScorer     // optional
	Now     func() time.Time // injected for deterministic recency scoring
}

// Score ranks commits, never failing. A primary-strategy failure is
// logged and answered by the heuristic scorer.
func (f *FallbackScorer) Score(ctx context.Context, commits []types.Commit, kws keywords.Set, errCtx scoring.ErrorContext) []types.ScoredCommit {
	if f.Primary != nil {
		scored, err := f.Primary.Score(ctx, commits, kws, errCtx)
		if err == nil {
			return scored
		}
		fmt.Fprintf(os.Stderr, "primary scoring strategy failed, using heuristic scorer: %v\n", err)
	}

	now := time.Now()
	if f.Now != nil {
		now = f.Now()
	}
	return scoring.Score(commits, kws, errCtx, now)
}
