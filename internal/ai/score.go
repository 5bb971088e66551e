package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/opsdrift/triage/internal/keywords"
	"github.com/opsdrift/triage/internal/scoring"
	"github.com/opsdrift/triage/internal/types"
)

const scoreSystemPrompt = `You are an incident-triage assistant. You rank recent code changes by how likely each is to be the root cause of a production error. Respond with ONLY raw JSON, never markdown code fences.`

// aiScoredCommit is the structured-output contract for one scored commit.
type aiScoredCommit struct {
	CommitHash     string   `json:"commit_hash"`
	RelevanceScore float64  `json:"relevance_score"` // 0-100
	Reasoning      string   `json:"reasoning"`
	RollbackRisk   string   `json:"rollback_risk"` // HIGH, MEDIUM, LOW
	KeyFactors     []string `json:"key_factors"`
}

// ScoreCommits asks the completion service to rank candidate commits
// against the error context. It is a drop-in substitute for the heuristic
// scorer and returns the same shape, sorted by descending score with ties
// preserving input order. Any failure returns an error so the caller can
// fall back to the deterministic scorer.
func (c *Client) ScoreCommits(ctx context.Context, candidates []types.Commit, kws keywords.Set, errCtx scoring.ErrorContext) ([]types.ScoredCommit, error) {
	if len(candidates) == 0 {
		return []types.ScoredCommit{}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `Rank these commits by how likely each is to be the root cause of this error.

ERROR:
Type: %s
Message: %s
Keywords: %s

CANDIDATE COMMITS:
`, errCtx.ExceptionType, errCtx.Message, strings.Join(kws.Sorted(), ", "))

	for i, commit := range candidates {
		fmt.Fprintf(&sb, "\n[%d] hash: %s\n    date: %s\n    message: %s\n    changed files: %s\n",
			i+1, commit.Hash, commit.Date.Format("2006-01-02"), commit.Title(),
			strings.Join(commit.ChangedFiles, ", "))
	}

	sb.WriteString(`
OUTPUT FORMAT (JSON only, no markdown): one entry per commit, any order:
{
  "results": [
    {
      "commit_hash": "hash from the list above",
      "relevance_score": 0-100,
      "reasoning": "one sentence explaining the ranking",
      "rollback_risk": "HIGH" | "MEDIUM" | "LOW",
      "key_factors": ["short factor labels"]
    }
  ]
}`)

	maxTokens := len(candidates)*150 + 200
	if maxTokens < 1000 {
		maxTokens = 1000
	}
	if maxTokens > 4000 {
		maxTokens = 4000
	}

	responseText, err := c.CallAI(ctx, scoreSystemPrompt, sb.String(), "commit_scoring", maxTokens)
	if err != nil {
		return nil, &types.CollaboratorError{Collaborator: "completion service", Err: err}
	}

	type scoreResponse struct {
		Results []aiScoredCommit `json:"results"`
	}
	result := ParseJSON[scoreResponse](responseText, "commit scoring response")
	if !result.Success {
		return nil, &types.CollaboratorError{
			Collaborator: "completion service",
			Err:          fmt.Errorf("unparseable scoring response: %s (response: %s)", result.Error, truncateString(responseText, 200)),
		}
	}

	byHash := make(map[string]aiScoredCommit, len(result.Data.Results))
	for i, r := range result.Data.Results {
		if r.RelevanceScore < 0 || r.RelevanceScore > 100 {
			return nil, &types.CollaboratorError{
				Collaborator: "completion service",
				Err:          fmt.Errorf("invalid relevance score in result %d: %.1f (must be 0-100)", i, r.RelevanceScore),
			}
		}
		switch types.RollbackRisk(r.RollbackRisk) {
		case types.RollbackRiskHigh, types.RollbackRiskMedium, types.RollbackRiskLow:
		default:
			return nil, &types.CollaboratorError{
				Collaborator: "completion service",
				Err:          fmt.Errorf("invalid rollback risk in result %d: %q", i, r.RollbackRisk),
			}
		}
		byHash[r.CommitHash] = r
	}

	// Require at least half coverage; below that the ranking would give
	// false confidence about commits never actually compared.
	if len(byHash) < (len(candidates)+1)/2 {
		return nil, &types.CollaboratorError{
			Collaborator: "completion service",
			Err:          fmt.Errorf("insufficient results: got %d, expected %d", len(byHash), len(candidates)),
		}
	}

	scored := make([]types.ScoredCommit, 0, len(candidates))
	for _, commit := range candidates {
		r, ok := byHash[commit.Hash]
		if !ok {
			continue
		}
		scored = append(scored, types.ScoredCommit{
			Commit:         commit,
			RelevanceScore: r.RelevanceScore,
			Reasoning:      r.Reasoning,
			RollbackRisk:   types.RollbackRisk(r.RollbackRisk),
			KeyFactors:     r.KeyFactors,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RelevanceScore > scored[j].RelevanceScore
	})
	return scored, nil
}
