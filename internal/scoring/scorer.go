// Package scoring ranks candidate commits by how likely each is to be the
// root cause of an error. The score is an additive sum of independent
// signal contributions and is a relative ranking signal, not a
// probability: it is not normalized to a fixed maximum.
package scoring

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/opsdrift/triage/internal/keywords"
	"github.com/opsdrift/triage/internal/types"
)

// Signal weights. File matches dominate, recency favors rollback
// candidates, and pattern bonuses fire independently of keyword overlap.
const (
	weightExactFileMatch     = 30
	weightFileContainment    = 15
	weightPathSubstring      = 8
	weightMessageMatch       = 10
	weightMethodShapedMatch  = 15
	weightTitleMatch         = 5
	weightContextualKeyword  = 5
	weightRiskPattern        = 20
	weightFixPattern         = 10
	weightSharedTerm         = 5
	weightRecencyOneDay      = 25
	weightRecencyThreeDays   = 15
	weightRecencySevenDays   = 8
)

// ErrorContext carries the error text the scorer classifies and matches
// shared terms against.
type ErrorContext struct {
	Message       string
	ExceptionType string
}

var (
	sourceFileKeywordRegex = regexp.MustCompile(`^[\w-]+\.(cs|go|java|py|js|ts|tsx|rb|cpp|kt|sql)$`)
	lowerCamelRegex        = regexp.MustCompile(`^[a-z]+[A-Z]`)

	riskPatternRegex = regexp.MustCompile(`(?i)refactor|rewrite|breaking change|\bauth\b|security|middleware|pipeline|migration`)
	fixPatternRegex  = regexp.MustCompile(`(?i)\bfix\b|\bresolve\b|\bpatch\b|\bcorrect\b|\baddress\b|\bhandle\b`)
)

// sharedErrorTerms earn a small bonus when present in both the commit
// text and the original error text.
var sharedErrorTerms = []string{"error", "exception", "fail", "bug", "crash", "fault", "panic"}

// Score ranks candidateCommits against the keyword set and error context.
// The result is sorted by descending score; ties preserve input order
// (stable sort). Given identical inputs and a fixed now, the output is
// deterministic. Commits with score 0 are included; callers may drop them.
func Score(candidateCommits []types.Commit, kws keywords.Set, errCtx ErrorContext, now time.Time) []types.ScoredCommit {
	category := Classify(errCtx)
	sortedKeywords := kws.Sorted()

	scored := make([]types.ScoredCommit, 0, len(candidateCommits))
	for _, commit := range candidateCommits {
		score, reasons := scoreCommit(commit, sortedKeywords, errCtx, category, now)
		reasoning := "no matching signals"
		if len(reasons) > 0 {
			reasoning = strings.Join(reasons, "; ")
		}
		scored = append(scored, types.ScoredCommit{
			Commit:         commit,
			RelevanceScore: score,
			Reasoning:      reasoning,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RelevanceScore > scored[j].RelevanceScore
	})
	return scored
}

func scoreCommit(commit types.Commit, sortedKeywords []string, errCtx ErrorContext, category Category, now time.Time) (float64, []string) {
	var score float64
	var reasons []string

	messageLower := strings.ToLower(commit.Message)
	titleLower := strings.ToLower(commit.Title())
	commitText := messageLower + " " + strings.ToLower(strings.Join(commit.ChangedFiles, " "))
	errorText := strings.ToLower(errCtx.ExceptionType + " " + errCtx.Message)

	// File-match signals: exact filename beats containment beats raw path
	// substring.
	fileMatches := 0
	for _, kw := range sortedKeywords {
		kwIsFile := sourceFileKeywordRegex.MatchString(kw)
		kwStem := strings.ToLower(stripExtension(kw))
		for _, changed := range commit.ChangedFiles {
			changedName := strings.ToLower(stripExtension(baseName(changed)))
			switch {
			case kwStem == changedName:
				score += weightExactFileMatch
				fileMatches++
			case kwIsFile && (strings.Contains(changedName, kwStem) || strings.Contains(kwStem, changedName)):
				score += weightFileContainment
				fileMatches++
			case strings.Contains(strings.ToLower(changed), strings.ToLower(kw)):
				score += weightPathSubstring
				fileMatches++
			}
		}
	}
	if fileMatches > 0 {
		reasons = append(reasons, fmt.Sprintf("%d changed-file match(es)", fileMatches))
	}

	// Message/method-match signals.
	messageMatches := 0
	for _, kw := range sortedKeywords {
		kwLower := strings.ToLower(kw)
		if !strings.Contains(messageLower, kwLower) {
			continue
		}
		messageMatches++
		if looksLikeMethod(kw) {
			score += weightMethodShapedMatch
		} else {
			score += weightMessageMatch
		}
		if strings.Contains(titleLower, kwLower) {
			score += weightTitleMatch
		}
	}
	if messageMatches > 0 {
		reasons = append(reasons, fmt.Sprintf("%d keyword(s) in commit message", messageMatches))
	}

	// Category-contextual keywords.
	contextual := 0
	for _, kw := range contextualKeywords[category] {
		if strings.Contains(commitText, kw) {
			score += weightContextualKeyword
			contextual++
		}
	}
	if contextual > 0 {
		reasons = append(reasons, fmt.Sprintf("%d %s-context keyword(s)", contextual, category))
	}

	// Risk and fix intent patterns, independent of keyword overlap.
	if riskPatternRegex.MatchString(commit.Message) {
		score += weightRiskPattern
		reasons = append(reasons, "risky change pattern")
	}
	if fixPatternRegex.MatchString(commit.Message) {
		score += weightFixPattern
		reasons = append(reasons, "fix-intent pattern")
	}

	// Shared generic error terms.
	for _, term := range sharedErrorTerms {
		if strings.Contains(commitText, term) && strings.Contains(errorText, term) {
			score += weightSharedTerm
			reasons = append(reasons, "shared error term "+term)
			break
		}
	}

	// Recency: recent commits are better rollback candidates.
	age := now.Sub(commit.Date)
	switch {
	case age <= 24*time.Hour:
		score += weightRecencyOneDay
		reasons = append(reasons, "committed within 1 day")
	case age <= 3*24*time.Hour:
		score += weightRecencyThreeDays
		reasons = append(reasons, "committed within 3 days")
	case age <= 7*24*time.Hour:
		score += weightRecencySevenDays
		reasons = append(reasons, "committed within 7 days")
	}

	return score, reasons
}

// looksLikeMethod reports whether a keyword is shaped like a method
// identifier: lowerCamel, or carrying call parentheses.
func looksLikeMethod(kw string) bool {
	return lowerCamelRegex.MatchString(kw) || strings.Contains(kw, "(")
}

func stripExtension(name string) string {
	if idx := strings.LastIndexByte(name, '.'); idx > 0 {
		return name[:idx]
	}
	return name
}

func baseName(filePath string) string {
	filePath = strings.ReplaceAll(filePath, `\`, "/")
	if idx := strings.LastIndexByte(filePath, '/'); idx >= 0 {
		return filePath[idx+1:]
	}
	return filePath
}
