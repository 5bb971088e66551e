// Package types defines the shared data model for the triage engine.
package types

import (
	"time"
)

// LogEvent is a single raw error occurrence as delivered by the log
// platform. Events are immutable; the orchestrator groups them by
// normalized signature but never rewrites them.
type LogEvent struct {
	Time        time.Time `json:"time" yaml:"time"`
	Message     string    `json:"message" yaml:"message"`
	Source      string    `json:"source,omitempty" yaml:"source,omitempty"`
	ServiceName string    `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Environment string    `json:"environment,omitempty" yaml:"environment,omitempty"`
	Level       string    `json:"level,omitempty" yaml:"level,omitempty"`
}

// StackFrame is one frame of a parsed stack trace. Line is 0 when the
// frame carried no line number (method-only frames).
type StackFrame struct {
	File   string `json:"file"`
	Method string `json:"method"`
	Line   int    `json:"line"`
}

// SearchKeywords holds the keyword sets derived from a parsed exception,
// split by provenance. Slices preserve order of first appearance.
type SearchKeywords struct {
	Files   []string `json:"files"`
	Methods []string `json:"methods"`
	Context []string `json:"context"`
}

// DiagnosticRecord is the structured form of one parsed exception.
// It is built once per unique raw event and never mutated afterward.
type DiagnosticRecord struct {
	ServiceName    string         `json:"service_name"`
	Environment    string         `json:"environment"`
	Timestamp      time.Time      `json:"timestamp"`
	ErrorMessage   string         `json:"error_message"`
	ExceptionType  string         `json:"exception_type"`
	StackTrace     []StackFrame   `json:"stack_trace"`
	SearchKeywords SearchKeywords `json:"search_keywords"`
}

// Commit is a candidate code change supplied by the source-control
// collaborator. Read-only to this subsystem.
type Commit struct {
	Hash           string    `json:"hash"`
	Message        string    `json:"message"`
	Author         string    `json:"author"`
	Date           time.Time `json:"date"`
	ChangedFiles   []string  `json:"changed_files,omitempty"`
	PullRequestURL string    `json:"pull_request_url,omitempty"`
}

// Title returns the first line of the commit message.
func (c Commit) Title() string {
	for i := 0; i < len(c.Message); i++ {
		if c.Message[i] == '\n' {
			return c.Message[:i]
		}
	}
	return c.Message
}

// RollbackRisk estimates how disruptive reverting a commit would be.
type RollbackRisk string

const (
	RollbackRiskHigh   RollbackRisk = "HIGH"
	RollbackRiskMedium RollbackRisk = "MEDIUM"
	RollbackRiskLow    RollbackRisk = "LOW"
)

// ScoredCommit is a candidate commit with its relevance score and a
// human-readable explanation of which signals fired. Ordering is
// significant: scorers return these sorted by descending score, ties
// preserving input order.
type ScoredCommit struct {
	Commit         Commit       `json:"commit"`
	RelevanceScore float64      `json:"relevance_score"`
	Reasoning      string       `json:"reasoning"`
	RollbackRisk   RollbackRisk `json:"rollback_risk,omitempty"`
	KeyFactors     []string     `json:"key_factors,omitempty"`
}

// DeploymentInfo describes the deployment active when an error group
// first occurred, as reported by the deployment registry.
type DeploymentInfo struct {
	CommitHash  string    `json:"commit_hash"`
	DeployedAt  time.Time `json:"deployed_at"`
	Version     string    `json:"version"`
	Environment string    `json:"environment"`
}

// TriageData is the aggregate payload handed to ticket formatting for one
// error group. It is built per group and discarded after ticket creation.
type TriageData struct {
	ErrorSignature   string          `json:"error_signature"`
	ErrorCount       int             `json:"error_count"`
	ErrorMessage     string          `json:"error_message"`
	FirstSeen        time.Time       `json:"first_seen"`
	SuspectedCommits []ScoredCommit  `json:"suspected_commits"`
	ServiceName      string          `json:"service_name"`
	Environment      string          `json:"environment"`
	DeploymentInfo   *DeploymentInfo `json:"deployment_info,omitempty"`
}

// TicketRef identifies a ticket created in the issue tracker.
type TicketRef struct {
	IssueKey string `json:"issue_key"`
	IssueURL string `json:"issue_url,omitempty"`
}

// ProcessingRecord is the dedup-state entry for one triaged signature.
// A record exists if and only if a ticket was successfully created for
// that signature; records are never updated in place.
type ProcessingRecord struct {
	ErrorSignature string    `json:"error_signature"`
	TicketKey      string    `json:"ticket_key"`
	ServiceName    string    `json:"service_name,omitempty"`
	Environment    string    `json:"environment,omitempty"`
	ErrorCount     int       `json:"error_count,omitempty"`
	FirstSeen      time.Time `json:"first_seen,omitempty"`
}
