package triage

import (
	"context"
	"time"

	"github.com/opsdrift/triage/internal/types"
)

// External collaborators consumed by the orchestrator. All of them are
// allowed to fail: the pipeline degrades to partial context rather than
// aborting a batch (the state store is consulted per the configured
// dedup policy instead).

// Tracker creates tickets in the issue tracker.
type Tracker interface {
	// CreateTicket files a triage ticket and returns its reference.
	CreateTicket(ctx context.Context, data types.TriageData) (types.TicketRef, error)
}

// SourceControl fetches candidate commits from the source-control host.
// Implementations fail soft: forbidden or missing repositories yield an
// empty commit list, not an error.
type SourceControl interface {
	// CommitsSince lists commits to repo (owner/name) since the given time.
	CommitsSince(ctx context.Context, repo string, since time.Time) ([]types.Commit, error)

	// PullRequestFor resolves the pull-request URL for a commit, or ""
	// when none exists.
	PullRequestFor(ctx context.Context, repo, commitHash string) (string, error)
}

// DeploymentRegistry resolves which commit was deployed for a service at
// a point in time.
type DeploymentRegistry interface {
	DeployedCommitAt(ctx context.Context, service, environment string, at time.Time) (*types.DeploymentInfo, error)
}
