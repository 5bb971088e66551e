package triage

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/opsdrift/triage/internal/types"
)

// DedupPolicy decides how a dedup-state lookup failure is treated. The
// conservative default treats the signature as already processed, which
// avoids ticket spam at the cost of possibly missing a new incident;
// fail-open does the opposite.
type DedupPolicy string

const (
	DedupFailClosed DedupPolicy = "fail-closed" // lookup failure => skip group
	DedupFailOpen   DedupPolicy = "fail-open"   // lookup failure => triage group
)

const (
	defaultLookbackDays = 7
	defaultCallTimeout  = 30 * time.Second
)

var repoRegex = regexp.MustCompile(`^[\w.-]+/[\w.-]+$`)

// Config holds all orchestrator settings. It is threaded explicitly into
// the constructor; no collaborator reads ambient process state.
type Config struct {
	ProjectKey          string        // issue-tracker project for created tickets
	Repository          string        // owner/name of the repository to correlate against
	LookbackDays        int           // how far back to fetch candidate commits (1-30)
	CallTimeout         time.Duration // per-external-call timeout
	DedupPolicy         DedupPolicy   // dedup lookup-failure behavior
	MaxConcurrentGroups int           // 0 or 1 = strictly sequential groups
}

// LoadFromEnv builds a Config from TRIAGE_* environment variables,
// applying defaults for anything unset.
func LoadFromEnv() Config {
	cfg := Config{
		ProjectKey:   os.Getenv("TRIAGE_PROJECT_KEY"),
		Repository:   os.Getenv("TRIAGE_REPOSITORY"),
		LookbackDays: defaultLookbackDays,
		CallTimeout:  defaultCallTimeout,
		DedupPolicy:  DedupFailClosed,
	}

	if v := os.Getenv("TRIAGE_LOOKBACK_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.LookbackDays = days
		}
	}
	if v := os.Getenv("TRIAGE_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CallTimeout = d
		}
	}
	if v := os.Getenv("TRIAGE_DEDUP_POLICY"); v == string(DedupFailOpen) {
		cfg.DedupPolicy = DedupFailOpen
	}
	if v := os.Getenv("TRIAGE_MAX_CONCURRENT_GROUPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentGroups = n
		}
	}

	return cfg
}

// Validate checks batch-level configuration. Called before any network
// I/O; a failure here aborts the whole run.
func (c Config) Validate() error {
	if c.Repository != "" && !repoRegex.MatchString(c.Repository) {
		return &types.ValidationError{
			Field:  "repository",
			Reason: fmt.Sprintf("%q does not match owner/name", c.Repository),
		}
	}
	if c.LookbackDays != 0 && (c.LookbackDays < 1 || c.LookbackDays > 30) {
		return &types.ValidationError{
			Field:  "lookback_days",
			Reason: fmt.Sprintf("%d is outside [1, 30]", c.LookbackDays),
		}
	}
	switch c.DedupPolicy {
	case "", DedupFailClosed, DedupFailOpen:
	default:
		return &types.ValidationError{
			Field:  "dedup_policy",
			Reason: fmt.Sprintf("unknown policy %q", c.DedupPolicy),
		}
	}
	return nil
}
