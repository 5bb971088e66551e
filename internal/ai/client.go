// Package ai provides the completion-service collaborator: an alternate
// parsing and scoring strategy backed by the Anthropic API, with retry,
// circuit breaking, and resilient JSON handling. Every caller composes
// these strategies with a deterministic fallback, so a completion failure
// never propagates as a fatal error.
package ai

import (
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	// ModelDefault handles extraction and scoring calls.
	ModelDefault = "claude-sonnet-4-5-20250929"

	// ModelLight is the cost-efficient model for short extraction calls.
	ModelLight = "claude-3-5-haiku-20241022"
)

// GetDefaultModel returns the completion model, honoring the
// TRIAGE_MODEL env var override.
func GetDefaultModel() string {
	if model := os.Getenv("TRIAGE_MODEL"); model != "" {
		return model
	}
	return ModelDefault
}

// Client wraps the Anthropic API with retry, circuit breaking, a
// concurrency cap, and a request rate limiter.
type Client struct {
	client         *anthropic.Client
	model          string
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
	limiter        *rate.Limiter
}

// Config holds completion-client configuration.
type Config struct {
	APIKey            string      // If empty, reads ANTHROPIC_API_KEY
	Model             string      // Default: GetDefaultModel()
	Retry             RetryConfig // Defaults via DefaultRetryConfig()
	RequestsPerSecond float64     // Rate limit (0 = unlimited)
}

// NewClient creates a completion-service client.
func NewClient(cfg *Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}

	retryCfg := cfg.Retry
	if retryCfg.MaxRetries == 0 {
		retryCfg = DefaultRetryConfig()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	var circuitBreaker *CircuitBreaker
	if retryCfg.CircuitBreakerEnabled {
		circuitBreaker = NewCircuitBreaker(
			retryCfg.FailureThreshold,
			retryCfg.SuccessThreshold,
			retryCfg.OpenTimeout,
		)
	}

	var concurrencySem *semaphore.Weighted
	if retryCfg.MaxConcurrentCalls > 0 {
		concurrencySem = semaphore.NewWeighted(int64(retryCfg.MaxConcurrentCalls))
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		client:         &client,
		model:          model,
		retry:          retryCfg,
		circuitBreaker: circuitBreaker,
		concurrencySem: concurrencySem,
		limiter:        limiter,
	}, nil
}
