package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdrift/triage/internal/types"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type stubTracker struct {
	mu      sync.Mutex
	created []types.TriageData
	err     error
}

func (s *stubTracker) CreateTicket(ctx context.Context, data types.TriageData) (types.TicketRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return types.TicketRef{}, s.err
	}
	s.created = append(s.created, data)
	return types.TicketRef{IssueKey: fmt.Sprintf("OPS-%d", len(s.created))}, nil
}

type stubSourceControl struct {
	commits []types.Commit
	err     error
	prURLs  map[string]string
}

func (s *stubSourceControl) CommitsSince(ctx context.Context, repo string, since time.Time) ([]types.Commit, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.commits, nil
}

func (s *stubSourceControl) PullRequestFor(ctx context.Context, repo, commitHash string) (string, error) {
	return s.prURLs[commitHash], nil
}

type stubDeployments struct {
	info *types.DeploymentInfo
	err  error
}

func (s *stubDeployments) DeployedCommitAt(ctx context.Context, service, environment string, at time.Time) (*types.DeploymentInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.info, nil
}

type memoryStore struct {
	mu        sync.Mutex
	records   map[string]types.ProcessingRecord
	lookupErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]types.ProcessingRecord)}
}

func (m *memoryStore) IsProcessed(ctx context.Context, signature string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return false, m.lookupErr
	}
	_, ok := m.records[signature]
	return ok, nil
}

func (m *memoryStore) MarkProcessed(ctx context.Context, record types.ProcessingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.ErrorSignature]; ok {
		return fmt.Errorf("signature %q already recorded", record.ErrorSignature)
	}
	m.records[record.ErrorSignature] = record
	return nil
}

func (m *memoryStore) History(ctx context.Context, signature string, lookbackDays int) ([]types.ProcessingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.records[signature]; ok {
		return []types.ProcessingRecord{record}, nil
	}
	return nil, nil
}

func (m *memoryStore) Close() error { return nil }

func testConfig() Config {
	return Config{
		ProjectKey:   "OPS",
		Repository:   "acme/checkout",
		LookbackDays: 7,
		DedupPolicy:  DedupFailClosed,
	}
}

func newTestOrchestrator(t *testing.T, cfg Config, deps Dependencies) *Orchestrator {
	t.Helper()
	if deps.Now == nil {
		deps.Now = func() time.Time { return testNow }
	}
	o, err := New(cfg, deps)
	require.NoError(t, err)
	return o
}

func event(msg string, at time.Time) types.LogEvent {
	return types.LogEvent{
		Time:        at,
		Message:     msg,
		ServiceName: "checkout-api",
		Environment: "production",
	}
}

func TestNewRequiresTracker(t *testing.T) {
	_, err := New(testConfig(), Dependencies{})
	assert.Error(t, err)
}

func TestRunRejectsEmptyBatch(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(), Dependencies{Tracker: &stubTracker{}})

	_, err := o.Run(context.Background(), nil)
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "events", verr.Field)
}

func TestRunRejectsIncompleteEvents(t *testing.T) {
	tests := []struct {
		name  string
		event types.LogEvent
		field string
	}{
		{
			name:  "missing timestamp",
			event: types.LogEvent{Message: "boom"},
			field: "events[0].time",
		},
		{
			name:  "missing message",
			event: types.LogEvent{Time: testNow},
			field: "events[0].message",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := &stubTracker{}
			o := newTestOrchestrator(t, testConfig(), Dependencies{Tracker: tracker})

			_, err := o.Run(context.Background(), []types.LogEvent{tt.event})
			var verr *types.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Empty(t, tracker.created, "no ticket before validation passes")
		})
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Repository = "not-a-repo-path"
	o := newTestOrchestrator(t, cfg, Dependencies{Tracker: &stubTracker{}})

	_, err := o.Run(context.Background(), []types.LogEvent{event("boom", testNow)})
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "repository", verr.Field)
}

func TestRunGroupsBySignature(t *testing.T) {
	tracker := &stubTracker{}
	o := newTestOrchestrator(t, testConfig(), Dependencies{Tracker: tracker})

	// Five events, four signatures: the two user-id lookups differ only in
	// the numeric id and collapse into one group.
	events := []types.LogEvent{
		event("Timeout connecting to database", testNow.Add(-4*time.Hour)),
		event("User id: 12345 not found", testNow.Add(-3*time.Hour)),
		event("NullReferenceException in PaymentService", testNow.Add(-2*time.Hour)),
		event("User id: 67890 not found", testNow.Add(-1*time.Hour)),
		event("Disk full on /var/lib/queue", testNow),
	}

	summary, err := o.Run(context.Background(), events)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.TotalEvents)
	assert.Equal(t, 4, summary.TotalGroups)
	assert.Equal(t, 4, summary.NewlyProcessed)
	assert.Zero(t, summary.SkippedDuplicates)
	assert.Zero(t, summary.Failed)
	assert.Len(t, summary.Tickets, 4)
	assert.NotEmpty(t, summary.RunID)

	require.Len(t, tracker.created, 4)
	var userGroup *types.TriageData
	for i := range tracker.created {
		if tracker.created[i].ErrorCount == 2 {
			userGroup = &tracker.created[i]
		}
	}
	require.NotNil(t, userGroup, "the collapsed user-id group carries both events")
	assert.Equal(t, "User id: 12345 not found", userGroup.ErrorMessage,
		"representative message comes from the first occurrence")
	assert.Equal(t, testNow.Add(-3*time.Hour), userGroup.FirstSeen)
	assert.Equal(t, "checkout-api", userGroup.ServiceName)
}

func TestRunSkipsAlreadyProcessedSignatures(t *testing.T) {
	store := newMemoryStore()
	tracker := &stubTracker{}
	o := newTestOrchestrator(t, testConfig(), Dependencies{Tracker: tracker, Store: store})

	events := []types.LogEvent{
		event("Timeout connecting to database", testNow.Add(-time.Hour)),
		event("Disk full on /var/lib/queue", testNow),
	}

	first, err := o.Run(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 2, first.NewlyProcessed)

	second, err := o.Run(context.Background(), events)
	require.NoError(t, err)
	assert.Zero(t, second.NewlyProcessed)
	assert.Equal(t, 2, second.SkippedDuplicates)
	assert.Len(t, tracker.created, 2, "no duplicate tickets on the second run")
}

func TestRunSurvivesSourceControlFailure(t *testing.T) {
	tracker := &stubTracker{}
	scm := &stubSourceControl{err: errors.New("403 forbidden")}
	o := newTestOrchestrator(t, testConfig(), Dependencies{Tracker: tracker, SourceControl: scm})

	summary, err := o.Run(context.Background(), []types.LogEvent{
		event("NullReferenceException in PaymentService", testNow),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.NewlyProcessed)
	require.Len(t, tracker.created, 1)
	assert.Empty(t, tracker.created[0].SuspectedCommits,
		"ticket is still created, just without commit context")
}

func TestRunTicketFailureLeavesDedupStateUntouched(t *testing.T) {
	store := newMemoryStore()
	broken := &stubTracker{err: errors.New("tracker down")}
	o := newTestOrchestrator(t, testConfig(), Dependencies{Tracker: broken, Store: store})

	events := []types.LogEvent{event("Timeout connecting to database", testNow)}

	summary, err := o.Run(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, summary.NewlyProcessed)
	assert.Empty(t, store.records, "no processing record without a ticket")

	// A later run against a healthy tracker picks the group back up.
	healthy := &stubTracker{}
	o = newTestOrchestrator(t, testConfig(), Dependencies{Tracker: healthy, Store: store})
	summary, err = o.Run(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NewlyProcessed)
	require.Len(t, store.records, 1)
}

func TestRunDedupLookupFailurePolicy(t *testing.T) {
	tests := []struct {
		name          string
		policy        DedupPolicy
		wantSkipped   int
		wantProcessed int
	}{
		{name: "fail-closed skips", policy: DedupFailClosed, wantSkipped: 1},
		{name: "fail-open triages", policy: DedupFailOpen, wantProcessed: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			store.lookupErr = errors.New("database locked")
			tracker := &stubTracker{}
			cfg := testConfig()
			cfg.DedupPolicy = tt.policy
			o := newTestOrchestrator(t, cfg, Dependencies{Tracker: tracker, Store: store})

			summary, err := o.Run(context.Background(), []types.LogEvent{
				event("Timeout connecting to database", testNow),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantSkipped, summary.SkippedDuplicates)
			assert.Equal(t, tt.wantProcessed, summary.NewlyProcessed)
		})
	}
}

func TestRunScoresCommitsAndResolvesPullRequests(t *testing.T) {
	tracker := &stubTracker{}
	scm := &stubSourceControl{
		commits: []types.Commit{
			{
				Hash:         "abc123",
				Message:      "Fix null check in payment flow",
				Date:         testNow.Add(-24 * time.Hour),
				ChangedFiles: []string{"src/PaymentService.cs"},
			},
			{
				Hash:         "def456",
				Message:      "Update README",
				Date:         testNow.Add(-48 * time.Hour),
				ChangedFiles: []string{"README.md"},
			},
		},
		prURLs: map[string]string{"abc123": "https://github.com/acme/checkout/pull/42"},
	}
	o := newTestOrchestrator(t, testConfig(), Dependencies{Tracker: tracker, SourceControl: scm})

	_, err := o.Run(context.Background(), []types.LogEvent{
		event("NullReferenceException in PaymentService.ProcessPayment", testNow),
	})
	require.NoError(t, err)

	require.Len(t, tracker.created, 1)
	scored := tracker.created[0].SuspectedCommits
	require.NotEmpty(t, scored)
	assert.Equal(t, "abc123", scored[0].Commit.Hash, "the payment commit outranks the doc change")
	assert.Equal(t, "https://github.com/acme/checkout/pull/42", scored[0].Commit.PullRequestURL)
}

func TestRunAttachesDeploymentInfo(t *testing.T) {
	tracker := &stubTracker{}
	deployments := &stubDeployments{
		info: &types.DeploymentInfo{
			CommitHash:  "abc123",
			DeployedAt:  testNow.Add(-6 * time.Hour),
			Version:     "v2.3.1",
			Environment: "production",
		},
	}
	o := newTestOrchestrator(t, testConfig(), Dependencies{Tracker: tracker, Deployments: deployments})

	_, err := o.Run(context.Background(), []types.LogEvent{
		event("Timeout connecting to database", testNow),
	})
	require.NoError(t, err)

	require.Len(t, tracker.created, 1)
	require.NotNil(t, tracker.created[0].DeploymentInfo)
	assert.Equal(t, "v2.3.1", tracker.created[0].DeploymentInfo.Version)
}

func TestRunDeploymentLookupFailureIsNonFatal(t *testing.T) {
	tracker := &stubTracker{}
	deployments := &stubDeployments{err: errors.New("registry unreachable")}
	o := newTestOrchestrator(t, testConfig(), Dependencies{Tracker: tracker, Deployments: deployments})

	summary, err := o.Run(context.Background(), []types.LogEvent{
		event("Timeout connecting to database", testNow),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.NewlyProcessed)
	require.Len(t, tracker.created, 1)
	assert.Nil(t, tracker.created[0].DeploymentInfo)
}

func TestRunConcurrentGroups(t *testing.T) {
	store := newMemoryStore()
	tracker := &stubTracker{}
	cfg := testConfig()
	cfg.MaxConcurrentGroups = 4
	o := newTestOrchestrator(t, cfg, Dependencies{Tracker: tracker, Store: store})

	var events []types.LogEvent
	for i := 0; i < 8; i++ {
		events = append(events, event(fmt.Sprintf("failure in subsystem %s", string(rune('a'+i))), testNow))
	}

	summary, err := o.Run(context.Background(), events)
	require.NoError(t, err)

	assert.Equal(t, 8, summary.TotalGroups)
	assert.Equal(t, 8, summary.NewlyProcessed)
	assert.Len(t, tracker.created, 8)
	assert.Len(t, store.records, 8)
}
