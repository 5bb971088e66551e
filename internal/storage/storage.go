// Package storage defines the dedup-state store: the persisted record of
// which error signatures already produced a ticket.
package storage

import (
	"context"

	"github.com/opsdrift/triage/internal/types"
)

// StateStore persists processing records keyed by error signature.
// Records are written exactly once per newly-triaged signature and never
// updated in place: a later duplicate is a skip, not a merge.
type StateStore interface {
	// IsProcessed reports whether a ticket already exists for signature.
	IsProcessed(ctx context.Context, signature string) (bool, error)

	// MarkProcessed records that a ticket was created for the signature.
	// Must only be called after successful ticket creation.
	MarkProcessed(ctx context.Context, record types.ProcessingRecord) error

	// History returns the processing records for a signature whose
	// first-seen time falls within the lookback window, newest first.
	History(ctx context.Context, signature string, lookbackDays int) ([]types.ProcessingRecord, error)

	// Close releases underlying resources.
	Close() error
}

// NullStore is the unconfigured state store: every signature reads as
// not processed and writes are dropped. It never fails, so triage can
// run without persistence configured.
type NullStore struct{}

var _ StateStore = NullStore{}

func (NullStore) IsProcessed(ctx context.Context, signature string) (bool, error) {
	return false, nil
}

func (NullStore) MarkProcessed(ctx context.Context, record types.ProcessingRecord) error {
	return nil
}

func (NullStore) History(ctx context.Context, signature string, lookbackDays int) ([]types.ProcessingRecord, error) {
	return nil, nil
}

func (NullStore) Close() error { return nil }
