// Package sqlite implements the dedup-state store on an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/opsdrift/triage/internal/storage"
	"github.com/opsdrift/triage/internal/types"
)

// Store implements storage.StateStore using SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.StateStore = (*Store)(nil)

// New opens (creating if needed) the state database at path.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for better concurrency between the orchestrator's groups.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// IsProcessed reports whether a ticket already exists for signature.
func (s *Store) IsProcessed(ctx context.Context, signature string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processing_records WHERE error_signature = ?`,
		signature).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query processing record: %w", err)
	}
	return count > 0, nil
}

// MarkProcessed inserts the processing record for a newly-triaged
// signature. Fails if the signature was already recorded: records are
// write-once.
func (s *Store) MarkProcessed(ctx context.Context, record types.ProcessingRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_records
			(error_signature, ticket_key, service_name, environment, error_count, first_seen)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.ErrorSignature, record.TicketKey, record.ServiceName,
		record.Environment, record.ErrorCount, record.FirstSeen.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert processing record: %w", err)
	}
	return nil
}

// History returns processing records for signature first seen within the
// lookback window, newest first.
func (s *Store) History(ctx context.Context, signature string, lookbackDays int) ([]types.ProcessingRecord, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -lookbackDays)

	rows, err := s.db.QueryContext(ctx, `
		SELECT error_signature, ticket_key, service_name, environment, error_count, first_seen
		FROM processing_records
		WHERE error_signature = ? AND first_seen >= ?
		ORDER BY first_seen DESC`,
		signature, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []types.ProcessingRecord
	for rows.Next() {
		var r types.ProcessingRecord
		if err := rows.Scan(&r.ErrorSignature, &r.TicketKey, &r.ServiceName,
			&r.Environment, &r.ErrorCount, &r.FirstSeen); err != nil {
			return nil, fmt.Errorf("failed to scan processing record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
