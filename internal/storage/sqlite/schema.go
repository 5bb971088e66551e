package sqlite

// schema initializes the dedup-state table. Signatures are unique: a
// second insert for the same signature is a programming error upstream
// and is rejected by the primary key.
const schema = `
CREATE TABLE IF NOT EXISTS processing_records (
	error_signature TEXT PRIMARY KEY,
	ticket_key      TEXT NOT NULL,
	service_name    TEXT NOT NULL DEFAULT '',
	environment     TEXT NOT NULL DEFAULT '',
	error_count     INTEGER NOT NULL DEFAULT 0,
	first_seen      TIMESTAMP NOT NULL,
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_processing_records_first_seen
	ON processing_records(first_seen);
`
