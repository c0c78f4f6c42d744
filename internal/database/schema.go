package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS search_runs (
		id                UUID PRIMARY KEY,
		make              TEXT NOT NULL,
		model             TEXT NOT NULL DEFAULT '',
		endpoint          TEXT NOT NULL,
		search_url        TEXT NOT NULL DEFAULT '',
		total             INTEGER NOT NULL DEFAULT 0,
		execution_time_ms BIGINT NOT NULL DEFAULT 0,
		error             TEXT,
		partial_results   BOOLEAN NOT NULL DEFAULT FALSE,
		request           JSONB NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS listings (
		run_id             UUID NOT NULL REFERENCES search_runs(id) ON DELETE CASCADE,
		listing_id         TEXT NOT NULL,
		make               TEXT NOT NULL DEFAULT '',
		description        TEXT NOT NULL DEFAULT '',
		price_bruto        INTEGER,
		vat                TEXT NOT NULL DEFAULT '',
		mileage            INTEGER,
		first_registration TEXT NOT NULL DEFAULT '',
		power_kw           INTEGER,
		fuel               TEXT NOT NULL DEFAULT '',
		gearbox            TEXT NOT NULL DEFAULT '',
		color              TEXT NOT NULL DEFAULT '',
		photo_url          TEXT NOT NULL DEFAULT '',
		detail_url         TEXT NOT NULL DEFAULT '',
		source             TEXT NOT NULL,
		PRIMARY KEY (run_id, listing_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_make_price ON listings (make, price_bruto)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		target_stream  TEXT NOT NULL,
		status         TEXT NOT NULL,
		retry_count    INTEGER NOT NULL DEFAULT 0,
		error_message  TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at   TIMESTAMPTZ,
		next_retry_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_event_pending ON outbox_event (status, next_retry_at)`,
}

// EnsureSchema creates the tables used by the run sink and the relay.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
