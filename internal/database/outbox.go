package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/carzilla-scraper/internal/events"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount failures move an event to the dead letter status.
	MaxRetryCount = 5

	maxRetryBackoff = 5 * time.Minute
)

// OutboxEvent is a stream entry written in the same transaction as the run
// it describes.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

// Message converts the row into the stream message layout.
func (e *OutboxEvent) Message() events.Message {
	return events.Message{
		ID:            e.ID.String(),
		Type:          e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		CreatedAt:     e.CreatedAt,
		Payload:       e.Payload,
		RetryCount:    e.RetryCount,
	}
}

type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertWithTx fills in defaults and inserts event inside tx.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = events.DefaultStream
	}

	now := time.Now()
	event.CreatedAt = now
	if event.NextRetryAt == nil {
		event.NextRetryAt = &now
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_event (
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			created_at, next_retry_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.TargetStream, event.Status, event.RetryCount,
		event.CreatedAt, event.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// GetPending returns up to limit events due for (re)delivery, oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			error_message, created_at, processed_at, next_retry_at
		FROM outbox_event
		WHERE status IN ($1, $2) AND next_retry_at <= $3
		ORDER BY created_at ASC
		LIMIT $4`,
		OutboxStatusPending, OutboxStatusFailed, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}

	pending, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[OutboxEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}
	return pending, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.pool.Exec(ctx,
		`UPDATE outbox_event SET status = $1, processed_at = $2 WHERE id = $3`,
		OutboxStatusProcessed, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("event not found: %s", id)
	}
	return nil
}

// MarkFailed records processErr and schedules the next attempt, or dead
// letters the event once MaxRetryCount is reached.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	var retryCount int
	err := r.db.pool.QueryRow(ctx,
		`SELECT retry_count FROM outbox_event WHERE id = $1`, id).Scan(&retryCount)
	if err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}

	retryCount++
	status := OutboxStatusFailed
	if retryCount >= MaxRetryCount {
		status = OutboxStatusDeadLetter
	}

	_, err = r.db.pool.Exec(ctx, `
		UPDATE outbox_event
		SET status = $1, retry_count = $2, error_message = $3, next_retry_at = $4
		WHERE id = $5`,
		status, retryCount, processErr.Error(), nextRetryTime(time.Now(), retryCount), id)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

// nextRetryTime doubles the wait per failure (1s, 2s, 4s...) up to five
// minutes.
func nextRetryTime(now time.Time, retryCount int) time.Time {
	if retryCount < 0 {
		retryCount = 0
	}
	backoff := maxRetryBackoff
	if retryCount < 16 {
		backoff = min(time.Duration(1<<retryCount)*time.Second, maxRetryBackoff)
	}
	return now.Add(backoff)
}

// Counts returns how many events still await delivery and how many were
// dead lettered.
func (r *OutboxRepository) Counts(ctx context.Context) (pending, deadLetter int64, err error) {
	err = r.db.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ($1, $2)),
			COUNT(*) FILTER (WHERE status = $3)
		FROM outbox_event`,
		OutboxStatusPending, OutboxStatusFailed, OutboxStatusDeadLetter).Scan(&pending, &deadLetter)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return pending, deadLetter, nil
}
