package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/carzilla-scraper/internal/events"
	"github.com/maltedev/carzilla-scraper/internal/models"
)

const insertListingSQL = `
	INSERT INTO listings (
		run_id, listing_id, make, description, price_bruto, vat, mileage,
		first_registration, power_kw, fuel, gearbox, color, photo_url,
		detail_url, source
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (run_id, listing_id) DO NOTHING`

// RunRepository stores finished searches and, optionally, queues a stream
// event for each in the same transaction.
type RunRepository struct {
	db     *DB
	outbox *OutboxRepository
	stream string
	logger *slog.Logger
}

// NewRunRepository persists runs. A non-empty stream also writes an outbox
// event per run for the relay.
func NewRunRepository(db *DB, stream string, logger *slog.Logger) *RunRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunRepository{
		db:     db,
		outbox: NewOutboxRepository(db),
		stream: stream,
		logger: logger.With("component", "run_repository"),
	}
}

func (r *RunRepository) Name() string {
	return "postgres"
}

// Push implements the scraper sink contract.
func (r *RunRepository) Push(ctx context.Context, req *models.SearchRequest, env *models.ResultEnvelope) error {
	return r.SaveRun(ctx, req, env)
}

func (r *RunRepository) SaveRun(ctx context.Context, req *models.SearchRequest, env *models.ResultEnvelope) error {
	runID, err := uuid.Parse(env.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", env.RunID, err)
	}
	if req == nil {
		req = &models.SearchRequest{}
	}

	request, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	err = r.db.Transaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO search_runs (
				id, make, model, endpoint, search_url, total,
				execution_time_ms, error, partial_results, request
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			runID, req.Make, req.Model, env.Endpoint, env.SearchURL, len(env.Items),
			env.ExecutionTimeMS, nullableString(env.Error), env.PartialResults, request,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		if len(env.Items) > 0 {
			batch := &pgx.Batch{}
			for _, item := range env.Items {
				batch.Queue(insertListingSQL, listingArgs(runID, item)...)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to insert listings: %w", err)
			}
		}

		if r.stream == "" {
			return nil
		}
		return r.queueEvent(ctx, tx, req, env)
	})
	if err != nil {
		return err
	}

	r.logger.Info("run saved", "run_id", runID, "items", len(env.Items))
	return nil
}

func (r *RunRepository) queueEvent(ctx context.Context, tx pgx.Tx, req *models.SearchRequest, env *models.ResultEnvelope) error {
	payload := events.NewSearchEventPayload(req, env)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return r.outbox.InsertWithTx(ctx, tx, &OutboxEvent{
		AggregateType: events.AggregateType,
		AggregateID:   env.RunID,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  r.stream,
	})
}

// CountListings returns the number of stored listings of one run.
func (r *RunRepository) CountListings(ctx context.Context, runID string) (int, error) {
	var n int
	err := r.db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings WHERE run_id = $1`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}
	return n, nil
}

func listingArgs(runID uuid.UUID, item models.ListingRecord) []any {
	return []any{
		runID, item.ID, item.Make, item.Description, nullableInt(item.PriceBruto),
		item.VAT, nullableInt(item.Mileage), item.FirstRegistration, nullableInt(item.Power),
		item.Fuel, item.Gearbox, item.Color, item.PhotoURL, item.DetailURL, item.Source,
	}
}

// nullableInt stores numeric strings as integers and anything else as NULL.
func nullableInt(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
