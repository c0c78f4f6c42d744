package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/carzilla-scraper/internal/models"
)

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// StreamPublisher writes one stream entry per finished search directly,
// without the database outbox.
type StreamPublisher struct {
	redis  RedisClient
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewStreamPublisher(client RedisClient, stream string, maxLen int64, logger *slog.Logger) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamPublisher{
		redis:  client,
		stream: stream,
		maxLen: maxLen,
		logger: logger.With("component", "event_publisher"),
	}
}

func (p *StreamPublisher) Name() string {
	return "redis-stream"
}

func (p *StreamPublisher) Push(ctx context.Context, req *models.SearchRequest, env *models.ResultEnvelope) error {
	payload := NewSearchEventPayload(req, env)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args, err := StreamArgs(p.stream, p.maxLen, Message{
		ID:            payload.EventID,
		Type:          payload.EventType,
		AggregateType: AggregateType,
		AggregateID:   payload.RunID,
		CreatedAt:     payload.Timestamp,
		Payload:       data,
	})
	if err != nil {
		return err
	}

	id, err := p.redis.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	p.logger.Info("event published",
		"stream_id", id,
		"event_type", payload.EventType,
		"run_id", payload.RunID,
		"items", len(payload.Items))

	return nil
}

func (p *StreamPublisher) Close() error {
	return p.redis.Close()
}
