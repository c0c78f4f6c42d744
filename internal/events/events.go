package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/carzilla-scraper/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeSearchCompleted EventType = "SEARCH_COMPLETED"
	EventTypeSearchFailed    EventType = "SEARCH_FAILED"

	AggregateType = "search_run"
	DefaultStream = "stream:carzilla_searches"
	Source        = "carzilla-scraper"
)

// SearchEventPayload is the body of every search event.
type SearchEventPayload struct {
	EventID         string                 `json:"event_id"`
	EventType       string                 `json:"event_type"`
	Timestamp       time.Time              `json:"timestamp"`
	RunID           string                 `json:"run_id"`
	Make            string                 `json:"make"`
	Model           string                 `json:"model,omitempty"`
	Endpoint        string                 `json:"endpoint"`
	SearchURL       string                 `json:"search_url,omitempty"`
	Total           string                 `json:"total"`
	ExecutionTimeMS int64                  `json:"execution_time_ms"`
	Error           string                 `json:"error,omitempty"`
	PartialResults  bool                   `json:"partial_results,omitempty"`
	Items           []models.ListingRecord `json:"items"`
	Source          string                 `json:"source"`
}

// NewSearchEventPayload summarises a finished search. Failed searches with
// no partial results are reported as SEARCH_FAILED.
func NewSearchEventPayload(req *models.SearchRequest, env *models.ResultEnvelope) *SearchEventPayload {
	eventType := EventTypeSearchCompleted
	if env.Error != "" && !env.PartialResults {
		eventType = EventTypeSearchFailed
	}

	p := &SearchEventPayload{
		EventID:         uuid.New().String(),
		EventType:       string(eventType),
		Timestamp:       time.Now(),
		RunID:           env.RunID,
		Endpoint:        env.Endpoint,
		SearchURL:       env.SearchURL,
		Total:           env.Total,
		ExecutionTimeMS: env.ExecutionTimeMS,
		Error:           env.Error,
		PartialResults:  env.PartialResults,
		Items:           env.Items,
		Source:          Source,
	}
	if req != nil {
		p.Make = req.Make
		p.Model = req.Model
	}
	if p.Items == nil {
		p.Items = []models.ListingRecord{}
	}
	return p
}

// Message is one stream entry before encoding.
type Message struct {
	ID            string
	Type          string
	AggregateType string
	AggregateID   string
	CreatedAt     time.Time
	Payload       json.RawMessage
	RetryCount    int
}

// StreamArgs encodes msg in the layout consumers of the search stream read:
// the full message as JSON under "data" plus flat routing fields.
func StreamArgs(stream string, maxLen int64, msg Message) (*redis.XAddArgs, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	streamData := map[string]interface{}{
		"id":             msg.ID,
		"type":           msg.Type,
		"aggregate_type": msg.AggregateType,
		"aggregate_id":   msg.AggregateID,
		"timestamp":      msg.CreatedAt.Format(time.RFC3339),
		"payload":        payload,
		"metadata": map[string]interface{}{
			"source":        Source,
			"original_id":   msg.ID,
			"retry_count":   msg.RetryCount,
			"target_stream": stream,
		},
	}

	dataJSON, err := json.Marshal(streamData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream data: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data":           string(dataJSON),
			"type":           msg.Type,
			"timestamp":      fmt.Sprintf("%d", msg.CreatedAt.UnixNano()),
			"original_id":    msg.ID,
			"aggregate_id":   msg.AggregateID,
			"aggregate_type": msg.AggregateType,
			"event_type":     msg.Type,
		},
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return args, nil
}
