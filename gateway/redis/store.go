package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxintel/callgate/gateway"
)

/* Redis implementation of the gateway's persistence sink.
 * Uses a Redis Hash per call event for lookups and a per-tenant Stream as
 * the delivery feed the dashboard consumers read from. Tenant isolation at
 * the storage layer falls out of the key naming: nothing is ever written
 * under another tenant's stream.
 */

const (
	eventPrefix  = "call_event" // Hash naming: call_event:{event_id}
	streamPrefix = "calls"      // Stream naming: calls:{tenant_id}

	// streamMaxLen bounds each tenant feed; old entries are trimmed,
	// the event hashes remain until their TTL expires
	streamMaxLen = 10000
)

type Store struct {
	client   *redis.Client
	eventTTL time.Duration
}

// NewStore creates a Redis-backed call event store
func NewStore(addr, password string, db int, eventTTL time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &Store{client: client, eventTTL: eventTTL}, nil
}

// Store persists one call event and appends it to its tenant's feed
func (s *Store) Store(ctx context.Context, event gateway.CallEvent) error {
	hashKey := fmt.Sprintf("%s:%s", eventPrefix, event.ID)

	headersJSON, err := json.Marshal(event.Headers)
	if err != nil {
		return fmt.Errorf("marshaling headers: %w", err)
	}

	err = s.client.HSet(ctx, hashKey, map[string]interface{}{
		"id":            event.ID,
		"tenant_id":     event.TenantID,
		"provider":      event.Provider.String(),
		"call_sid":      event.CallSID,
		"event_type":    event.EventType,
		"from":          event.From,
		"to":            event.To,
		"direction":     event.Direction.String(),
		"call_status":   event.CallStatus,
		"recording_sid": event.RecordingSID,
		"recording_url": event.RecordingURL,
		"payload":       event.Payload,
		"headers":       string(headersJSON),
		"received_at":   event.ReceivedAt.Unix(),
	}).Err()
	if err != nil {
		return fmt.Errorf("storing call event: %w", err)
	}
	if s.eventTTL > 0 {
		if err := s.client.Expire(ctx, hashKey, s.eventTTL).Err(); err != nil {
			return fmt.Errorf("setting event TTL: %w", err)
		}
	}

	streamKey := fmt.Sprintf("%s:%s", streamPrefix, event.TenantID)
	_, err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event_id":   event.ID,
			"call_sid":   event.CallSID,
			"event_type": event.EventType,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("appending to tenant feed: %w", err)
	}
	return nil
}

// Get retrieves a call event by ID
func (s *Store) Get(ctx context.Context, id string) (gateway.CallEvent, error) {
	hashKey := fmt.Sprintf("%s:%s", eventPrefix, id)

	data, err := s.client.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return gateway.CallEvent{}, fmt.Errorf("getting call event: %w", err)
	}
	if len(data) == 0 {
		return gateway.CallEvent{}, fmt.Errorf("call event not found: %s", id)
	}
	return eventFromHash(data)
}

// ListByTenant returns the most recent events in a tenant's feed
func (s *Store) ListByTenant(ctx context.Context, tenantID string, limit int) ([]gateway.CallEvent, error) {
	streamKey := fmt.Sprintf("%s:%s", streamPrefix, tenantID)

	entries, err := s.client.XRevRangeN(ctx, streamKey, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading tenant feed: %w", err)
	}

	events := make([]gateway.CallEvent, 0, len(entries))
	for _, entry := range entries {
		id, ok := entry.Values["event_id"].(string)
		if !ok {
			continue
		}
		event, err := s.Get(ctx, id)
		if err != nil {
			// Hash expired out from under the feed entry; skip it.
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Close releases the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func eventFromHash(data map[string]string) (gateway.CallEvent, error) {
	headers := make(map[string]string)
	if raw, ok := data["headers"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &headers); err != nil {
			return gateway.CallEvent{}, fmt.Errorf("unmarshaling headers: %w", err)
		}
	}

	return gateway.CallEvent{
		ID:           data["id"],
		TenantID:     data["tenant_id"],
		Provider:     newProvider(data["provider"]),
		CallSID:      data["call_sid"],
		EventType:    data["event_type"],
		From:         data["from"],
		To:           data["to"],
		Direction:    gateway.NewDirection(data["direction"]),
		CallStatus:   data["call_status"],
		RecordingSID: data["recording_sid"],
		RecordingURL: data["recording_url"],
		Payload:      []byte(data["payload"]),
		Headers:      headers,
		ReceivedAt:   time.Unix(parseInt64(data["received_at"]), 0),
	}, nil
}

func newProvider(s string) gateway.Provider {
	switch s {
	case "twilio":
		return gateway.Twilio
	case "elevenlabs":
		return gateway.ElevenLabs
	default:
		return gateway.Generic
	}
}

func parseInt64(s string) int64 {
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}
