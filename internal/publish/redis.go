// Package publish announces processed events on a Redis pub/sub channel.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PratikDhanave/event-processing-service/internal/models"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "events:processed"

// Redis is the subset of *redis.Client used here.
type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// ProcessedMessage is the JSON body published for each processed event.
type ProcessedMessage struct {
	EventID     string     `json:"event_id"`
	OwnerID     string     `json:"owner_id"`
	EventName   string     `json:"event_name"`
	EventType   string     `json:"event_type"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// RedisPublisher announces processed events on a Redis pub/sub channel.
type RedisPublisher struct {
	client  Redis
	channel string
}

// NewRedisPublisher publishes on channel, or DefaultChannel when it is empty.
func NewRedisPublisher(client Redis, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// OnProcessed publishes ev. Subscribers that are not listening miss it.
func (p *RedisPublisher) OnProcessed(ctx context.Context, ev models.Event) error {
	b, err := json.Marshal(ProcessedMessage{
		EventID:     ev.ID,
		OwnerID:     ev.OwnerID,
		EventName:   ev.EventName,
		EventType:   ev.EventType,
		ProcessedAt: ev.ProcessedAt,
	})
	if err != nil {
		return fmt.Errorf("encode processed message: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}
