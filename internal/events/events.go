// Package events 发布车牌/住户变更事件，供下游（看板、审计）消费
package events

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	rediscommon "plate-lookup/internal/common/redis"
)

const DefaultStream = "plate:events"

type Action string

const (
	ActionPlateUpdated     Action = "plate.updated"
	ActionPlateCreated     Action = "plate.created"
	ActionPlateDeleted     Action = "plate.deleted"
	ActionHouseholdCreated Action = "household.created"
	ActionParkingRebuilt   Action = "parking.rebuilt"
	ActionParkingResynced  Action = "parking.resynced"
)

type MutationEvent struct {
	ID         string    `json:"id"`
	Action     Action    `json:"action"`
	Community  string    `json:"community"`
	PlateID    string    `json:"plateId,omitempty"`
	Household  string    `json:"household,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	Count      int       `json:"count,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func NewMutationEvent(action Action, community string) MutationEvent {
	return MutationEvent{
		ID:         uuid.New().String(),
		Action:     action,
		Community:  community,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev MutationEvent) error
}

// RedisStreamPublisher XADD 到 Redis Stream（近似 MAXLEN 裁剪）
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

func NewRedisStreamPublisher(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *RedisStreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, ev MutationEvent) error {
	id, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, ev, p.maxLen)
	if err != nil {
		return err
	}
	p.logger.Debug("Mutation event published",
		zap.String("stream", p.stream),
		zap.String("stream_id", id),
		zap.String("action", string(ev.Action)),
	)
	return nil
}

type Nop struct{}

func (Nop) Publish(context.Context, MutationEvent) error { return nil }
