package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"supplychain-tracker-go/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	TypeProductCreated     = "product.created"
	TypeBatchCreated       = "batch.created"
	TypeProductTransferred = "product.transferred"
)

// Event is a confirmed registry change announced to subscribers.
type Event struct {
	Type       string    `json:"type"`
	ActorId    string    `json:"actorId"`
	ProductIds []int64   `json:"productIds,omitempty"`
	BatchId    int64     `json:"batchId,omitempty"`
	ToAddress  string    `json:"toAddress,omitempty"`
	TxHash     string    `json:"txHash,omitempty"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NewPublisher returns a Redis publisher when an address is configured and
// a no-op publisher otherwise.
func NewPublisher(ctx context.Context, cfg models.RedisConfig) (Publisher, error) {
	if cfg.Addr == "" {
		zap.L().Info("Redis not configured; domain events disabled")
		return NoopPublisher{}, nil
	}
	return NewRedisPublisher(ctx, cfg)
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

func (NoopPublisher) Close() error { return nil }

type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(ctx context.Context, cfg models.RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to reach redis at %s: %w", cfg.Addr, err)
	}

	zap.L().Info("Redis event publisher ready", zap.String("addr", cfg.Addr), zap.String("channel", cfg.Channel))
	return &RedisPublisher{client: client, channel: cfg.Channel}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("unable to encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("unable to publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
