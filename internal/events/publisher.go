// Package events publishes committed ledger entries to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/wallet-ledger/internal/models"
)

// DefaultQueueKey is the Redis list committed entries are pushed to.
const DefaultQueueKey = "ledger:events"

// LedgerEvent is the wire form of a committed entry.
type LedgerEvent struct {
	EntryID        string           `json:"entry_id"`
	AccountID      string           `json:"account_id"`
	IdempotencyKey string           `json:"idempotency_key"`
	Type           models.EntryType `json:"type"`
	Amount         string           `json:"amount"`
	BalanceBefore  string           `json:"balance_before"`
	BalanceAfter   string           `json:"balance_after"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// FromEntry builds the event for a committed entry.
func FromEntry(e *models.LedgerEntry) LedgerEvent {
	return LedgerEvent{
		EntryID:        e.ID,
		AccountID:      e.AccountID,
		IdempotencyKey: e.IdempotencyKey,
		Type:           e.Type,
		Amount:         e.Amount.StringFixed(2),
		BalanceBefore:  e.BalanceBefore.StringFixed(2),
		BalanceAfter:   e.BalanceAfter.StringFixed(2),
		OccurredAt:     e.CreatedAt,
	}
}

type Publisher interface {
	Publish(ctx context.Context, event LedgerEvent) error
}

// RedisPublisher appends events to a Redis list with RPUSH.
type RedisPublisher struct {
	client *redis.Client
	key    string
}

func NewRedisPublisher(client *redis.Client, key string) *RedisPublisher {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisPublisher{client: client, key: key}
}

func (p *RedisPublisher) Publish(ctx context.Context, event LedgerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	if err := p.client.RPush(ctx, p.key, data).Err(); err != nil {
		return fmt.Errorf("push ledger event: %w", err)
	}
	return nil
}

// NopPublisher drops events. Used when Redis is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, LedgerEvent) error { return nil }
