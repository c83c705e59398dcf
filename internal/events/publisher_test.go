package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry() *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:             "entry-1",
		AccountID:      "acc-1",
		IdempotencyKey: "dep-1",
		Type:           models.EntryCredit,
		Amount:         decimal.RequireFromString("100"),
		BalanceBefore:  decimal.Zero,
		BalanceAfter:   decimal.RequireFromString("100"),
		CreatedAt:      time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestFromEntry(t *testing.T) {
	event := FromEntry(sampleEntry())

	assert.Equal(t, "entry-1", event.EntryID)
	assert.Equal(t, "100.00", event.Amount)
	assert.Equal(t, "0.00", event.BalanceBefore)
	assert.Equal(t, "100.00", event.BalanceAfter)
	assert.Equal(t, models.EntryCredit, event.Type)
}

func TestRedisPublisher_Publish(t *testing.T) {
	ctx := context.Background()
	event := FromEntry(sampleEntry())
	data, err := json.Marshal(event)
	require.NoError(t, err)

	t.Run("pushes to queue", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		p := NewRedisPublisher(db, "")

		mock.ExpectRPush(DefaultQueueKey, data).SetVal(1)

		assert.NoError(t, p.Publish(ctx, event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("custom key", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		p := NewRedisPublisher(db, "wallet:events")

		mock.ExpectRPush("wallet:events", data).SetVal(3)

		assert.NoError(t, p.Publish(ctx, event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis failure", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		p := NewRedisPublisher(db, "")

		mock.ExpectRPush(DefaultQueueKey, data).SetErr(errors.New("connection refused"))

		err := p.Publish(ctx, event)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "push ledger event")
	})
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), FromEntry(sampleEntry())))
}
