package audit

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeAudit(t *testing.T, msg string) AuditEvent {
	t.Helper()
	require.True(t, strings.HasPrefix(msg, "AUDIT: "))
	var event AuditEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(msg, "AUDIT: ")), &event))
	return event
}

func TestAuditLogger_LogEntry(t *testing.T) {
	log, hook := test.NewNullLogger()
	a := NewAuditLogger(log)

	a.LogEntry(&models.LedgerEntry{
		ID:             "entry-1",
		AccountID:      "acc-1",
		IdempotencyKey: "dep-1",
		Type:           models.EntryCredit,
		Amount:         decimal.RequireFromString("100"),
		BalanceBefore:  decimal.Zero,
		BalanceAfter:   decimal.RequireFromString("100"),
	})

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "LEDGER_credit", hook.LastEntry().Data["audit"])

	event := decodeAudit(t, hook.LastEntry().Message)
	assert.Equal(t, "entry-1", event.EntryID)
	assert.Equal(t, "100.00", event.Amount)
	assert.Equal(t, "SUCCESS", event.Status)
}

func TestAuditLogger_LogError(t *testing.T) {
	log, hook := test.NewNullLogger()
	a := NewAuditLogger(log)

	a.LogError("LEDGER_debit", "acc-1", "wd-1", errors.New("insufficient funds"))

	event := decodeAudit(t, hook.LastEntry().Message)
	assert.Equal(t, "FAILED", event.Status)
	assert.Equal(t, "wd-1", event.IdempotencyKey)
	details, ok := event.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "insufficient funds", details["error"])
}

func TestAuditLogger_LogStatusChange(t *testing.T) {
	log, hook := test.NewNullLogger()
	a := NewAuditLogger(log)

	a.LogStatusChange(models.Identity{AccountID: "admin-1", Role: models.RoleAdmin}, "acc-1", models.StatusActive, models.StatusSuspended)

	event := decodeAudit(t, hook.LastEntry().Message)
	assert.Equal(t, "ACCOUNT_STATUS", event.EventType)
	assert.Equal(t, "admin-1", event.ActorID)
}

func TestAuditLogger_Nil(t *testing.T) {
	var a *AuditLogger
	assert.NotPanics(t, func() {
		a.LogOperation("acc-1", "NOOP", "")
	})
}
