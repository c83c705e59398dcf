package audit

import (
	"encoding/json"
	"time"

	"github.com/ruralpay/wallet-ledger/internal/models"
	"github.com/sirupsen/logrus"
)

type AuditEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	EventType      string    `json:"event_type"`
	EntryID        string    `json:"entry_id,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	AccountID      string    `json:"account_id"`
	ActorID        string    `json:"actor_id,omitempty"`
	Amount         string    `json:"amount,omitempty"`
	Status         string    `json:"status"`
	Details        any       `json:"details,omitempty"`
}

type AuditLogger struct {
	log logrus.FieldLogger
}

func NewAuditLogger(log logrus.FieldLogger) *AuditLogger {
	return &AuditLogger{log: log}
}

// LogEntry records a committed ledger entry.
func (a *AuditLogger) LogEntry(entry *models.LedgerEntry) {
	event := AuditEvent{
		Timestamp:      time.Now().UTC(),
		EventType:      "LEDGER_" + string(entry.Type),
		EntryID:        entry.ID,
		IdempotencyKey: entry.IdempotencyKey,
		AccountID:      entry.AccountID,
		Amount:         entry.Amount.StringFixed(2),
		Status:         "SUCCESS",
		Details: map[string]string{
			"balance_before": entry.BalanceBefore.StringFixed(2),
			"balance_after":  entry.BalanceAfter.StringFixed(2),
		},
	}
	a.emit(event)
}

// LogError records a rejected or failed operation.
func (a *AuditLogger) LogError(operation, accountID, key string, err error) {
	event := AuditEvent{
		Timestamp:      time.Now().UTC(),
		EventType:      operation,
		IdempotencyKey: key,
		AccountID:      accountID,
		Status:         "FAILED",
		Details:        map[string]string{"error": err.Error()},
	}
	a.emit(event)
}

// LogStatusChange records an administrative status transition.
func (a *AuditLogger) LogStatusChange(actor models.Identity, accountID string, from, to models.AccountStatus) {
	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: "ACCOUNT_STATUS",
		AccountID: accountID,
		ActorID:   actor.AccountID,
		Status:    "SUCCESS",
		Details: map[string]string{
			"from": string(from),
			"to":   string(to),
		},
	}
	a.emit(event)
}

func (a *AuditLogger) LogOperation(accountID, operation, details string) {
	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: operation,
		AccountID: accountID,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	}
	a.emit(event)
}

func (a *AuditLogger) emit(event AuditEvent) {
	if a == nil || a.log == nil {
		return
	}
	data, _ := json.Marshal(event)
	a.log.WithField("audit", event.EventType).Infof("AUDIT: %s", string(data))
}
