package models

import (
	"github.com/shopspring/decimal"
	"time"
)

type Transfer struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// TransferCompleted is published once a transfer has been made durable.
type TransferCompleted struct {
	TransferID string          `json:"transfer_id"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func (t Transfer) Completed() TransferCompleted {
	return TransferCompleted{
		TransferID: t.ID,
		From:       t.From,
		To:         t.To,
		Amount:     t.Amount,
		OccurredAt: t.CreatedAt,
	}
}
