package models

import "github.com/shopspring/decimal"

type Account struct {
	Username   string          `json:"username"`
	SecretHash string          `json:"secret"`
	Balance    decimal.Decimal `json:"balance"`
}

// Snapshot is the full ledger state as written to durable storage.
type Snapshot struct {
	Accounts map[string]Account `json:"accounts"`
}

func NewSnapshot() Snapshot {
	return Snapshot{Accounts: make(map[string]Account)}
}
