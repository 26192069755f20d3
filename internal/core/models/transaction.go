package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TransactionType string

const (
	TransactionDeposit  TransactionType = "deposit"
	TransactionWithdraw TransactionType = "withdraw"
)

func (t TransactionType) Valid() bool {
	return t == TransactionDeposit || t == TransactionWithdraw
}

// Meta is free-form annotation stored as a JSON object.
type Meta map[string]string

func (m Meta) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (m *Meta) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported meta type %T", src)
	}
	return json.Unmarshal(raw, m)
}

func (m Meta) Clone() Meta {
	if m == nil {
		return nil
	}
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// WalletTransaction is a single movement on a wallet. Amount is signed:
// withdrawals are negative. Only Confirmed may change after creation.
type WalletTransaction struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	WalletID  uuid.UUID       `json:"wallet_id" db:"wallet_id"`
	Type      TransactionType `json:"transaction_type" db:"transaction_type"`
	Amount    int64           `json:"amount" db:"amount"`
	Confirmed bool            `json:"confirmed" db:"confirmed"`
	Meta      Meta            `json:"meta,omitempty" db:"meta"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// NewTransaction builds a transaction for a positive magnitude and applies
// the sign implied by the type.
func NewTransaction(walletID uuid.UUID, txType TransactionType, magnitude int64, confirmed bool) *WalletTransaction {
	amount := magnitude
	if magnitude < 0 {
		amount = -magnitude
	}
	if txType == TransactionWithdraw {
		amount = -amount
	}
	return &WalletTransaction{
		ID:        uuid.New(),
		WalletID:  walletID,
		Type:      txType,
		Amount:    amount,
		Confirmed: confirmed,
	}
}
