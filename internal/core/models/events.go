package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	OwnerCreatedTopic       = "owner.created"
	WalletCreatedTopic      = "wallet.created"
	TransactionCreatedTopic = "wallet.transaction.created"
	BalanceRefreshedTopic   = "wallet.balance.refreshed"
	OwnerCreatedDLQTopic    = "owner.created.dlq"
)

// DeadLetterMessage carries an owner.created message that kept failing.
type DeadLetterMessage struct {
	OriginalTopic string    `json:"original_topic"`
	Key           string    `json:"key"`
	Value         string    `json:"value"`
	Error         string    `json:"error"`
	Timestamp     time.Time `json:"timestamp"`
	Attempts      int       `json:"attempts"`
}

// OwnerCreatedEvent is emitted by the owner-model service once a new owner
// row is committed.
type OwnerCreatedEvent struct {
	OwnerType string    `json:"owner_type"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

type WalletCreatedEvent struct {
	WalletID      uuid.UUID `json:"wallet_id"`
	OwnerType     string    `json:"owner_type"`
	OwnerID       string    `json:"owner_id"`
	Name          string    `json:"name"`
	DecimalPlaces uint8     `json:"decimal_places"`
}

type TransactionCreatedEvent struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	WalletID      uuid.UUID       `json:"wallet_id"`
	Type          TransactionType `json:"transaction_type"`
	Amount        int64           `json:"amount"`
	Confirmed     bool            `json:"confirmed"`
	Meta          Meta            `json:"meta,omitempty"`
}

type BalanceRefreshedEvent struct {
	WalletID  uuid.UUID `json:"wallet_id"`
	OwnerType string    `json:"owner_type"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Balance   int64     `json:"balance"`
}
