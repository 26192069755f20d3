package usecase

import (
	"time"

	"github.com/Nzyazin/walletledger/internal/core/models"
)

type transactionOptions struct {
	confirmed bool
	meta      models.Meta
	expiresAt *time.Time
}

type TransactionOption func(*transactionOptions)

// Unconfirmed records a deposit as pending. It has no effect on
// withdrawals or transfers, which are always confirmed.
func Unconfirmed() TransactionOption {
	return func(o *transactionOptions) { o.confirmed = false }
}

func WithMeta(meta models.Meta) TransactionOption {
	return func(o *transactionOptions) { o.meta = meta.Clone() }
}

// ExpiresAt is stored on the transaction and not acted upon.
func ExpiresAt(t time.Time) TransactionOption {
	return func(o *transactionOptions) { o.expiresAt = &t }
}

func buildOptions(opts []TransactionOption) transactionOptions {
	o := transactionOptions{confirmed: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o transactionOptions) apply(txn *models.WalletTransaction) {
	txn.Meta = o.meta.Clone()
	if o.expiresAt != nil {
		t := *o.expiresAt
		txn.ExpiresAt = &t
	}
}
