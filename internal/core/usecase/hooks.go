package usecase

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Nzyazin/walletledger/internal/core/logger"
	"github.com/Nzyazin/walletledger/internal/core/models"
	"github.com/Nzyazin/walletledger/internal/core/repository"
)

// OwnerCreated provisions the default wallet of a newly created owner.
func (l *Ledger) OwnerCreated(ctx context.Context, owner models.Owner) (*models.Wallet, error) {
	wallets, err := l.Wallets(owner)
	if err != nil {
		return nil, err
	}
	return wallets.CreateDefault(ctx)
}

// TransactionCreated brings the wallet balance in line after txn was
// inserted by a writer outside the ledger. Inserts made by the ledger run
// the same refresh inside their own scope.
func (l *Ledger) TransactionCreated(ctx context.Context, txn *models.WalletTransaction) (int64, error) {
	if txn == nil {
		return 0, InvalidTransaction("transaction is required")
	}
	var result int64
	err := l.withinScope(ctx, func(ctx context.Context, sc *scope) error {
		w, err := sc.repo.LockWallet(ctx, txn.WalletID)
		if err != nil {
			return err
		}
		result, err = sc.afterTransactionCreated(ctx, w)
		return err
	})
	if err != nil {
		return 0, classify(err, txn.WalletID.String())
	}
	return result, nil
}

// Confirm confirms the transaction with the given ID regardless of owner
// and returns the refreshed balance of its wallet.
func (l *Ledger) Confirm(ctx context.Context, txnID uuid.UUID) (int64, error) {
	return l.confirm(ctx, txnID, nil, "")
}

// confirm confirms txnID. A non-nil owner and a non-empty wallet name
// restrict which transactions may be confirmed.
func (l *Ledger) confirm(ctx context.Context, txnID uuid.UUID, owner *models.OwnerRef, wallet string) (int64, error) {
	var (
		result int64
		name   = txnID.String()
	)
	err := l.withinScope(ctx, func(ctx context.Context, sc *scope) error {
		stored, err := sc.repo.GetTransaction(ctx, txnID)
		if errors.Is(err, repository.ErrNotFound) {
			return InvalidTransaction("unknown transaction")
		}
		if err != nil {
			return err
		}
		w, err := sc.repo.LockWallet(ctx, stored.WalletID)
		if err != nil {
			return err
		}
		name = w.Name
		if owner != nil && !w.OwnedBy(owner) {
			return InvalidTransaction("transaction belongs to another owner")
		}
		if wallet != "" && w.Name != wallet {
			return InvalidTransaction("transaction belongs to another wallet")
		}
		if !stored.Confirmed {
			if err := sc.repo.ConfirmTransaction(ctx, stored.ID); err != nil {
				return err
			}
		}
		result, err = sc.refreshBalance(ctx, w)
		return err
	})
	err = classify(err, name)
	l.report("confirm", 0, err, logger.StringField("transaction_id", txnID.String()))
	return result, err
}
