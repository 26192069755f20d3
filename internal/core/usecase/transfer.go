package usecase

import (
	"bytes"
	"context"

	"github.com/shopspring/decimal"

	"github.com/Nzyazin/walletledger/internal/core/logger"
	"github.com/Nzyazin/walletledger/internal/core/models"
)

type TransferResult struct {
	Withdraw *models.WalletTransaction `json:"withdraw"`
	Deposit  *models.WalletTransaction `json:"deposit"`
}

// transferAmount returns the magnitude of each leg for the locked wallets.
type transferAmount func(from, to *models.Wallet) (withdraw, deposit int64, err error)

// TransferBetween moves amount minor units from one wallet to another,
// whoever owns them. Both legs commit together. On success from and to
// carry the refreshed balances.
func (l *Ledger) TransferBetween(ctx context.Context, from, to *models.Wallet, amount int64, opts ...TransactionOption) (*TransferResult, error) {
	return l.transfer(ctx, from, to, func(_, _ *models.Wallet) (int64, int64, error) {
		return amount, amount, nil
	}, opts)
}

// TransferDecimalBetween truncates amount to the smaller precision of the
// two wallets, then scales each leg with its own wallet's decimal places.
func (l *Ledger) TransferDecimalBetween(ctx context.Context, from, to *models.Wallet, amount decimal.Decimal, opts ...TransactionOption) (*TransferResult, error) {
	return l.transfer(ctx, from, to, func(f, t *models.Wallet) (int64, int64, error) {
		places := f.DecimalPlaces
		if t.DecimalPlaces < places {
			places = t.DecimalPlaces
		}
		common := amount.Truncate(int32(places))
		withdraw, err := scale(common, f.DecimalPlaces)
		if err != nil {
			return 0, 0, err
		}
		deposit, err := scale(common, t.DecimalPlaces)
		if err != nil {
			return 0, 0, err
		}
		return withdraw, deposit, nil
	}, opts)
}

func (l *Ledger) transfer(ctx context.Context, from, to *models.Wallet, amount transferAmount, opts []TransactionOption) (*TransferResult, error) {
	if from == nil || to == nil {
		return nil, InvalidTransaction("both wallets are required")
	}
	if from.ID == to.ID {
		return nil, InvalidTransaction("cannot transfer to the same wallet")
	}

	o := buildOptions(opts)
	var (
		result       TransferResult
		lockedFrom   *models.Wallet
		lockedTo     *models.Wallet
		withdrawLeg  int64
		notFoundName = from.Name
	)

	err := l.withinScope(ctx, func(ctx context.Context, sc *scope) error {
		firstID, secondID := from.ID, to.ID
		if bytes.Compare(firstID[:], secondID[:]) > 0 {
			firstID, secondID = secondID, firstID
		}
		first, err := sc.repo.LockWallet(ctx, firstID)
		if err != nil {
			if firstID == to.ID {
				notFoundName = to.Name
			}
			return err
		}
		second, err := sc.repo.LockWallet(ctx, secondID)
		if err != nil {
			if secondID == to.ID {
				notFoundName = to.Name
			}
			return err
		}
		lockedFrom, lockedTo = first, second
		if first.ID != from.ID {
			lockedFrom, lockedTo = second, first
		}

		w, d, err := amount(lockedFrom, lockedTo)
		if err != nil {
			return err
		}
		if w <= 0 || d <= 0 {
			return errNonPositiveAmount
		}
		if !canReceive(lockedTo, d) {
			return errAmountOutOfRange
		}
		withdrawLeg = w

		if _, err := sc.refreshBalance(ctx, lockedFrom); err != nil {
			return err
		}
		if !canCover(lockedFrom, w) {
			return InsufficientBalance()
		}

		result.Withdraw = models.NewTransaction(lockedFrom.ID, models.TransactionWithdraw, w, true)
		o.apply(result.Withdraw)
		if err := sc.insert(ctx, lockedFrom, result.Withdraw); err != nil {
			return err
		}

		result.Deposit = models.NewTransaction(lockedTo.ID, models.TransactionDeposit, d, true)
		o.apply(result.Deposit)
		return sc.insert(ctx, lockedTo, result.Deposit)
	})

	err = classify(err, notFoundName)
	fields := []logger.Field{
		logger.StringField("from_wallet_id", from.ID.String()),
		logger.StringField("to_wallet_id", to.ID.String()),
	}
	if err != nil {
		l.report("transfer", 0, err, fields...)
		return nil, err
	}
	l.report("transfer", withdrawLeg, nil, fields...)

	from.Balance, from.UpdatedAt = lockedFrom.Balance, lockedFrom.UpdatedAt
	to.Balance, to.UpdatedAt = lockedTo.Balance, lockedTo.UpdatedAt
	return &result, nil
}
