package usecase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Nzyazin/walletledger/internal/core/logger"
	"github.com/Nzyazin/walletledger/internal/core/models"
	"github.com/Nzyazin/walletledger/internal/core/money"
	"github.com/Nzyazin/walletledger/internal/core/repository"
)

var (
	errNonPositiveAmount = InvalidTransaction("amount must be positive")
	errAmountOutOfRange  = InvalidTransaction("amount out of range")
)

// WalletsRepository is the ledger seen by one owner. Every mutation runs in
// exactly one store transaction.
type WalletsRepository struct {
	ledger *Ledger
	owner  models.OwnerRef
}

func (r *WalletsRepository) Owner() models.OwnerRef { return r.owner }

func (r *WalletsRepository) fields(name string) []logger.Field {
	return []logger.Field{
		logger.StringField("owner_type", r.owner.Type),
		logger.StringField("owner_id", r.owner.ID),
		logger.StringField("wallet", name),
	}
}

func (r *WalletsRepository) Create(ctx context.Context, name string, decimalPlaces uint8, minAllowedBalance int64) (*models.Wallet, error) {
	if name == "" {
		return nil, InvalidTransaction("wallet name is required")
	}
	if !money.ValidPlaces(decimalPlaces) {
		return nil, InvalidTransaction("decimal places out of range")
	}

	wallet := models.NewWallet(r.owner, name, decimalPlaces, minAllowedBalance)
	err := r.ledger.withinScope(ctx, func(ctx context.Context, sc *scope) error {
		_, err := sc.repo.GetWallet(ctx, r.owner, name)
		switch {
		case err == nil:
			return DuplicateWalletType(name)
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}
		if err := sc.repo.CreateWallet(ctx, wallet); err != nil {
			return err
		}
		sc.emit(models.WalletCreatedTopic, wallet.ID.String(), models.WalletCreatedEvent{
			WalletID:      wallet.ID,
			OwnerType:     wallet.OwnerType,
			OwnerID:       wallet.OwnerID,
			Name:          wallet.Name,
			DecimalPlaces: wallet.DecimalPlaces,
		})
		return nil
	})
	err = classify(err, name)
	r.ledger.report("create_wallet", 0, err, r.fields(name)...)
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// CreateDefault creates the "default" wallet with the configured defaults.
func (r *WalletsRepository) CreateDefault(ctx context.Context) (*models.Wallet, error) {
	d := r.ledger.defaults
	return r.Create(ctx, models.DefaultWallet, d.DecimalPlaces, d.MinAllowedBalance)
}

func (r *WalletsRepository) Get(ctx context.Context, name string) (*models.Wallet, error) {
	w, err := r.ledger.store.GetWallet(ctx, r.owner, name)
	if err != nil {
		return nil, classify(err, name)
	}
	return w, nil
}

func (r *WalletsRepository) Default(ctx context.Context) (*models.Wallet, error) {
	return r.Get(ctx, models.DefaultWallet)
}

func (r *WalletsRepository) All(ctx context.Context) ([]models.Wallet, error) {
	wallets, err := r.ledger.store.ListWallets(ctx, r.owner)
	if err != nil {
		return nil, TransactionFailed(err)
	}
	return wallets, nil
}

// Balance returns the cached confirmed balance in minor units, or the live
// sum of every transaction when includeUnconfirmed is set.
func (r *WalletsRepository) Balance(ctx context.Context, name string, includeUnconfirmed bool) (int64, error) {
	c := r.ledger.cache
	if !includeUnconfirmed && c != nil {
		if cached, ok, err := c.Get(ctx, r.owner, name); err != nil {
			r.ledger.log.Warn("Balance cache read failed", append(r.fields(name), logger.ErrorField("error", err))...)
		} else if ok {
			return cached, nil
		}
	}

	w, err := r.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	value, err := balance(ctx, r.ledger.store, w, includeUnconfirmed)
	if err != nil {
		return 0, classify(err, name)
	}

	if !includeUnconfirmed && c != nil {
		if err := c.Put(ctx, w); err != nil {
			r.ledger.log.Warn("Balance cache write failed", append(r.fields(name), logger.ErrorField("error", err))...)
		}
	}
	return value, nil
}

func (r *WalletsRepository) DecimalBalance(ctx context.Context, name string, includeUnconfirmed bool) (decimal.Decimal, error) {
	w, err := r.Get(ctx, name)
	if err != nil {
		return decimal.Zero, err
	}
	value, err := balance(ctx, r.ledger.store, w, includeUnconfirmed)
	if err != nil {
		return decimal.Zero, classify(err, name)
	}
	return money.ToDecimal(value, w.DecimalPlaces), nil
}

func (r *WalletsRepository) RefreshBalance(ctx context.Context, name string) (int64, error) {
	var result int64
	err := r.ledger.withinScope(ctx, func(ctx context.Context, sc *scope) error {
		w, err := sc.lock(ctx, r.owner, name)
		if err != nil {
			return err
		}
		result, err = sc.refreshBalance(ctx, w)
		return err
	})
	if err != nil {
		return 0, classify(err, name)
	}
	return result, nil
}

// CanWithdraw refreshes the balance under the wallet lock and reports
// whether amount can be taken without crossing the minimum balance.
func (r *WalletsRepository) CanWithdraw(ctx context.Context, name string, amount int64) (bool, error) {
	var ok bool
	err := r.ledger.withinScope(ctx, func(ctx context.Context, sc *scope) error {
		w, err := sc.lock(ctx, r.owner, name)
		if err != nil {
			return err
		}
		if _, err := sc.refreshBalance(ctx, w); err != nil {
			return err
		}
		ok = canCover(w, amount)
		return nil
	})
	if err != nil {
		return false, classify(err, name)
	}
	return ok, nil
}

func (r *WalletsRepository) Deposit(ctx context.Context, name string, amount int64, opts ...TransactionOption) (*models.WalletTransaction, error) {
	return r.deposit(ctx, name, fixedAmount(amount), opts)
}

func (r *WalletsRepository) DepositDecimal(ctx context.Context, name string, amount decimal.Decimal, opts ...TransactionOption) (*models.WalletTransaction, error) {
	return r.deposit(ctx, name, scaledAmount(amount), opts)
}

func (r *WalletsRepository) deposit(ctx context.Context, name string, amount amountFunc, opts []TransactionOption) (*models.WalletTransaction, error) {
	o := buildOptions(opts)
	var txn *models.WalletTransaction
	err := r.ledger.withinScope(ctx, func(ctx context.Context, sc *scope) error {
		w, err := sc.lock(ctx, r.owner, name)
		if err != nil {
			return err
		}
		minor, err := amount(w)
		if err != nil {
			return err
		}
		if minor <= 0 {
			return errNonPositiveAmount
		}
		if !canReceive(w, minor) {
			return errAmountOutOfRange
		}
		txn = models.NewTransaction(w.ID, models.TransactionDeposit, minor, o.confirmed)
		o.apply(txn)
		return sc.insert(ctx, w, txn)
	})
	err = classify(err, name)
	r.ledger.report("deposit", amountOf(txn, err), err, r.fields(name)...)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (r *WalletsRepository) Withdraw(ctx context.Context, name string, amount int64, opts ...TransactionOption) (*models.WalletTransaction, error) {
	return r.withdraw(ctx, name, fixedAmount(amount), opts)
}

func (r *WalletsRepository) WithdrawDecimal(ctx context.Context, name string, amount decimal.Decimal, opts ...TransactionOption) (*models.WalletTransaction, error) {
	return r.withdraw(ctx, name, scaledAmount(amount), opts)
}

func (r *WalletsRepository) withdraw(ctx context.Context, name string, amount amountFunc, opts []TransactionOption) (*models.WalletTransaction, error) {
	o := buildOptions(opts)
	var txn *models.WalletTransaction
	err := r.ledger.withinScope(ctx, func(ctx context.Context, sc *scope) error {
		w, err := sc.lock(ctx, r.owner, name)
		if err != nil {
			return err
		}
		minor, err := amount(w)
		if err != nil {
			return err
		}
		if minor <= 0 {
			return errNonPositiveAmount
		}
		if _, err := sc.refreshBalance(ctx, w); err != nil {
			return err
		}
		if !canCover(w, minor) {
			return InsufficientBalance()
		}
		txn = models.NewTransaction(w.ID, models.TransactionWithdraw, minor, true)
		o.apply(txn)
		return sc.insert(ctx, w, txn)
	})
	err = classify(err, name)
	r.ledger.report("withdraw", amountOf(txn, err), err, r.fields(name)...)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Transfer moves amount between two wallets of this owner.
func (r *WalletsRepository) Transfer(ctx context.Context, fromName, toName string, amount int64, opts ...TransactionOption) (*TransferResult, error) {
	from, to, err := r.pair(ctx, fromName, toName)
	if err != nil {
		return nil, err
	}
	return r.ledger.TransferBetween(ctx, from, to, amount, opts...)
}

func (r *WalletsRepository) TransferDecimal(ctx context.Context, fromName, toName string, amount decimal.Decimal, opts ...TransactionOption) (*TransferResult, error) {
	from, to, err := r.pair(ctx, fromName, toName)
	if err != nil {
		return nil, err
	}
	return r.ledger.TransferDecimalBetween(ctx, from, to, amount, opts...)
}

func (r *WalletsRepository) pair(ctx context.Context, fromName, toName string) (*models.Wallet, *models.Wallet, error) {
	from, err := r.Get(ctx, fromName)
	if err != nil {
		return nil, nil, err
	}
	to, err := r.Get(ctx, toName)
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

// Transactions lists confirmed transactions of the wallet.
func (r *WalletsRepository) Transactions(ctx context.Context, name string, page models.PageRequest, order models.SortOrder) (models.Page[models.WalletTransaction], error) {
	return r.list(ctx, name, true, page, order)
}

func (r *WalletsRepository) UnconfirmedTransactions(ctx context.Context, name string, page models.PageRequest, order models.SortOrder) (models.Page[models.WalletTransaction], error) {
	return r.list(ctx, name, false, page, order)
}

func (r *WalletsRepository) list(ctx context.Context, name string, confirmed bool, page models.PageRequest, order models.SortOrder) (models.Page[models.WalletTransaction], error) {
	w, err := r.Get(ctx, name)
	if err != nil {
		return models.Page[models.WalletTransaction]{}, err
	}
	result, err := r.ledger.store.ListTransactions(ctx, w.ID, confirmed, page, order)
	if err != nil {
		return models.Page[models.WalletTransaction]{}, TransactionFailed(err)
	}
	return result, nil
}

// ConfirmAll confirms every pending transaction of the wallet and returns
// the refreshed balance.
func (r *WalletsRepository) ConfirmAll(ctx context.Context, name string) (int64, error) {
	var result int64
	err := r.ledger.withinScope(ctx, func(ctx context.Context, sc *scope) error {
		w, err := sc.lock(ctx, r.owner, name)
		if err != nil {
			return err
		}
		if _, err := sc.repo.ConfirmAllTransactions(ctx, w.ID); err != nil {
			return err
		}
		result, err = sc.refreshBalance(ctx, w)
		return err
	})
	err = classify(err, name)
	r.ledger.report("confirm_all", 0, err, r.fields(name)...)
	return result, err
}

// Confirm confirms one transaction of this owner and returns the refreshed
// balance of its wallet.
func (r *WalletsRepository) Confirm(ctx context.Context, txn *models.WalletTransaction) (int64, error) {
	if txn == nil {
		return 0, InvalidTransaction("transaction is required")
	}
	owner := r.owner
	result, err := r.ledger.confirm(ctx, txn.ID, &owner, "")
	if err == nil {
		txn.Confirmed = true
	}
	return result, err
}

// ConfirmTransaction confirms the transaction with the given ID, which must
// belong to the named wallet of this owner.
func (r *WalletsRepository) ConfirmTransaction(ctx context.Context, name string, txnID uuid.UUID) (int64, error) {
	owner := r.owner
	return r.ledger.confirm(ctx, txnID, &owner, name)
}

// Empty withdraws the difference between the balance and the level chosen
// by strategy. A zero difference returns a nil transaction.
func (r *WalletsRepository) Empty(ctx context.Context, name string, strategy models.EmptyStrategy, meta models.Meta) (*models.WalletTransaction, error) {
	if !strategy.Valid() {
		return nil, InvalidTransaction("unknown empty strategy")
	}

	var txn *models.WalletTransaction
	err := r.ledger.withinScope(ctx, func(ctx context.Context, sc *scope) error {
		w, err := sc.lock(ctx, r.owner, name)
		if err != nil {
			return err
		}
		if _, err := sc.refreshBalance(ctx, w); err != nil {
			return err
		}

		var target int64
		switch strategy {
		case models.EmptyToZero:
			if w.Balance < 0 {
				return InvalidTransaction("balance is already negative")
			}
		case models.EmptyToMinAllowed:
			if w.Balance < w.MinAllowedBalance {
				return InvalidTransaction("balance is below the minimum allowed")
			}
			target = w.MinAllowedBalance
		}

		diff := w.Balance - target
		if diff == 0 {
			return nil
		}
		if !canCover(w, diff) {
			return InsufficientBalance()
		}
		txn = models.NewTransaction(w.ID, models.TransactionWithdraw, diff, true)
		txn.Meta = meta.Clone()
		return sc.insert(ctx, w, txn)
	})
	err = classify(err, name)
	r.ledger.report("empty", amountOf(txn, err), err, r.fields(name)...)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Delete soft-deletes the wallet. Its transactions are kept and the name
// becomes available again.
func (r *WalletsRepository) Delete(ctx context.Context, name string) error {
	err := r.ledger.withinScope(ctx, func(ctx context.Context, sc *scope) error {
		w, err := sc.lock(ctx, r.owner, name)
		if err != nil {
			return err
		}
		if err := sc.repo.SoftDeleteWallet(ctx, w); err != nil {
			return err
		}
		sc.touch(w)
		return nil
	})
	err = classify(err, name)
	r.ledger.report("delete_wallet", 0, err, r.fields(name)...)
	return err
}

type amountFunc func(w *models.Wallet) (int64, error)

func fixedAmount(minor int64) amountFunc {
	return func(*models.Wallet) (int64, error) { return minor, nil }
}

func scaledAmount(amount decimal.Decimal) amountFunc {
	return func(w *models.Wallet) (int64, error) { return scale(amount, w.DecimalPlaces) }
}

// scale converts amount to minor units at places, reporting values that do
// not fit as an out of range transaction.
func scale(amount decimal.Decimal, places uint8) (int64, error) {
	minor, err := money.ToMinorUnits(amount, places)
	if err != nil {
		return 0, errAmountOutOfRange
	}
	return minor, nil
}

func amountOf(txn *models.WalletTransaction, err error) int64 {
	if txn == nil || err != nil {
		return 0
	}
	if txn.Amount < 0 {
		return -txn.Amount
	}
	return txn.Amount
}
