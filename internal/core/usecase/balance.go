package usecase

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/Nzyazin/walletledger/internal/core/models"
	"github.com/Nzyazin/walletledger/internal/core/repository"
)

type outboundEvent struct {
	topic   string
	key     string
	payload interface{}
}

// scope is the state of one open store transaction. dirty holds the last
// known row of every wallet whose balance or lifecycle changed in it.
type scope struct {
	repo   repository.WalletRepository
	dirty  map[uuid.UUID]models.Wallet
	events []outboundEvent
}

func newScope(repo repository.WalletRepository) *scope {
	return &scope{repo: repo, dirty: make(map[uuid.UUID]models.Wallet)}
}

func (sc *scope) emit(topic, key string, payload interface{}) {
	sc.events = append(sc.events, outboundEvent{topic: topic, key: key, payload: payload})
}

func (sc *scope) touch(w *models.Wallet) {
	sc.dirty[w.ID] = *w
}

// lock resolves an owner's wallet by name and takes its row lock.
func (sc *scope) lock(ctx context.Context, owner models.Owner, name string) (*models.Wallet, error) {
	w, err := sc.repo.GetWallet(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	return sc.repo.LockWallet(ctx, w.ID)
}

// refreshBalance recomputes the cached balance from confirmed rows and
// persists it.
func (sc *scope) refreshBalance(ctx context.Context, w *models.Wallet) (int64, error) {
	sum, err := sc.repo.SumTransactions(ctx, w.ID, true)
	if err != nil {
		return 0, err
	}
	w.Balance = sum
	if err := sc.repo.UpdateBalance(ctx, w); err != nil {
		return 0, err
	}
	sc.touch(w)
	return sum, nil
}

// balance is the cached field, or a live sum over every row when
// includeUnconfirmed is set. The live sum is never written back.
func balance(ctx context.Context, repo repository.WalletRepository, w *models.Wallet, includeUnconfirmed bool) (int64, error) {
	if !includeUnconfirmed {
		return w.Balance, nil
	}
	return repo.SumTransactions(ctx, w.ID, false)
}

// insert writes txn and runs the transaction-created hook in the same scope.
func (sc *scope) insert(ctx context.Context, w *models.Wallet, txn *models.WalletTransaction) error {
	if err := sc.repo.CreateTransaction(ctx, txn); err != nil {
		return err
	}
	sc.emit(models.TransactionCreatedTopic, w.ID.String(), models.TransactionCreatedEvent{
		TransactionID: txn.ID,
		WalletID:      txn.WalletID,
		Type:          txn.Type,
		Amount:        txn.Amount,
		Confirmed:     txn.Confirmed,
		Meta:          txn.Meta.Clone(),
	})
	_, err := sc.afterTransactionCreated(ctx, w)
	return err
}

func (sc *scope) afterTransactionCreated(ctx context.Context, w *models.Wallet) (int64, error) {
	return sc.refreshBalance(ctx, w)
}

// canReceive reports whether amount can be added to w without leaving int64.
func canReceive(w *models.Wallet, amount int64) bool {
	return amount <= 0 || w.Balance <= math.MaxInt64-amount
}

// canCover reports whether w stays at or above its floor after amount is
// taken out.
func canCover(w *models.Wallet, amount int64) bool {
	if amount > 0 && w.Balance < math.MinInt64+amount {
		return false
	}
	if amount < 0 && w.Balance > math.MaxInt64+amount {
		return true
	}
	return w.Balance-amount >= w.MinAllowedBalance
}
