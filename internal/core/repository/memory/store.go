// Package memory is an in-process Store used by tests and local runs.
// Transactional scopes are serialized by a single mutex and run against a
// copy of the data, which is swapped in on success and dropped on error.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Nzyazin/walletledger/internal/core/models"
	"github.com/Nzyazin/walletledger/internal/core/repository"
)

var (
	minSum = decimal.NewFromInt(math.MinInt64)
	maxSum = decimal.NewFromInt(math.MaxInt64)
)

type ownerKey struct {
	ownerType string
	ownerID   string
	name      string
}

type storedTransaction struct {
	txn models.WalletTransaction
	seq uint64
}

type state struct {
	wallets      map[uuid.UUID]models.Wallet
	transactions map[uuid.UUID]storedTransaction
	seq          uint64
	// lastStamp is the latest wallet UpdatedAt handed out.
	lastStamp time.Time
}

func newState() *state {
	return &state{
		wallets:      make(map[uuid.UUID]models.Wallet),
		transactions: make(map[uuid.UUID]storedTransaction),
	}
}

func (s *state) clone() *state {
	out := &state{
		wallets:      make(map[uuid.UUID]models.Wallet, len(s.wallets)),
		transactions: make(map[uuid.UUID]storedTransaction, len(s.transactions)),
		seq:          s.seq,
		lastStamp:    s.lastStamp,
	}
	for id, w := range s.wallets {
		out.wallets[id] = w
	}
	for id, t := range s.transactions {
		out.transactions[id] = t
	}
	return out
}

type Store struct {
	mu    sync.Mutex
	data  *state
	now   func() time.Time
	fault func(op string) error
}

type Option func(*Store)

// WithClock replaces time.Now for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithFault makes the named primitive fail with the returned error.
// Tests use it to abort a scope half way through.
func WithFault(fault func(op string) error) Option {
	return func(s *Store) { s.fault = fault }
}

func NewStore(opts ...Option) *Store {
	s := &Store{data: newState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ repository.Store = (*Store)(nil)

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repo repository.WalletRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scratch := s.data.clone()
	if err := fn(ctx, &view{store: s, data: scratch}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = scratch
	return nil
}

// autocommit runs a single primitive outside an explicit scope.
func (s *Store) autocommit(ctx context.Context, fn func(v *view) error) error {
	return s.WithinTx(ctx, func(_ context.Context, repo repository.WalletRepository) error {
		return fn(repo.(*view))
	})
}

func (s *Store) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	return s.autocommit(ctx, func(v *view) error { return v.CreateWallet(ctx, wallet) })
}

func (s *Store) GetWallet(ctx context.Context, owner models.Owner, name string) (w *models.Wallet, err error) {
	err = s.autocommit(ctx, func(v *view) error {
		w, err = v.GetWallet(ctx, owner, name)
		return err
	})
	return w, err
}

func (s *Store) GetWalletByID(ctx context.Context, id uuid.UUID) (w *models.Wallet, err error) {
	err = s.autocommit(ctx, func(v *view) error {
		w, err = v.GetWalletByID(ctx, id)
		return err
	})
	return w, err
}

func (s *Store) LockWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	return s.GetWalletByID(ctx, id)
}

func (s *Store) ListWallets(ctx context.Context, owner models.Owner) (ws []models.Wallet, err error) {
	err = s.autocommit(ctx, func(v *view) error {
		ws, err = v.ListWallets(ctx, owner)
		return err
	})
	return ws, err
}

func (s *Store) UpdateBalance(ctx context.Context, wallet *models.Wallet) error {
	return s.autocommit(ctx, func(v *view) error { return v.UpdateBalance(ctx, wallet) })
}

func (s *Store) SoftDeleteWallet(ctx context.Context, wallet *models.Wallet) error {
	return s.autocommit(ctx, func(v *view) error { return v.SoftDeleteWallet(ctx, wallet) })
}

func (s *Store) CreateTransaction(ctx context.Context, txn *models.WalletTransaction) error {
	return s.autocommit(ctx, func(v *view) error { return v.CreateTransaction(ctx, txn) })
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (t *models.WalletTransaction, err error) {
	err = s.autocommit(ctx, func(v *view) error {
		t, err = v.GetTransaction(ctx, id)
		return err
	})
	return t, err
}

func (s *Store) SumTransactions(ctx context.Context, walletID uuid.UUID, confirmedOnly bool) (sum int64, err error) {
	err = s.autocommit(ctx, func(v *view) error {
		sum, err = v.SumTransactions(ctx, walletID, confirmedOnly)
		return err
	})
	return sum, err
}

func (s *Store) CountTransactions(ctx context.Context, walletID uuid.UUID) (n int64, err error) {
	err = s.autocommit(ctx, func(v *view) error {
		n, err = v.CountTransactions(ctx, walletID)
		return err
	})
	return n, err
}

func (s *Store) ConfirmTransaction(ctx context.Context, id uuid.UUID) error {
	return s.autocommit(ctx, func(v *view) error { return v.ConfirmTransaction(ctx, id) })
}

func (s *Store) ConfirmAllTransactions(ctx context.Context, walletID uuid.UUID) (n int64, err error) {
	err = s.autocommit(ctx, func(v *view) error {
		n, err = v.ConfirmAllTransactions(ctx, walletID)
		return err
	})
	return n, err
}

func (s *Store) ListTransactions(ctx context.Context, walletID uuid.UUID, confirmed bool, page models.PageRequest, order models.SortOrder) (p models.Page[models.WalletTransaction], err error) {
	err = s.autocommit(ctx, func(v *view) error {
		p, err = v.ListTransactions(ctx, walletID, confirmed, page, order)
		return err
	})
	return p, err
}

// view is the repository handed to a scope. It is only used while the
// store mutex is held by that scope.
type view struct {
	store *Store
	data  *state
}

func (v *view) check(op string) error {
	if v.store.fault == nil {
		return nil
	}
	return v.store.fault(op)
}

// stamp returns a wallet revision time later than every earlier one, even
// when the clock stands still.
func (v *view) stamp() time.Time {
	now := v.store.now().Truncate(time.Microsecond)
	if next := v.data.lastStamp.Add(time.Microsecond); now.Before(next) {
		now = next
	}
	v.data.lastStamp = now
	return now
}

func (v *view) liveWallet(id uuid.UUID) (models.Wallet, bool) {
	w, ok := v.data.wallets[id]
	if !ok || w.DeletedAt != nil {
		return models.Wallet{}, false
	}
	return w, true
}

func (v *view) CreateWallet(_ context.Context, wallet *models.Wallet) error {
	if err := v.check("CreateWallet"); err != nil {
		return err
	}
	key := ownerKey{wallet.OwnerType, wallet.OwnerID, wallet.Name}
	for _, w := range v.data.wallets {
		if w.DeletedAt == nil && (ownerKey{w.OwnerType, w.OwnerID, w.Name}) == key {
			return repository.ErrDuplicate
		}
	}
	if _, exists := v.data.wallets[wallet.ID]; exists {
		return repository.ErrDuplicate
	}
	wallet.CreatedAt = v.store.now()
	wallet.UpdatedAt = v.stamp()
	v.data.wallets[wallet.ID] = *wallet
	return nil
}

func (v *view) GetWallet(_ context.Context, owner models.Owner, name string) (*models.Wallet, error) {
	if err := v.check("GetWallet"); err != nil {
		return nil, err
	}
	for _, w := range v.data.wallets {
		if w.DeletedAt == nil && w.OwnedBy(owner) && w.Name == name {
			found := w
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (v *view) GetWalletByID(_ context.Context, id uuid.UUID) (*models.Wallet, error) {
	if err := v.check("GetWalletByID"); err != nil {
		return nil, err
	}
	w, ok := v.liveWallet(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &w, nil
}

// LockWallet needs no lock of its own: the whole scope holds the store mutex.
func (v *view) LockWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	if err := v.check("LockWallet"); err != nil {
		return nil, err
	}
	return v.GetWalletByID(ctx, id)
}

func (v *view) ListWallets(_ context.Context, owner models.Owner) ([]models.Wallet, error) {
	if err := v.check("ListWallets"); err != nil {
		return nil, err
	}
	wallets := []models.Wallet{}
	for _, w := range v.data.wallets {
		if w.DeletedAt == nil && w.OwnedBy(owner) {
			wallets = append(wallets, w)
		}
	}
	sort.Slice(wallets, func(i, j int) bool {
		if !wallets[i].CreatedAt.Equal(wallets[j].CreatedAt) {
			return wallets[i].CreatedAt.Before(wallets[j].CreatedAt)
		}
		return wallets[i].Name < wallets[j].Name
	})
	return wallets, nil
}

func (v *view) UpdateBalance(_ context.Context, wallet *models.Wallet) error {
	if err := v.check("UpdateBalance"); err != nil {
		return err
	}
	stored, ok := v.liveWallet(wallet.ID)
	if !ok {
		return repository.ErrNotFound
	}
	stored.Balance = wallet.Balance
	stored.UpdatedAt = v.stamp()
	v.data.wallets[wallet.ID] = stored
	wallet.UpdatedAt = stored.UpdatedAt
	return nil
}

func (v *view) SoftDeleteWallet(_ context.Context, wallet *models.Wallet) error {
	if err := v.check("SoftDeleteWallet"); err != nil {
		return err
	}
	stored, ok := v.liveWallet(wallet.ID)
	if !ok {
		return repository.ErrNotFound
	}
	now := v.stamp()
	stored.DeletedAt = &now
	stored.UpdatedAt = now
	v.data.wallets[wallet.ID] = stored

	deletedAt := now
	wallet.DeletedAt = &deletedAt
	wallet.UpdatedAt = now
	return nil
}

func (v *view) CreateTransaction(_ context.Context, txn *models.WalletTransaction) error {
	if err := v.check("CreateTransaction"); err != nil {
		return err
	}
	if _, ok := v.data.wallets[txn.WalletID]; !ok {
		return repository.ErrNotFound
	}
	if _, exists := v.data.transactions[txn.ID]; exists {
		return repository.ErrDuplicate
	}
	now := v.store.now()
	txn.CreatedAt = now
	txn.UpdatedAt = now
	v.data.seq++
	stored := *txn
	stored.Meta = txn.Meta.Clone()
	v.data.transactions[txn.ID] = storedTransaction{txn: stored, seq: v.data.seq}
	return nil
}

func (v *view) GetTransaction(_ context.Context, id uuid.UUID) (*models.WalletTransaction, error) {
	if err := v.check("GetTransaction"); err != nil {
		return nil, err
	}
	stored, ok := v.data.transactions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	txn := stored.txn
	txn.Meta = stored.txn.Meta.Clone()
	return &txn, nil
}

func (v *view) SumTransactions(_ context.Context, walletID uuid.UUID, confirmedOnly bool) (int64, error) {
	if err := v.check("SumTransactions"); err != nil {
		return 0, err
	}
	sum := decimal.Zero
	for _, stored := range v.data.transactions {
		if stored.txn.WalletID != walletID {
			continue
		}
		if confirmedOnly && !stored.txn.Confirmed {
			continue
		}
		sum = sum.Add(decimal.NewFromInt(stored.txn.Amount))
	}
	if sum.GreaterThan(maxSum) || sum.LessThan(minSum) {
		return 0, repository.ErrOutOfRange
	}
	return sum.IntPart(), nil
}

func (v *view) CountTransactions(_ context.Context, walletID uuid.UUID) (int64, error) {
	if err := v.check("CountTransactions"); err != nil {
		return 0, err
	}
	var count int64
	for _, stored := range v.data.transactions {
		if stored.txn.WalletID == walletID {
			count++
		}
	}
	return count, nil
}

func (v *view) ConfirmTransaction(_ context.Context, id uuid.UUID) error {
	if err := v.check("ConfirmTransaction"); err != nil {
		return err
	}
	stored, ok := v.data.transactions[id]
	if !ok {
		return repository.ErrNotFound
	}
	stored.txn.Confirmed = true
	stored.txn.UpdatedAt = v.store.now()
	v.data.transactions[id] = stored
	return nil
}

func (v *view) ConfirmAllTransactions(_ context.Context, walletID uuid.UUID) (int64, error) {
	if err := v.check("ConfirmAllTransactions"); err != nil {
		return 0, err
	}
	var affected int64
	now := v.store.now()
	for id, stored := range v.data.transactions {
		if stored.txn.WalletID != walletID || stored.txn.Confirmed {
			continue
		}
		stored.txn.Confirmed = true
		stored.txn.UpdatedAt = now
		v.data.transactions[id] = stored
		affected++
	}
	return affected, nil
}

func (v *view) ListTransactions(_ context.Context, walletID uuid.UUID, confirmed bool, page models.PageRequest, order models.SortOrder) (models.Page[models.WalletTransaction], error) {
	page = page.Normalize()
	result := models.Page[models.WalletTransaction]{
		Items:    []models.WalletTransaction{},
		Metadata: models.PageMetadata{Page: page.Page, Per: page.Per},
	}
	if err := v.check("ListTransactions"); err != nil {
		return result, err
	}

	var matched []storedTransaction
	for _, stored := range v.data.transactions {
		if stored.txn.WalletID == walletID && stored.txn.Confirmed == confirmed {
			matched = append(matched, stored)
		}
	}

	ascending := order.Normalize() == models.SortAscending
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.txn.CreatedAt.Equal(b.txn.CreatedAt) {
			if ascending {
				return a.txn.CreatedAt.Before(b.txn.CreatedAt)
			}
			return a.txn.CreatedAt.After(b.txn.CreatedAt)
		}
		if ascending {
			return a.seq < b.seq
		}
		return a.seq > b.seq
	})

	result.Metadata.Total = int64(len(matched))
	start := page.Offset()
	if start >= len(matched) {
		return result, nil
	}
	end := start + page.Per
	if end > len(matched) {
		end = len(matched)
	}
	for _, stored := range matched[start:end] {
		txn := stored.txn
		txn.Meta = stored.txn.Meta.Clone()
		result.Items = append(result.Items, txn)
	}
	return result, nil
}
