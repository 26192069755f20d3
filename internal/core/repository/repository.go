package repository

import (
	"context"
	"errors"

	"github.com/Nzyazin/walletledger/internal/core/models"
	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrOutOfRange reports an aggregate that no longer fits in int64.
	ErrOutOfRange = errors.New("value out of range")
)

// WalletRepository is the set of persistence primitives the ledger builds
// on. Soft-deleted wallets are invisible to every lookup.
type WalletRepository interface {
	CreateWallet(ctx context.Context, wallet *models.Wallet) error
	GetWallet(ctx context.Context, owner models.Owner, name string) (*models.Wallet, error)
	GetWalletByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	// LockWallet reads the wallet and holds a write lock on its row until
	// the enclosing transaction ends.
	LockWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	ListWallets(ctx context.Context, owner models.Owner) ([]models.Wallet, error)
	// UpdateBalance persists wallet.Balance and stamps wallet.UpdatedAt.
	// Stamps of one wallet name strictly increase, so they order revisions.
	UpdateBalance(ctx context.Context, wallet *models.Wallet) error
	// SoftDeleteWallet hides the wallet and sets its DeletedAt and UpdatedAt.
	SoftDeleteWallet(ctx context.Context, wallet *models.Wallet) error

	CreateTransaction(ctx context.Context, txn *models.WalletTransaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.WalletTransaction, error)
	// SumTransactions totals amounts on the wallet. With confirmedOnly
	// unset, pending transactions are included.
	SumTransactions(ctx context.Context, walletID uuid.UUID, confirmedOnly bool) (int64, error)
	CountTransactions(ctx context.Context, walletID uuid.UUID) (int64, error)
	ConfirmTransaction(ctx context.Context, id uuid.UUID) error
	ConfirmAllTransactions(ctx context.Context, walletID uuid.UUID) (int64, error)
	ListTransactions(ctx context.Context, walletID uuid.UUID, confirmed bool, page models.PageRequest, order models.SortOrder) (models.Page[models.WalletTransaction], error)
}

// Store is a WalletRepository that can open a transactional scope. Every
// write made through the repository handed to fn commits together, or not
// at all when fn returns an error.
type Store interface {
	WalletRepository
	WithinTx(ctx context.Context, fn func(ctx context.Context, repo WalletRepository) error) error
}
