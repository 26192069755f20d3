package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Nzyazin/walletledger/internal/core/logger"
	"github.com/Nzyazin/walletledger/internal/core/models"
	"github.com/Nzyazin/walletledger/internal/core/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	uniqueViolation     pq.ErrorCode = "23505"
	foreignKeyViolation pq.ErrorCode = "23503"
	numericOutOfRange   pq.ErrorCode = "22003"
)

const walletColumns = `id, owner_type, owner_id, name, min_allowed_balance, balance, decimal_places, created_at, updated_at, deleted_at`

const transactionColumns = `id, wallet_id, transaction_type, amount, confirmed, meta, expires_at, created_at, updated_at`

type postgresWalletRepo struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
	log logger.Logger
}

func NewPostgresWalletRepo(db *sqlx.DB, log logger.Logger) repository.Store {
	return &postgresWalletRepo{
		db:  db,
		ext: db,
		log: log,
	}
}

// WithinTx runs fn in a READ COMMITTED transaction. Wallet rows read through
// LockWallet stay locked until commit, which is what serializes competing
// balance checks on one wallet. A repo that is already inside a
// transaction runs fn in place.
func (r *postgresWalletRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, repo repository.WalletRepository) error) (err error) {
	if _, inTx := r.ext.(*sqlx.Tx); inTx {
		return fn(ctx, r)
	}

	var isCommitted bool
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		r.log.Error("Error beginning transaction",
			logger.ErrorField("error", err))
		return fmt.Errorf("error beginning transaction: %w", err)
	}

	defer func() {
		if isCommitted {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			r.log.Error("Transaction rollback failed",
				logger.ErrorField("error", rbErr))
			if err != nil {
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
			return
		}
		if err != nil {
			r.log.Warn("Transaction rolled back due to error",
				logger.ErrorField("error", err))
		}
	}()

	if err = fn(ctx, &postgresWalletRepo{db: r.db, ext: tx, log: r.log}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		r.log.Error("Error committing transaction",
			logger.ErrorField("error", err))
		return fmt.Errorf("commit failed: %w", err)
	}

	isCommitted = true
	return nil
}

func (r *postgresWalletRepo) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	const query = `INSERT INTO wallets
        (id, owner_type, owner_id, name, min_allowed_balance, balance, decimal_places, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, clock_timestamp(), clock_timestamp())
        RETURNING created_at, updated_at`

	err := r.ext.QueryRowxContext(ctx, query,
		wallet.ID,
		wallet.OwnerType,
		wallet.OwnerID,
		wallet.Name,
		wallet.MinAllowedBalance,
		wallet.Balance,
		wallet.DecimalPlaces,
	).Scan(&wallet.CreatedAt, &wallet.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create wallet: %w", classify(err))
	}

	return nil
}

func (r *postgresWalletRepo) GetWallet(ctx context.Context, owner models.Owner, name string) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets
        WHERE owner_type = $1 AND owner_id = $2 AND name = $3 AND deleted_at IS NULL`
	return r.getWallet(ctx, query, owner.OwnerType(), owner.OwnerID(), name)
}

func (r *postgresWalletRepo) GetWalletByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 AND deleted_at IS NULL`
	return r.getWallet(ctx, query, id)
}

func (r *postgresWalletRepo) LockWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	return r.getWallet(ctx, query, id)
}

func (r *postgresWalletRepo) getWallet(ctx context.Context, query string, args ...interface{}) (*models.Wallet, error) {
	var wallet models.Wallet
	err := sqlx.GetContext(ctx, r.ext, &wallet, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("error getting wallet: %w", err)
	}
	return &wallet, nil
}

func (r *postgresWalletRepo) ListWallets(ctx context.Context, owner models.Owner) ([]models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets
        WHERE owner_type = $1 AND owner_id = $2 AND deleted_at IS NULL
        ORDER BY created_at, name`

	wallets := []models.Wallet{}
	if err := sqlx.SelectContext(ctx, r.ext, &wallets, query, owner.OwnerType(), owner.OwnerID()); err != nil {
		return nil, fmt.Errorf("error listing wallets: %w", err)
	}
	return wallets, nil
}

func (r *postgresWalletRepo) UpdateBalance(ctx context.Context, wallet *models.Wallet) error {
	const query = `UPDATE wallets
        SET balance = $1, updated_at = GREATEST(clock_timestamp(), updated_at + INTERVAL '1 microsecond')
        WHERE id = $2 AND deleted_at IS NULL
        RETURNING updated_at`

	err := r.ext.QueryRowxContext(ctx, query, wallet.Balance, wallet.ID).Scan(&wallet.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

func (r *postgresWalletRepo) SoftDeleteWallet(ctx context.Context, wallet *models.Wallet) error {
	const query = `UPDATE wallets
        SET deleted_at = clock_timestamp(),
            updated_at = GREATEST(clock_timestamp(), updated_at + INTERVAL '1 microsecond')
        WHERE id = $1 AND deleted_at IS NULL
        RETURNING deleted_at, updated_at`

	err := r.ext.QueryRowxContext(ctx, query, wallet.ID).Scan(&wallet.DeletedAt, &wallet.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("delete wallet: %w", err)
	}
	return nil
}

func (r *postgresWalletRepo) CreateTransaction(ctx context.Context, txn *models.WalletTransaction) error {
	const query = `INSERT INTO wallet_transactions
        (id, wallet_id, transaction_type, amount, confirmed, meta, expires_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, clock_timestamp(), clock_timestamp())
        RETURNING created_at, updated_at`

	err := r.ext.QueryRowxContext(ctx, query,
		txn.ID,
		txn.WalletID,
		txn.Type,
		txn.Amount,
		txn.Confirmed,
		txn.Meta,
		txn.ExpiresAt,
	).Scan(&txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create transaction: %w", classify(err))
	}

	return nil
}

func (r *postgresWalletRepo) GetTransaction(ctx context.Context, id uuid.UUID) (*models.WalletTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM wallet_transactions WHERE id = $1`

	var txn models.WalletTransaction
	if err := sqlx.GetContext(ctx, r.ext, &txn, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("error getting transaction: %w", err)
	}
	return &txn, nil
}

func (r *postgresWalletRepo) SumTransactions(ctx context.Context, walletID uuid.UUID, confirmedOnly bool) (int64, error) {
	query := `SELECT COALESCE(SUM(amount), 0)::BIGINT FROM wallet_transactions WHERE wallet_id = $1`
	if confirmedOnly {
		query += ` AND confirmed = TRUE`
	}

	var sum int64
	if err := sqlx.GetContext(ctx, r.ext, &sum, query, walletID); err != nil {
		return 0, fmt.Errorf("sum transactions: %w", classify(err))
	}
	return sum, nil
}

func (r *postgresWalletRepo) CountTransactions(ctx context.Context, walletID uuid.UUID) (int64, error) {
	const query = `SELECT COUNT(*) FROM wallet_transactions WHERE wallet_id = $1`

	var count int64
	if err := sqlx.GetContext(ctx, r.ext, &count, query, walletID); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return count, nil
}

func (r *postgresWalletRepo) ConfirmTransaction(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE wallet_transactions SET confirmed = TRUE, updated_at = NOW() WHERE id = $1`

	res, err := r.ext.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("confirm transaction: %w", err)
	}
	return requireAffected(res)
}

func (r *postgresWalletRepo) ConfirmAllTransactions(ctx context.Context, walletID uuid.UUID) (int64, error) {
	const query = `UPDATE wallet_transactions SET confirmed = TRUE, updated_at = NOW()
        WHERE wallet_id = $1 AND confirmed = FALSE`

	res, err := r.ext.ExecContext(ctx, query, walletID)
	if err != nil {
		return 0, fmt.Errorf("confirm transactions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("confirm transactions: %w", err)
	}
	return affected, nil
}

func (r *postgresWalletRepo) ListTransactions(ctx context.Context, walletID uuid.UUID, confirmed bool, page models.PageRequest, order models.SortOrder) (models.Page[models.WalletTransaction], error) {
	page = page.Normalize()
	result := models.Page[models.WalletTransaction]{
		Items:    []models.WalletTransaction{},
		Metadata: models.PageMetadata{Page: page.Page, Per: page.Per},
	}

	const countQuery = `SELECT COUNT(*) FROM wallet_transactions WHERE wallet_id = $1 AND confirmed = $2`
	if err := sqlx.GetContext(ctx, r.ext, &result.Metadata.Total, countQuery, walletID, confirmed); err != nil {
		return result, fmt.Errorf("count transactions: %w", err)
	}

	direction := "DESC"
	if order.Normalize() == models.SortAscending {
		direction = "ASC"
	}
	query := `SELECT ` + transactionColumns + ` FROM wallet_transactions
        WHERE wallet_id = $1 AND confirmed = $2
        ORDER BY created_at ` + direction + `, id ` + direction + `
        LIMIT $3 OFFSET $4`

	if err := sqlx.SelectContext(ctx, r.ext, &result.Items, query, walletID, confirmed, page.Per, page.Offset()); err != nil {
		return result, fmt.Errorf("list transactions: %w", err)
	}
	return result, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%w: %s", repository.ErrDuplicate, pqErr.Constraint)
		case foreignKeyViolation:
			return fmt.Errorf("%w: %s", repository.ErrNotFound, pqErr.Constraint)
		case numericOutOfRange:
			return fmt.Errorf("%w: %s", repository.ErrOutOfRange, pqErr.Message)
		}
	}
	return err
}
