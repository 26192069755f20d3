package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema is the table layout the wallet repository expects. Name uniqueness
// only applies to live wallets so a soft-deleted name can be reused.
const Schema = `
CREATE TABLE IF NOT EXISTS wallets (
    id UUID PRIMARY KEY,
    owner_type TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL,
    min_allowed_balance BIGINT NOT NULL DEFAULT 0,
    balance BIGINT NOT NULL DEFAULT 0,
    decimal_places SMALLINT NOT NULL DEFAULT 2 CHECK (decimal_places >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS wallets_owner_name_key
    ON wallets (owner_type, owner_id, name)
    WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS wallet_transactions (
    id UUID PRIMARY KEY,
    wallet_id UUID NOT NULL REFERENCES wallets (id) ON DELETE CASCADE,
    transaction_type TEXT NOT NULL CHECK (transaction_type IN ('deposit', 'withdraw')),
    amount BIGINT NOT NULL,
    confirmed BOOLEAN NOT NULL DEFAULT TRUE,
    meta JSONB,
    expires_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK ((transaction_type = 'deposit' AND amount >= 0) OR (transaction_type = 'withdraw' AND amount <= 0))
);

CREATE INDEX IF NOT EXISTS wallet_transactions_wallet_confirmed_idx
    ON wallet_transactions (wallet_id, confirmed, created_at);
`

func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
