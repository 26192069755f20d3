package usecase

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nzyazin/walletledger/internal/core/models"
	"github.com/Nzyazin/walletledger/internal/core/repository/memory"
)

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, nil)
	users := walletsOf(t, l, "user", "1")

	w1, err := users.Create(ctx, "w1", 2, 0)
	require.NoError(t, err)
	w2, err := users.Create(ctx, "w2", 2, 0)
	require.NoError(t, err)
	_, err = users.Deposit(ctx, "w1", 100)
	require.NoError(t, err)

	result, err := users.Transfer(ctx, "w1", "w2", 80, WithMeta(models.Meta{"ref": "rent"}))
	require.NoError(t, err)
	assert.Equal(t, int64(-80), result.Withdraw.Amount)
	assert.Equal(t, int64(80), result.Deposit.Amount)
	assert.Equal(t, "rent", result.Deposit.Meta["ref"])

	b1, err := users.Balance(ctx, "w1", false)
	require.NoError(t, err)
	b2, err := users.Balance(ctx, "w2", false)
	require.NoError(t, err)
	assert.Equal(t, int64(20), b1)
	assert.Equal(t, int64(80), b2)

	_, err = users.Transfer(ctx, "w1", "w2", 500)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, int64(2), countTransactions(t, l, w1))
	assert.Equal(t, int64(1), countTransactions(t, l, w2))
	b1, err = users.Balance(ctx, "w1", false)
	require.NoError(t, err)
	assert.Equal(t, int64(20), b1)
}

func TestTransferAcrossOwnerTypes(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, nil)
	users := walletsOf(t, l, "user", "7")
	merchants := walletsOf(t, l, "merchant", "7")

	from, err := users.CreateDefault(ctx)
	require.NoError(t, err)
	to, err := merchants.CreateDefault(ctx)
	require.NoError(t, err)
	_, err = users.Deposit(ctx, models.DefaultWallet, 300)
	require.NoError(t, err)

	_, err = l.TransferBetween(ctx, from, to, 120)
	require.NoError(t, err)
	assert.Equal(t, int64(180), from.Balance)
	assert.Equal(t, int64(120), to.Balance)

	_, err = l.TransferBetween(ctx, to, from, 20)
	require.NoError(t, err)

	ub, err := users.Balance(ctx, models.DefaultWallet, false)
	require.NoError(t, err)
	mb, err := merchants.Balance(ctx, models.DefaultWallet, false)
	require.NoError(t, err)
	assert.Equal(t, int64(200), ub)
	assert.Equal(t, int64(100), mb)
}

func TestTransferRejectsSameWalletAndBadAmounts(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, nil)
	users := walletsOf(t, l, "user", "1")

	_, err := users.Create(ctx, "a", 2, 0)
	require.NoError(t, err)
	_, err = users.Create(ctx, "b", 2, 0)
	require.NoError(t, err)
	_, err = users.Deposit(ctx, "a", 100)
	require.NoError(t, err)

	_, err = users.Transfer(ctx, "a", "a", 10)
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	_, err = users.Transfer(ctx, "a", "b", 0)
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	_, err = users.Transfer(ctx, "a", "missing", 10)
	assert.ErrorIs(t, err, ErrWalletNotFound)
	assert.EqualError(t, err, "no wallet found with name `missing`")
}

func TestTransferDecimalUsesSmallerPrecision(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, nil)
	users := walletsOf(t, l, "user", "1")

	_, err := users.Create(ctx, "cents", 2, 0)
	require.NoError(t, err)
	_, err = users.Create(ctx, "whole", 0, 0)
	require.NoError(t, err)
	_, err = users.DepositDecimal(ctx, "cents", decimal.RequireFromString("50"))
	require.NoError(t, err)

	result, err := users.TransferDecimal(ctx, "cents", "whole", decimal.RequireFromString("10.75"))
	require.NoError(t, err)
	assert.Equal(t, int64(-1000), result.Withdraw.Amount)
	assert.Equal(t, int64(10), result.Deposit.Amount)

	cents, err := users.DecimalBalance(ctx, "cents", false)
	require.NoError(t, err)
	assert.True(t, cents.Equal(decimal.RequireFromString("40")), "got %s", cents)

	_, err = users.TransferDecimal(ctx, "cents", "whole", decimal.RequireFromString("0.5"))
	assert.ErrorIs(t, err, ErrInvalidTransaction, "0.5 truncates to zero at the shared precision")
}

func TestTransferRollsBackBothLegs(t *testing.T) {
	ctx := context.Background()
	var (
		armed   bool
		inserts int
	)
	store := memory.NewStore(memory.WithFault(func(op string) error {
		if !armed || op != "CreateTransaction" {
			return nil
		}
		inserts++
		if inserts == 2 {
			return assert.AnError
		}
		return nil
	}))
	l := newTestLedger(t, store)
	users := walletsOf(t, l, "user", "1")

	w1, err := users.Create(ctx, "w1", 2, 0)
	require.NoError(t, err)
	w2, err := users.Create(ctx, "w2", 2, 0)
	require.NoError(t, err)
	_, err = users.Deposit(ctx, "w1", 100)
	require.NoError(t, err)

	armed = true
	_, err = users.Transfer(ctx, "w1", "w2", 60)
	require.ErrorIs(t, err, ErrTransactionFailed)
	armed = false

	assert.Equal(t, int64(1), countTransactions(t, l, w1))
	assert.Equal(t, int64(0), countTransactions(t, l, w2))
	b1, err := users.Balance(ctx, "w1", false)
	require.NoError(t, err)
	assert.Equal(t, int64(100), b1)
}

func TestOpposingTransfersComplete(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, nil)
	users := walletsOf(t, l, "user", "1")

	_, err := users.Create(ctx, "a", 2, 0)
	require.NoError(t, err)
	_, err = users.Create(ctx, "b", 2, 0)
	require.NoError(t, err)
	_, err = users.Deposit(ctx, "a", 1000)
	require.NoError(t, err)
	_, err = users.Deposit(ctx, "b", 1000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := users.Transfer(ctx, "a", "b", 5)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := users.Transfer(ctx, "b", "a", 3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	a, err := users.Balance(ctx, "a", false)
	require.NoError(t, err)
	b, err := users.Balance(ctx, "b", false)
	require.NoError(t, err)
	assert.Equal(t, int64(960), a)
	assert.Equal(t, int64(1040), b)
	assertNoDrift(t, l, users, "a")
	assertNoDrift(t, l, users, "b")
}
