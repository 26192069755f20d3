package models

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransactionSign(t *testing.T) {
	id := uuid.New()

	assert.Equal(t, int64(25), NewTransaction(id, TransactionDeposit, 25, true).Amount)
	assert.Equal(t, int64(25), NewTransaction(id, TransactionDeposit, -25, true).Amount)
	assert.Equal(t, int64(-25), NewTransaction(id, TransactionWithdraw, 25, true).Amount)
	assert.Equal(t, int64(-25), NewTransaction(id, TransactionWithdraw, -25, true).Amount)
}

func TestMetaValueAndScan(t *testing.T) {
	v, err := Meta(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = Meta{"order": "A-1"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"order":"A-1"}`, v)

	var m Meta
	require.NoError(t, m.Scan([]byte(`{"order":"A-1"}`)))
	assert.Equal(t, Meta{"order": "A-1"}, m)

	require.NoError(t, m.Scan(nil))
	assert.Nil(t, m)

	assert.Error(t, m.Scan(42))
}

func TestPageRequestNormalize(t *testing.T) {
	assert.Equal(t, PageRequest{Page: 1, Per: 10}, PageRequest{}.Normalize())
	assert.Equal(t, PageRequest{Page: 3, Per: 100}, PageRequest{Page: 3, Per: 500}.Normalize())
	assert.Equal(t, 20, PageRequest{Page: 3, Per: 10}.Offset())
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, int64(0), PageMetadata{Per: 10}.PageCount())
	assert.Equal(t, int64(1), PageMetadata{Per: 10, Total: 10}.PageCount())
	assert.Equal(t, int64(2), PageMetadata{Per: 10, Total: 11}.PageCount())
}

func TestWalletOwnership(t *testing.T) {
	w := NewWallet(OwnerRef{Type: "user", ID: "1"}, DefaultWallet, 2, 0)
	assert.True(t, w.OwnedBy(OwnerRef{Type: "user", ID: "1"}))
	assert.False(t, w.OwnedBy(OwnerRef{Type: "merchant", ID: "1"}))

	w.Balance = 1234
	assert.Equal(t, "12.34", w.DecimalBalance().String())
}

func TestPageRequestOffsetNeverOverflows(t *testing.T) {
	p := PageRequest{Page: 922337203685477582, Per: 10}.Normalize()
	assert.Equal(t, math.MaxInt/10, p.Page)
	assert.GreaterOrEqual(t, p.Offset(), 0)
	assert.GreaterOrEqual(t, p.Offset()+p.Per, p.Offset())

	p = PageRequest{Page: math.MaxInt, Per: 1}.Normalize()
	assert.Equal(t, math.MaxInt-1, p.Offset())
}
