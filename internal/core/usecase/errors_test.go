package usecase

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Nzyazin/walletledger/internal/core/repository"
)

func TestWalletErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{WalletNotFound("savings"), "no wallet found with name `savings`"},
		{DuplicateWalletType("default"), "Duplicate wallet type. Wallet type `default` already exists."},
		{InsufficientBalance(), "Insufficient balance"},
		{InvalidTransaction("amount must be positive"), "Transaction failed. Reason: amount must be positive"},
		{TransactionFailed(errors.New("connection reset")), "Transaction failed. Reason: connection reset"},
	}
	for _, tt := range tests {
		assert.EqualError(t, tt.err, tt.want)
	}
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil, "x"))

	err := classify(fmt.Errorf("get: %w", repository.ErrNotFound), "savings")
	assert.ErrorIs(t, err, ErrWalletNotFound)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NotErrorIs(t, err, ErrDuplicateWalletType)

	err = classify(repository.ErrDuplicate, "savings")
	assert.ErrorIs(t, err, ErrDuplicateWalletType)

	insufficient := InsufficientBalance()
	assert.Same(t, insufficient, classify(insufficient, "savings"))

	cause := errors.New("disk full")
	err = classify(cause, "savings")
	assert.ErrorIs(t, err, ErrTransactionFailed)
	assert.ErrorIs(t, err, cause)
}
