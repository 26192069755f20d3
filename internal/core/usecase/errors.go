package usecase

import (
	"errors"
	"fmt"

	"github.com/Nzyazin/walletledger/internal/core/money"
	"github.com/Nzyazin/walletledger/internal/core/repository"
)

type ErrorCode string

const (
	CodeWalletNotFound      ErrorCode = "wallet_not_found"
	CodeDuplicateWallet     ErrorCode = "duplicate_wallet"
	CodeInsufficientBalance ErrorCode = "insufficient_balance"
	CodeInvalidTransaction  ErrorCode = "invalid_transaction"
	CodeTransactionFailed   ErrorCode = "transaction_failed"
)

// WalletError is returned by every ledger operation that fails for a
// reason the caller can act on. errors.Is matches on Code only, so the
// sentinels below work as categories.
type WalletError struct {
	Code   ErrorCode
	Name   string
	Reason string
	Err    error
}

var (
	ErrWalletNotFound      = &WalletError{Code: CodeWalletNotFound}
	ErrDuplicateWalletType = &WalletError{Code: CodeDuplicateWallet}
	ErrInsufficientBalance = &WalletError{Code: CodeInsufficientBalance}
	ErrInvalidTransaction  = &WalletError{Code: CodeInvalidTransaction}
	ErrTransactionFailed   = &WalletError{Code: CodeTransactionFailed}
)

func (e *WalletError) Error() string {
	switch e.Code {
	case CodeWalletNotFound:
		return fmt.Sprintf("no wallet found with name `%s`", e.Name)
	case CodeDuplicateWallet:
		return fmt.Sprintf("Duplicate wallet type. Wallet type `%s` already exists.", e.Name)
	case CodeInsufficientBalance:
		return "Insufficient balance"
	default:
		return fmt.Sprintf("Transaction failed. Reason: %s", e.Reason)
	}
}

func (e *WalletError) Unwrap() error { return e.Err }

func (e *WalletError) Is(target error) bool {
	t, ok := target.(*WalletError)
	return ok && t.Code == e.Code
}

func WalletNotFound(name string) *WalletError {
	return &WalletError{Code: CodeWalletNotFound, Name: name}
}

func DuplicateWalletType(name string) *WalletError {
	return &WalletError{Code: CodeDuplicateWallet, Name: name}
}

func InsufficientBalance() *WalletError {
	return &WalletError{Code: CodeInsufficientBalance}
}

func InvalidTransaction(reason string) *WalletError {
	return &WalletError{Code: CodeInvalidTransaction, Reason: reason}
}

func TransactionFailed(err error) *WalletError {
	return &WalletError{Code: CodeTransactionFailed, Reason: err.Error(), Err: err}
}

// classify maps an error escaping a scope onto the ledger's vocabulary.
// Errors that already are WalletErrors pass through untouched.
func classify(err error, name string) error {
	if err == nil {
		return nil
	}
	var we *WalletError
	if errors.As(err, &we) {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return &WalletError{Code: CodeWalletNotFound, Name: name, Err: err}
	case errors.Is(err, repository.ErrDuplicate):
		return &WalletError{Code: CodeDuplicateWallet, Name: name, Err: err}
	case errors.Is(err, repository.ErrOutOfRange), errors.Is(err, money.ErrOutOfRange):
		return &WalletError{Code: CodeInvalidTransaction, Reason: "amount out of range", Err: err}
	default:
		return TransactionFailed(err)
	}
}
