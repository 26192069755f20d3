package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Nzyazin/walletledger/internal/core/money"
)

// DefaultWallet is the wallet every owner receives on creation.
const DefaultWallet = "default"

// Owner identifies the entity a wallet belongs to. Type discriminates the
// kind of owner so one wallets table can serve many owner models.
type Owner interface {
	OwnerType() string
	OwnerID() string
}

// OwnerRef is the plain value form of Owner.
type OwnerRef struct {
	Type string `json:"owner_type"`
	ID   string `json:"owner_id"`
}

func (o OwnerRef) OwnerType() string { return o.Type }
func (o OwnerRef) OwnerID() string   { return o.ID }

func RefOf(o Owner) OwnerRef {
	return OwnerRef{Type: o.OwnerType(), ID: o.OwnerID()}
}

// Wallet is a named balance bucket of one owner. Balance is a cache of the
// sum of its confirmed transactions, in minor units.
type Wallet struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	OwnerType         string     `json:"owner_type" db:"owner_type"`
	OwnerID           string     `json:"owner_id" db:"owner_id"`
	Name              string     `json:"name" db:"name"`
	MinAllowedBalance int64      `json:"min_allowed_balance" db:"min_allowed_balance"`
	Balance           int64      `json:"balance" db:"balance"`
	DecimalPlaces     uint8      `json:"decimal_places" db:"decimal_places"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

func NewWallet(owner Owner, name string, decimalPlaces uint8, minAllowedBalance int64) *Wallet {
	return &Wallet{
		ID:                uuid.New(),
		OwnerType:         owner.OwnerType(),
		OwnerID:           owner.OwnerID(),
		Name:              name,
		MinAllowedBalance: minAllowedBalance,
		DecimalPlaces:     decimalPlaces,
	}
}

func (w *Wallet) Owner() OwnerRef {
	return OwnerRef{Type: w.OwnerType, ID: w.OwnerID}
}

func (w *Wallet) OwnedBy(o Owner) bool {
	return w.OwnerType == o.OwnerType() && w.OwnerID == o.OwnerID()
}

func (w *Wallet) DecimalBalance() decimal.Decimal {
	return money.ToDecimal(w.Balance, w.DecimalPlaces)
}

// EmptyStrategy selects the level a wallet is drained to.
type EmptyStrategy string

const (
	EmptyToZero       EmptyStrategy = "to_zero"
	EmptyToMinAllowed EmptyStrategy = "to_min_allowed"
)

func (s EmptyStrategy) Valid() bool {
	return s == EmptyToZero || s == EmptyToMinAllowed
}
