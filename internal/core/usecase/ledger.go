package usecase

import (
	"context"
	"errors"

	"github.com/Nzyazin/walletledger/internal/core/cache"
	"github.com/Nzyazin/walletledger/internal/core/logger"
	"github.com/Nzyazin/walletledger/internal/core/metrics"
	"github.com/Nzyazin/walletledger/internal/core/models"
	"github.com/Nzyazin/walletledger/internal/core/money"
	"github.com/Nzyazin/walletledger/internal/core/repository"
)

// Publisher delivers lifecycle events once the scope that produced them
// has committed. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, message interface{}) error
}

// Defaults apply to wallets created without explicit settings.
type Defaults struct {
	DecimalPlaces     uint8
	MinAllowedBalance int64
}

type Ledger struct {
	store     repository.Store
	log       logger.Logger
	defaults  Defaults
	metrics   *metrics.Metrics
	cache     cache.BalanceCache
	publisher Publisher
}

type Option func(*Ledger)

func WithDefaults(d Defaults) Option {
	return func(l *Ledger) { l.defaults = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func WithBalanceCache(c cache.BalanceCache) Option {
	return func(l *Ledger) { l.cache = c }
}

func WithPublisher(p Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func NewLedger(store repository.Store, log logger.Logger, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:    store,
		log:      log,
		defaults: Defaults{DecimalPlaces: 2},
	}
	for _, opt := range opts {
		opt(l)
	}
	if !money.ValidPlaces(l.defaults.DecimalPlaces) {
		return nil, InvalidTransaction("default decimal places out of range")
	}
	return l, nil
}

func (l *Ledger) Defaults() Defaults { return l.defaults }

// Wallets returns the wallet repository bound to owner.
func (l *Ledger) Wallets(owner models.Owner) (*WalletsRepository, error) {
	if owner == nil || owner.OwnerType() == "" || owner.OwnerID() == "" {
		return nil, InvalidTransaction("owner type and id are required")
	}
	return &WalletsRepository{ledger: l, owner: models.RefOf(owner)}, nil
}

// withinScope runs fn in one store transaction and, after commit, writes
// the touched balances through to the cache and publishes recorded events.
func (l *Ledger) withinScope(ctx context.Context, fn func(ctx context.Context, sc *scope) error) error {
	var sc *scope
	err := l.store.WithinTx(ctx, func(ctx context.Context, repo repository.WalletRepository) error {
		sc = newScope(repo)
		return fn(ctx, sc)
	})
	if err != nil {
		return err
	}
	l.afterCommit(ctx, sc)
	return nil
}

func (l *Ledger) afterCommit(ctx context.Context, sc *scope) {
	if sc == nil {
		return
	}
	for _, w := range sc.dirty {
		if l.cache != nil {
			if err := l.cache.Put(ctx, &w); err != nil {
				l.log.Warn("Balance cache write failed",
					logger.StringField("wallet_id", w.ID.String()),
					logger.ErrorField("error", err))
			}
		}
		if w.DeletedAt == nil {
			sc.emit(models.BalanceRefreshedTopic, w.ID.String(), models.BalanceRefreshedEvent{
				WalletID:  w.ID,
				OwnerType: w.OwnerType,
				OwnerID:   w.OwnerID,
				Name:      w.Name,
				Balance:   w.Balance,
			})
		}
	}

	if l.publisher == nil {
		return
	}
	for _, ev := range sc.events {
		if err := l.publisher.Publish(ctx, ev.topic, ev.key, ev.payload); err != nil {
			l.log.Error("Event publish failed",
				logger.StringField("topic", ev.topic),
				logger.StringField("key", ev.key),
				logger.ErrorField("error", err))
		}
	}
}

// report logs the outcome of a ledger operation and records it in metrics.
func (l *Ledger) report(op string, amount int64, err error, fields ...logger.Field) {
	l.metrics.Observe(op, amount, err)

	fields = append(fields, logger.StringField("operation", op))
	if amount != 0 {
		fields = append(fields, logger.Int64Field("amount", amount))
	}
	if err == nil {
		l.log.Info("Ledger operation completed", fields...)
		return
	}

	fields = append(fields, logger.ErrorField("error", err))
	var we *WalletError
	if errors.As(err, &we) && we.Code != CodeTransactionFailed {
		l.log.Warn("Ledger operation rejected", fields...)
		return
	}
	l.log.Error("Ledger operation failed", fields...)
}
