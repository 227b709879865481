package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc is executed within a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

type txContextKey struct{}

// WithTransaction binds the transaction to ctx so repositories join it.
func WithTransaction(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TransactionFromContext returns the transaction bound by WithTransaction, if any.
func TransactionFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// RunTransaction executes fn within a transaction on the provided client. A nested call reuses the
// transaction already bound to ctx instead of opening a second one.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}
	if tx, ok := TransactionFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			var cancel context.CancelFunc
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
	}

	err := client.RunTransaction(txnCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(WithTransaction(ctx, tx), tx)
	}, firestore.MaxAttempts(cfg.attempts))

	return WrapError("transaction", err)
}

// UnitOfWork implements repositories.UnitOfWork on top of Firestore transactions.
type UnitOfWork struct {
	provider *Provider
	opts     []TxOption
}

// NewUnitOfWork constructs a unit of work bound to the provider.
func NewUnitOfWork(provider *Provider, opts ...TxOption) *UnitOfWork {
	return &UnitOfWork{provider: provider, opts: opts}
}

// RunInTx runs fn with a transaction-bound context. Errors returned by fn abort the transaction and are
// returned unchanged so typed domain errors survive the round trip.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.provider == nil {
		return errors.New("firestore: unit of work not configured")
	}
	var fnErr error
	err := u.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		fnErr = fn(txCtx)
		return fnErr
	}, u.opts...)
	if fnErr != nil {
		return fnErr
	}
	return err
}
