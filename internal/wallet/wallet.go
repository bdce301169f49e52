// Package wallet owns a user's cash balance and records every allocation,
// return and top-up as an append-only transaction log.
package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrInsufficientFunds is returned when a reserve or debit exceeds the
// available cash balance. No state changes on failure.
var ErrInsufficientFunds = errors.New("insufficient funds")

// TxType classifies a wallet transaction.
type TxType string

const (
	// TxReserve carves a bot bankroll out of the wallet (negative amount).
	TxReserve TxType = "reserve"
	// TxRelease returns a bankroll plus realized PnL (positive amount).
	TxRelease TxType = "release"
	// TxDebit funds a running session's top-up (negative amount).
	TxDebit TxType = "debit"
)

// Transaction is one append-only ledger entry. BalanceAfter is authoritative
// and always equals the prior balance plus the signed amount.
type Transaction struct {
	User         string          `json:"user"`
	Type         TxType          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Recorder persists transaction records. Persistence failures never roll
// back the in-memory mutation; the recorder is expected to retry.
type Recorder interface {
	AppendWalletTransaction(ctx context.Context, tx Transaction) error
}

// Wallet is a mutex-guarded per-user cash ledger. Sibling sessions of the
// same user serialize their reserve/release/debit calls through it.
type Wallet struct {
	mu       sync.Mutex
	user     string
	balance  decimal.Decimal
	log      []Transaction
	recorder Recorder
	logger   *zap.Logger
}

// New creates a wallet with the given opening balance.
func New(user string, openingBalance decimal.Decimal, recorder Recorder, logger *zap.Logger) *Wallet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wallet{
		user:     user,
		balance:  openingBalance,
		recorder: recorder,
		logger:   logger,
	}
}

// User returns the owning user ID.
func (w *Wallet) User() string {
	return w.user
}

// Balance returns the current cash balance.
func (w *Wallet) Balance() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance
}

// Reserve moves amount out of the wallet into a session bankroll.
func (w *Wallet) Reserve(ctx context.Context, amount decimal.Decimal) error {
	return w.withdraw(ctx, TxReserve, amount)
}

// Debit moves amount out of the wallet to fund a running session's top-up.
func (w *Wallet) Debit(ctx context.Context, amount decimal.Decimal) error {
	return w.withdraw(ctx, TxDebit, amount)
}

// Release returns a stopped session's bankroll plus realized PnL to the
// wallet as a single transaction.
func (w *Wallet) Release(ctx context.Context, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.Errorf("release amount must be non-negative, got %s", amount)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.balance = w.balance.Add(amount)
	w.record(ctx, TxRelease, amount)
	return nil
}

// Transactions returns a copy of the in-memory transaction log.
func (w *Wallet) Transactions() []Transaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Transaction, len(w.log))
	copy(out, w.log)
	return out
}

func (w *Wallet) withdraw(ctx context.Context, typ TxType, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.Errorf("%s amount must be positive, got %s", typ, amount)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balance.LessThan(amount) {
		return errors.Wrapf(ErrInsufficientFunds, "%s %s exceeds balance %s", typ, amount, w.balance)
	}
	w.balance = w.balance.Sub(amount)
	w.record(ctx, typ, amount.Neg())
	return nil
}

// record appends the entry under the held lock so BalanceAfter is exact.
func (w *Wallet) record(ctx context.Context, typ TxType, signed decimal.Decimal) {
	tx := Transaction{
		User:         w.user,
		Type:         typ,
		Amount:       signed,
		BalanceAfter: w.balance,
		Timestamp:    time.Now().UTC(),
	}
	w.log = append(w.log, tx)

	if w.recorder == nil {
		return
	}
	if err := w.recorder.AppendWalletTransaction(ctx, tx); err != nil {
		w.logger.Error("failed to persist wallet transaction",
			zap.String("user", w.user),
			zap.String("type", string(typ)),
			zap.Error(err))
	}
}
