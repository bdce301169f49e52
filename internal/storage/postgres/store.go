// Package postgres persists trades, wallet transactions and open positions.
// In-memory session state stays authoritative: failed writes are retried
// with backoff and logged, never silently dropped and never allowed to
// block a trading decision path.
package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/courtside/internal/domain"
	"github.com/vadiminshakov/courtside/internal/wallet"
	"github.com/vadiminshakov/courtside/pkg/retrier"
)

// Store is a pgx-backed persistence collaborator.
type Store struct {
	pool    *pgxpool.Pool
	retrier *retrier.Retrier
	logger  *zap.Logger
}

// New connects a pool and pings the database.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "create pgx pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return &Store{
		pool:    pool,
		retrier: retrier.New(),
		logger:  logger,
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bot_trades (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			event_ticker TEXT NOT NULL,
			side TEXT NOT NULL,
			avg_entry_price NUMERIC NOT NULL,
			exit_price INT NOT NULL,
			contracts BIGINT NOT NULL,
			pnl NUMERIC NOT NULL,
			exit_reason TEXT NOT NULL,
			entry_seq BIGINT NOT NULL,
			exit_seq BIGINT NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			exit_time TIMESTAMPTZ NOT NULL,
			config_snapshot JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS bot_trades_user_event_idx
			ON bot_trades (user_id, event_ticker)`,
		`CREATE TABLE IF NOT EXISTS wallet_transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			balance_after NUMERIC NOT NULL,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS open_positions (
			user_id TEXT NOT NULL,
			event_ticker TEXT NOT NULL,
			position JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, event_ticker)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}

// AppendTrade writes the immutable exit record.
func (s *Store) AppendTrade(ctx context.Context, trade domain.Trade) error {
	snapshot, err := json.Marshal(trade.Config)
	if err != nil {
		return errors.Wrap(err, "marshal config snapshot")
	}

	return s.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO bot_trades
				(id, user_id, event_ticker, side, avg_entry_price, exit_price,
				 contracts, pnl, exit_reason, entry_seq, exit_seq, entry_time,
				 exit_time, config_snapshot)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			 ON CONFLICT (id) DO NOTHING`,
			trade.ID, trade.User, trade.Event, trade.Side.String(),
			trade.AvgEntryPrice, trade.ExitPrice, trade.Contracts, trade.PnL,
			trade.ExitReason.String(), trade.EntrySeq, trade.ExitSeq,
			trade.EntryTime, trade.ExitTime, snapshot)
		if err != nil {
			s.logger.Warn("trade insert failed, will retry", zap.Error(err))
		}
		return err
	})
}

// AppendWalletTransaction writes one wallet ledger entry.
func (s *Store) AppendWalletTransaction(ctx context.Context, tx wallet.Transaction) error {
	return s.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO wallet_transactions (user_id, type, amount, balance_after, ts)
			 VALUES ($1,$2,$3,$4,$5)`,
			tx.User, string(tx.Type), tx.Amount, tx.BalanceAfter, tx.Timestamp)
		if err != nil {
			s.logger.Warn("wallet transaction insert failed, will retry", zap.Error(err))
		}
		return err
	})
}

// SaveOpenPosition upserts the current open position snapshot for restart
// resume.
func (s *Store) SaveOpenPosition(ctx context.Context, user, event string, pos *domain.Position) error {
	payload, err := json.Marshal(pos)
	if err != nil {
		return errors.Wrap(err, "marshal position")
	}

	return s.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO open_positions (user_id, event_ticker, position, updated_at)
			 VALUES ($1,$2,$3,NOW())
			 ON CONFLICT (user_id, event_ticker)
			 DO UPDATE SET position = EXCLUDED.position, updated_at = NOW()`,
			user, event, payload)
		return err
	})
}

// ClearOpenPosition removes the stored snapshot after an exit.
func (s *Store) ClearOpenPosition(ctx context.Context, user, event string) error {
	return s.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`DELETE FROM open_positions WHERE user_id = $1 AND event_ticker = $2`,
			user, event)
		return err
	})
}

// LoadOpenPosition returns the stored snapshot, or nil when none exists.
func (s *Store) LoadOpenPosition(ctx context.Context, user, event string) (*domain.Position, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT position FROM open_positions WHERE user_id = $1 AND event_ticker = $2`,
		user, event).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load open position")
	}

	var pos domain.Position
	if err := json.Unmarshal(payload, &pos); err != nil {
		return nil, errors.Wrap(err, "decode open position")
	}
	return &pos, nil
}
