// Package session implements the per-event trading bot actor. Every command
// (tick, stop, config update, top-up, status) is processed strictly
// sequentially by one goroutine, which is what keeps the position and wallet
// invariants intact.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/courtside/internal/domain"
	"github.com/vadiminshakov/courtside/internal/events"
	"github.com/vadiminshakov/courtside/internal/wallet"
)

// ErrStopped is returned when a command reaches an already-stopped session.
var ErrStopped = errors.New("session stopped")

// State is the session lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateOpen    State = "open"
	StateStopped State = "stopped"
)

// history keeps this many recent home prices for momentum evaluation.
const historyCap = 20

const cmdQueueSize = 64

// Store is the persistence collaborator contract.
type Store interface {
	AppendTrade(ctx context.Context, trade domain.Trade) error
	SaveOpenPosition(ctx context.Context, user, event string, pos *domain.Position) error
	ClearOpenPosition(ctx context.Context, user, event string) error
	LoadOpenPosition(ctx context.Context, user, event string) (*domain.Position, error)
}

// Broadcaster receives lifecycle events. Publishing must never block.
type Broadcaster interface {
	Publish(e events.Event)
}

// Config wires one session.
type Config struct {
	User        string
	Event       string
	Bankroll    decimal.Decimal
	Bot         domain.BotConfig
	Clock       domain.GameClock
	WalDir      string
	Wallet      *wallet.Wallet
	Store       Store
	Broadcaster Broadcaster
	Logger      *zap.Logger
}

type cmdKind int

const (
	cmdTick cmdKind = iota
	cmdStop
	cmdConfig
	cmdTopUp
	cmdStatus
)

type command struct {
	kind   cmdKind
	tick   domain.Tick
	cfg    domain.BotConfig
	amount decimal.Decimal
	resp   chan result
}

type result struct {
	status domain.WalletStatus
	err    error
}

// Session is the stateful per-(user,event) actor. It owns at most one
// Position and a bankroll sub-ledger carved out of the user's wallet.
type Session struct {
	user        string
	event       string
	clock       domain.GameClock
	wallet      *wallet.Wallet
	store       Store
	broadcaster Broadcaster
	journal     *journal
	logger      *zap.Logger

	// Owned exclusively by the command loop.
	cfg              domain.BotConfig
	bankroll         decimal.Decimal
	startingBankroll decimal.Decimal
	realized         decimal.Decimal
	stats            domain.SessionStats
	position         *domain.Position
	history          []int
	lastTick         *domain.Tick
	state            State

	ctx  context.Context
	cmds chan command

	mu       sync.Mutex
	stopping bool
}

// New validates the configuration, opens the position journal and recovers
// any in-flight position. It does not touch the user's wallet: the caller
// commits the bankroll reserve only after construction succeeds.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.Bot.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = domain.FootballClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	jrnl, err := openJournal(cfg.WalDir, cfg.User, cfg.Event)
	if err != nil {
		return nil, err
	}

	s := &Session{
		user:             cfg.User,
		event:            cfg.Event,
		clock:            cfg.Clock,
		wallet:           cfg.Wallet,
		store:            cfg.Store,
		broadcaster:      cfg.Broadcaster,
		journal:          jrnl,
		logger:           cfg.Logger.With(zap.String("user", cfg.User), zap.String("event", cfg.Event)),
		cfg:              cfg.Bot,
		bankroll:         cfg.Bankroll,
		startingBankroll: cfg.Bankroll,
		state:            StateIdle,
		ctx:              ctx,
		cmds:             make(chan command, cmdQueueSize),
	}

	if err := s.resumePosition(ctx); err != nil {
		_ = jrnl.Close()
		return nil, err
	}
	return s, nil
}

// resumePosition adopts an open position left by a previous process, journal
// first, then the external store. The adopted cost comes out of the fresh
// bankroll so exit proceeds keep the ledger balanced.
func (s *Session) resumePosition(ctx context.Context) error {
	pos, err := s.journal.RecoverPosition()
	if err != nil {
		s.logger.Warn("journal recovery failed, falling back to store", zap.Error(err))
	}
	if pos == nil && s.store != nil {
		pos, err = s.store.LoadOpenPosition(ctx, s.user, s.event)
		if err != nil {
			return errors.Wrap(err, "load open position")
		}
	}
	if pos == nil {
		return nil
	}
	if pos.TotalCost.GreaterThan(s.bankroll) {
		return errors.Wrapf(wallet.ErrInsufficientFunds,
			"resumed position cost %s exceeds bankroll %s", pos.TotalCost, s.bankroll)
	}

	s.position = pos
	s.bankroll = s.bankroll.Sub(pos.TotalCost)
	s.state = StateOpen
	s.logger.Info("resumed open position",
		zap.String("side", pos.Side.String()),
		zap.Int64("contracts", pos.Contracts),
		zap.String("total_cost", pos.TotalCost.String()))
	return nil
}

// Start announces the session and launches the command loop. The event is
// published before the loop starts so the snapshot read races nothing.
func (s *Session) Start() {
	s.publish(events.TypeStarted, nil)
	go s.loop()
	s.logger.Info("session started",
		zap.String("bankroll", s.startingBankroll.String()))
}

// Discard releases the journal of a session that was constructed but never
// started. Callers use it when committing the bankroll reserve fails.
func (s *Session) Discard() error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	return s.journal.Close()
}

// HandleTick enqueues a tick. A full queue drops the tick: skipping ticks is
// always safe for a purely reactive strategy.
func (s *Session) HandleTick(t domain.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return
	}
	select {
	case s.cmds <- command{kind: cmdTick, tick: t}:
	default:
		s.logger.Warn("tick queue full, dropping tick", zap.Int64("seq", t.Seq))
	}
}

// UpdateConfig atomically replaces the strategy configuration. A tick being
// evaluated right now finishes under the configuration active when it was
// accepted.
func (s *Session) UpdateConfig(cfg domain.BotConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r, err := s.roundTrip(command{kind: cmdConfig, cfg: cfg})
	if err != nil {
		return err
	}
	return r.err
}

// TopUp debits the user wallet and credits the session bankroll.
func (s *Session) TopUp(amount decimal.Decimal) error {
	r, err := s.roundTrip(command{kind: cmdTopUp, amount: amount})
	if err != nil {
		return err
	}
	return r.err
}

// Status reports the current wallet/position snapshot. It round-trips
// through the command loop, so it also orders after every previously
// enqueued tick.
func (s *Session) Status() (domain.WalletStatus, error) {
	r, err := s.roundTrip(command{kind: cmdStatus})
	if err != nil {
		return domain.WalletStatus{}, err
	}
	return r.status, r.err
}

// Stop liquidates any open position at the last known price, returns the
// bankroll (including realized PnL) to the wallet and terminates the loop.
// It is safe to call concurrently with an in-flight tick: the stop is
// ordered strictly after the currently-processing command.
func (s *Session) Stop() (domain.WalletStatus, error) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return domain.WalletStatus{}, ErrStopped
	}
	s.stopping = true
	resp := make(chan result, 1)
	s.cmds <- command{kind: cmdStop, resp: resp}
	s.mu.Unlock()

	r := <-resp
	return r.status, r.err
}

// roundTrip submits a command and waits for the loop to answer.
func (s *Session) roundTrip(cmd command) (result, error) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return result{}, ErrStopped
	}
	cmd.resp = make(chan result, 1)
	s.cmds <- cmd
	s.mu.Unlock()

	return <-cmd.resp, nil
}

func (s *Session) loop() {
	for cmd := range s.cmds {
		switch cmd.kind {
		case cmdTick:
			s.handleTick(cmd.tick)
		case cmdConfig:
			s.cfg = cmd.cfg
			s.logger.Info("configuration updated")
			cmd.resp <- result{status: s.statusLocked()}
		case cmdTopUp:
			cmd.resp <- result{err: s.handleTopUp(cmd.amount)}
		case cmdStatus:
			cmd.resp <- result{status: s.statusLocked()}
		case cmdStop:
			cmd.resp <- result{status: s.handleStop()}
			return
		}
	}
}

// handleTick runs one full decision cycle. Any computation error aborts the
// tick with no partial mutation committed.
func (s *Session) handleTick(t domain.Tick) {
	if err := t.Validate(); err != nil {
		s.logger.Warn("skipping bad tick", zap.Int64("seq", t.Seq), zap.Error(err))
		return
	}

	s.lastTick = &t
	s.history = append(s.history, t.HomePrice)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}

	cfg := s.cfg

	switch s.state {
	case StateOpen:
		price := t.Price(s.position.Side)
		s.position.MaybeArmBreakeven(price, cfg.BreakevenTrigger)

		if d := domain.ShouldDCA(s.position, t, cfg, s.clock, s.startingBankroll, s.bankroll); d.Add {
			s.applyDCA(t, d)
		} else if d := domain.ShouldExit(s.position, t, cfg, s.clock); d.Exit {
			s.applyExit(t, d.Price, d.Reason)
		}
	case StateIdle:
		if d := domain.ShouldEnter(s.history, t, cfg, s.clock); d.Enter {
			s.applyEntry(t, d)
		}
	}

	s.publish(events.TypeWalletUpdate, nil)
}

func (s *Session) applyEntry(t domain.Tick, d domain.EntryDecision) {
	contracts := domain.EntryContracts(s.bankroll, s.cfg.PositionSizePct, d.Price)
	if contracts < 1 {
		return
	}
	cost := domain.ContractCost(contracts, d.Price)
	if cost.GreaterThan(s.bankroll) {
		return
	}

	pos, err := domain.NewPosition(d.Side, d.Price, contracts, t.Seq, time.Now().UTC())
	if err != nil {
		s.logger.Error("entry aborted", zap.Error(err))
		return
	}

	s.position = pos
	s.bankroll = s.bankroll.Sub(cost)
	s.state = StateOpen
	s.persistPosition()

	s.logger.Info("entered position",
		zap.String("side", d.Side.String()),
		zap.Int("price", d.Price),
		zap.Int("momentum", d.Momentum),
		zap.Int64("contracts", contracts),
		zap.String("cost", cost.String()))
	s.publish(events.TypeEntry, nil)
}

func (s *Session) applyDCA(t domain.Tick, d domain.DCADecision) {
	if err := s.position.AddFill(d.Price, d.Contracts, t.Seq, time.Now().UTC()); err != nil {
		s.logger.Error("dca addition aborted", zap.Error(err))
		return
	}

	s.bankroll = s.bankroll.Sub(d.Cost)
	s.persistPosition()

	s.logger.Info("dca addition",
		zap.Int("price", d.Price),
		zap.Int64("contracts", d.Contracts),
		zap.String("cost", d.Cost.String()),
		zap.Int("dca_count", s.position.DCACount),
		zap.String("avg_entry", s.position.AvgEntryPrice.String()))
	s.publish(events.TypeDCA, nil)
}

func (s *Session) applyExit(t domain.Tick, price int, reason domain.ExitReason) {
	pos := s.position
	proceeds := pos.MarketValue(price)
	pnl := proceeds.Sub(pos.TotalCost)

	trade := domain.Trade{
		ID:            uuid.New().String(),
		User:          s.user,
		Event:         s.event,
		Side:          pos.Side,
		AvgEntryPrice: pos.AvgEntryPrice,
		ExitPrice:     price,
		Contracts:     pos.Contracts,
		PnL:           pnl,
		ExitReason:    reason,
		EntrySeq:      pos.EntrySeq,
		ExitSeq:       t.Seq,
		EntryTime:     pos.EntryTime,
		ExitTime:      time.Now().UTC(),
		Config:        s.cfg,
	}

	s.bankroll = s.bankroll.Add(proceeds)
	s.realized = s.realized.Add(pnl)
	s.stats.TotalTrades++
	if pnl.IsPositive() {
		s.stats.Wins++
	} else if pnl.IsNegative() {
		s.stats.Losses++
	}
	s.position = nil
	s.state = StateIdle

	if err := s.journal.SavePosition(nil); err != nil {
		s.logger.Error("failed to journal position close", zap.Error(err))
	}
	if s.store != nil {
		if err := s.store.ClearOpenPosition(s.ctx, s.user, s.event); err != nil {
			s.logger.Error("failed to clear stored position", zap.Error(err))
		}
		if err := s.store.AppendTrade(s.ctx, trade); err != nil {
			s.logger.Error("failed to persist trade", zap.Error(err))
		}
	}

	s.logger.Info("exited position",
		zap.String("side", pos.Side.String()),
		zap.Int("exit_price", price),
		zap.String("reason", reason.String()),
		zap.String("pnl", pnl.String()),
		zap.String("bankroll", s.bankroll.String()))
	s.publish(events.TypeExit, &trade)
}

func (s *Session) handleTopUp(amount decimal.Decimal) error {
	if err := s.wallet.Debit(s.ctx, amount); err != nil {
		return err
	}
	s.bankroll = s.bankroll.Add(amount)
	s.logger.Info("bankroll topped up",
		zap.String("amount", amount.String()),
		zap.String("bankroll", s.bankroll.String()))
	s.publish(events.TypeWalletUpdate, nil)
	return nil
}

func (s *Session) handleStop() domain.WalletStatus {
	if s.state == StateOpen && s.lastTick != nil {
		s.applyExit(*s.lastTick, s.lastTick.Price(s.position.Side), domain.ExitReasonForcedClose)
	}
	s.state = StateStopped

	// Single atomic return of the sub-ledger: bankroll already carries every
	// realized PnL credit.
	if err := s.wallet.Release(s.ctx, s.bankroll); err != nil {
		s.logger.Error("failed to release bankroll", zap.Error(err))
	}

	status := s.statusLocked()
	s.publish(events.TypeStopped, nil)
	if err := s.journal.Close(); err != nil {
		s.logger.Warn("failed to close journal", zap.Error(err))
	}
	s.logger.Info("session stopped",
		zap.String("returned", s.bankroll.String()),
		zap.String("realized_pnl", s.realized.String()))
	return status
}

// statusLocked builds the snapshot; only the command loop may call it.
func (s *Session) statusLocked() domain.WalletStatus {
	st := domain.WalletStatus{
		User:             s.user,
		Event:            s.event,
		State:            string(s.state),
		Bankroll:         s.bankroll,
		StartingBankroll: s.startingBankroll,
		PositionValue:    decimal.Zero,
		UnrealizedPnL:    decimal.Zero,
		RealizedPnL:      s.realized,
		Stats:            s.stats,
	}

	if s.position != nil && s.lastTick != nil {
		price := s.lastTick.Price(s.position.Side)
		st.PositionValue = s.position.MarketValue(price)
		st.UnrealizedPnL = s.position.UnrealizedPnL(price)
		st.Position = &domain.PositionSnapshot{
			Side:           s.position.Side,
			AvgEntryPrice:  s.position.AvgEntryPrice,
			Contracts:      s.position.Contracts,
			TotalCost:      s.position.TotalCost,
			DCACount:       s.position.DCACount,
			BreakevenArmed: s.position.BreakevenArmed,
			CurrentPrice:   price,
		}
	}

	st.TotalPnL = st.RealizedPnL.Add(st.UnrealizedPnL)
	st.TotalValue = st.Bankroll.Add(st.PositionValue)
	if s.startingBankroll.IsPositive() {
		st.TotalReturnPct = st.TotalValue.Div(s.startingBankroll).
			Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
	}
	return st
}

func (s *Session) persistPosition() {
	if err := s.journal.SavePosition(s.position); err != nil {
		s.logger.Error("failed to journal position", zap.Error(err))
	}
	if s.store != nil {
		if err := s.store.SaveOpenPosition(s.ctx, s.user, s.event, s.position); err != nil {
			s.logger.Error("failed to persist position", zap.Error(err))
		}
	}
}

func (s *Session) publish(typ events.Type, trade *domain.Trade) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(events.Event{
		Type:      typ,
		User:      s.user,
		Event:     s.event,
		Timestamp: time.Now().UTC(),
		Wallet:    s.statusLocked(),
		Trade:     trade,
	})
}
