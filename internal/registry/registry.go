// Package registry tracks active bot sessions and routes incoming ticks and
// control commands. It is an explicit owned table passed by reference to the
// control-surface handlers, not a package-level singleton.
package registry

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/courtside/internal/domain"
	"github.com/vadiminshakov/courtside/internal/session"
	"github.com/vadiminshakov/courtside/internal/wallet"
)

var (
	// ErrAlreadyRunning rejects a duplicate start for the same (user, event).
	ErrAlreadyRunning = errors.New("bot already running")
	// ErrNotRunning is returned for commands addressed to no active session.
	ErrNotRunning = errors.New("bot not running")
)

type key struct {
	user  string
	event string
}

// Config wires a Registry.
type Config struct {
	Store           session.Store
	WalletRecorder  wallet.Recorder
	Broadcaster     session.Broadcaster
	Clock           domain.GameClock
	WalDir          string
	MinBankroll     decimal.Decimal
	StartingBalance decimal.Decimal
	Logger          *zap.Logger
}

// Registry is the process-wide map from (user, event) to active session.
// At most one session exists per key; multiple users may run independent
// bots on the same event.
type Registry struct {
	mu       sync.RWMutex
	sessions map[key]*session.Session
	byEvent  map[string][]*session.Session
	wallets  map[string]*wallet.Wallet
	cfg      Config
	logger   *zap.Logger
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = domain.FootballClock{}
	}
	return &Registry{
		sessions: make(map[key]*session.Session),
		byEvent:  make(map[string][]*session.Session),
		wallets:  make(map[string]*wallet.Wallet),
		cfg:      cfg,
		logger:   cfg.Logger,
	}
}

// Wallet returns the user's wallet, creating it with the configured opening
// balance on first use.
func (r *Registry) Wallet(user string) *wallet.Wallet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.walletLocked(user)
}

func (r *Registry) walletLocked(user string) *wallet.Wallet {
	if w, ok := r.wallets[user]; ok {
		return w
	}
	w := wallet.New(user, r.cfg.StartingBalance, r.cfg.WalletRecorder, r.logger)
	r.wallets[user] = w
	return w
}

// Start allocates a bankroll and launches a bot session for (user, event).
// The session is constructed and validated first; the wallet reserve is
// committed as the last step, so a late failure never strands funds.
func (r *Registry) Start(ctx context.Context, user, event string, bankroll decimal.Decimal, botCfg domain.BotConfig) error {
	if bankroll.LessThan(r.cfg.MinBankroll) {
		return errors.Wrapf(wallet.ErrInsufficientFunds,
			"bankroll %s below minimum %s", bankroll, r.cfg.MinBankroll)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{user: user, event: event}
	if _, ok := r.sessions[k]; ok {
		return errors.Wrapf(ErrAlreadyRunning, "user %s event %s", user, event)
	}

	w := r.walletLocked(user)

	sess, err := session.New(ctx, session.Config{
		User:        user,
		Event:       event,
		Bankroll:    bankroll,
		Bot:         botCfg,
		Clock:       r.cfg.Clock,
		WalDir:      r.cfg.WalDir,
		Wallet:      w,
		Store:       r.cfg.Store,
		Broadcaster: r.cfg.Broadcaster,
		Logger:      r.logger,
	})
	if err != nil {
		return err
	}

	if err := w.Reserve(ctx, bankroll); err != nil {
		if cerr := sess.Discard(); cerr != nil {
			r.logger.Warn("failed to discard session", zap.Error(cerr))
		}
		return err
	}

	r.sessions[k] = sess
	r.byEvent[event] = append(r.byEvent[event], sess)
	sess.Start()

	r.logger.Info("bot started",
		zap.String("user", user),
		zap.String("event", event),
		zap.String("bankroll", bankroll.String()))
	return nil
}

// Stop terminates the session for (user, event) and returns its final
// status. A second stop reports ErrNotRunning.
func (r *Registry) Stop(user, event string) (domain.WalletStatus, error) {
	r.mu.Lock()
	k := key{user: user, event: event}
	sess, ok := r.sessions[k]
	if !ok {
		r.mu.Unlock()
		return domain.WalletStatus{}, errors.Wrapf(ErrNotRunning, "user %s event %s", user, event)
	}
	delete(r.sessions, k)
	r.removeFromEventIndex(event, sess)
	r.mu.Unlock()

	// The session drains its current command before honoring the stop.
	status, err := sess.Stop()
	if errors.Is(err, session.ErrStopped) {
		return domain.WalletStatus{}, errors.Wrapf(ErrNotRunning, "user %s event %s", user, event)
	}
	return status, err
}

func (r *Registry) removeFromEventIndex(event string, sess *session.Session) {
	list := r.byEvent[event]
	kept := list[:0]
	for _, s := range list {
		if s != sess {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(r.byEvent, event)
	} else {
		r.byEvent[event] = kept
	}
}

// RouteTick fans the tick out to every session tracking the event.
func (r *Registry) RouteTick(event string, t domain.Tick) {
	r.mu.RLock()
	sessions := make([]*session.Session, len(r.byEvent[event]))
	copy(sessions, r.byEvent[event])
	r.mu.RUnlock()

	for _, sess := range sessions {
		sess.HandleTick(t)
	}
}

// UpdateConfig atomically replaces the strategy configuration of a session.
func (r *Registry) UpdateConfig(user, event string, cfg domain.BotConfig) error {
	sess, err := r.lookup(user, event)
	if err != nil {
		return err
	}
	if err := sess.UpdateConfig(cfg); errors.Is(err, session.ErrStopped) {
		return errors.Wrapf(ErrNotRunning, "user %s event %s", user, event)
	} else if err != nil {
		return err
	}
	return nil
}

// TopUp moves cash from the user wallet into the session bankroll.
func (r *Registry) TopUp(user, event string, amount decimal.Decimal) error {
	sess, err := r.lookup(user, event)
	if err != nil {
		return err
	}
	if err := sess.TopUp(amount); errors.Is(err, session.ErrStopped) {
		return errors.Wrapf(ErrNotRunning, "user %s event %s", user, event)
	} else if err != nil {
		return err
	}
	return nil
}

// WalletStatus reports the current snapshot for (user, event).
func (r *Registry) WalletStatus(user, event string) (domain.WalletStatus, error) {
	sess, err := r.lookup(user, event)
	if err != nil {
		return domain.WalletStatus{}, err
	}
	status, err := sess.Status()
	if errors.Is(err, session.ErrStopped) {
		return domain.WalletStatus{}, errors.Wrapf(ErrNotRunning, "user %s event %s", user, event)
	}
	return status, err
}

// StopAll terminates every active session, releasing all bankrolls.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for k, sess := range r.sessions {
		sessions = append(sessions, sess)
		delete(r.sessions, k)
	}
	r.byEvent = make(map[string][]*session.Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		if _, err := sess.Stop(); err != nil && !errors.Is(err, session.ErrStopped) {
			r.logger.Error("failed to stop session", zap.Error(err))
		}
	}
}

func (r *Registry) lookup(user, event string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[key{user: user, event: event}]
	if !ok {
		return nil, errors.Wrapf(ErrNotRunning, "user %s event %s", user, event)
	}
	return sess, nil
}
