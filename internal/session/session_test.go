package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/courtside/internal/domain"
	"github.com/vadiminshakov/courtside/internal/events"
	"github.com/vadiminshakov/courtside/internal/wallet"
)

type fakeStore struct {
	mu        sync.Mutex
	trades    []domain.Trade
	positions map[string]*domain.Position
}

func newFakeStore() *fakeStore {
	return &fakeStore{positions: make(map[string]*domain.Position)}
}

func (f *fakeStore) AppendTrade(_ context.Context, trade domain.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, trade)
	return nil
}

func (f *fakeStore) SaveOpenPosition(_ context.Context, user, event string, pos *domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[user+"/"+event] = pos
	return nil
}

func (f *fakeStore) ClearOpenPosition(_ context.Context, user, event string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.positions, user+"/"+event)
	return nil
}

func (f *fakeStore) LoadOpenPosition(_ context.Context, user, event string) (*domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions[user+"/"+event], nil
}

func (f *fakeStore) tradeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.trades)
}

func (f *fakeStore) lastTrade() domain.Trade {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trades[len(f.trades)-1]
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakeBroadcaster) Publish(e events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeBroadcaster) typesSeen() map[events.Type]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[events.Type]int)
	for _, e := range f.events {
		out[e.Type]++
	}
	return out
}

func plainBotConfig() domain.BotConfig {
	cfg := domain.DefaultBotConfig()
	cfg.EnableTimeScaling = false
	cfg.EnableGameContext = false
	return cfg
}

func gameTick(seq int64, homePrice int) domain.Tick {
	return domain.Tick{
		Seq:       seq,
		Timestamp: time.Now(),
		HomePrice: homePrice,
		AwayPrice: 100 - homePrice,
		Quarter:   2,
		Clock:     "5:00",
	}
}

type harness struct {
	sess   *Session
	wallet *wallet.Wallet
	store  *fakeStore
	bcast  *fakeBroadcaster
}

func newHarness(t *testing.T, bot domain.BotConfig, bankroll decimal.Decimal) *harness {
	t.Helper()

	w := wallet.New("alice", decimal.NewFromInt(100), nil, zap.NewNop())
	require.NoError(t, w.Reserve(context.Background(), bankroll))

	store := newFakeStore()
	bcast := &fakeBroadcaster{}

	sess, err := New(context.Background(), Config{
		User:        "alice",
		Event:       "NFL-KC-BUF",
		Bankroll:    bankroll,
		Bot:         bot,
		Clock:       domain.FootballClock{},
		WalDir:      t.TempDir(),
		Wallet:      w,
		Store:       store,
		Broadcaster: bcast,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	sess.Start()

	return &harness{sess: sess, wallet: w, store: store, bcast: bcast}
}

func (h *harness) feed(t *testing.T, ticks ...domain.Tick) domain.WalletStatus {
	t.Helper()
	for _, tick := range ticks {
		h.sess.HandleTick(tick)
	}
	// Status round-trips through the command loop, ordering after every tick.
	st, err := h.sess.Status()
	require.NoError(t, err)
	return st
}

func TestSessionEntryAndProfitTargetExit(t *testing.T) {
	h := newHarness(t, plainBotConfig(), decimal.NewFromInt(50))

	st := h.feed(t, gameTick(1, 50), gameTick(2, 54))
	require.Equal(t, string(StateIdle), st.State, "momentum window still too short")

	// Third tick completes the lookback window: 59-50 = 9 >= threshold 8.
	st = h.feed(t, gameTick(3, 59))
	require.Equal(t, string(StateOpen), st.State)
	require.NotNil(t, st.Position)
	require.Equal(t, domain.SideHome, st.Position.Side)
	require.Equal(t, int64(42), st.Position.Contracts)
	require.True(t, decimal.NewFromFloat(24.78).Equal(st.Position.TotalCost))
	require.True(t, decimal.NewFromFloat(25.22).Equal(st.Bankroll), "bankroll %s", st.Bankroll)

	// Gain of 15 cents hits the profit target.
	st = h.feed(t, gameTick(4, 74))
	require.Equal(t, string(StateIdle), st.State)
	require.Nil(t, st.Position)
	require.True(t, decimal.NewFromFloat(6.30).Equal(st.RealizedPnL), "pnl %s", st.RealizedPnL)
	require.True(t, decimal.NewFromFloat(56.30).Equal(st.Bankroll))
	require.Equal(t, 1, st.Stats.TotalTrades)
	require.Equal(t, 1, st.Stats.Wins)

	require.Equal(t, 1, h.store.tradeCount())
	trade := h.store.lastTrade()
	require.Equal(t, domain.ExitReasonProfitTarget, trade.ExitReason)
	require.Equal(t, 74, trade.ExitPrice)
	require.True(t, decimal.NewFromFloat(6.30).Equal(trade.PnL))
	require.NotEmpty(t, trade.ID)
	require.Equal(t, domain.BotConfigVersion, trade.Config.Version, "trade carries its config snapshot")
}

func TestSessionHoldsSinglePosition(t *testing.T) {
	h := newHarness(t, plainBotConfig(), decimal.NewFromInt(50))

	st := h.feed(t, gameTick(1, 40), gameTick(2, 45), gameTick(3, 50))
	require.Equal(t, string(StateOpen), st.State)
	firstCost := st.Position.TotalCost

	// More rising ticks while open must not stack a second entry.
	st = h.feed(t, gameTick(4, 55), gameTick(5, 60))
	require.Equal(t, string(StateOpen), st.State)
	require.True(t, firstCost.Equal(st.Position.TotalCost))
	require.Equal(t, 0, st.Position.DCACount)
}

func TestSessionStopLossExit(t *testing.T) {
	h := newHarness(t, plainBotConfig(), decimal.NewFromInt(50))

	st := h.feed(t, gameTick(1, 40), gameTick(2, 45), gameTick(3, 50))
	require.Equal(t, string(StateOpen), st.State)

	st = h.feed(t, gameTick(4, 42))
	require.Equal(t, string(StateIdle), st.State)
	require.Equal(t, 1, st.Stats.Losses)
	require.True(t, st.RealizedPnL.IsNegative())
	require.Equal(t, domain.ExitReasonStopLoss, h.store.lastTrade().ExitReason)
}

func TestSessionBreakevenRatchet(t *testing.T) {
	h := newHarness(t, plainBotConfig(), decimal.NewFromInt(50))

	st := h.feed(t, gameTick(1, 40), gameTick(2, 45), gameTick(3, 50))
	require.Equal(t, string(StateOpen), st.State)

	// Gain of 5 arms the ratchet without exiting.
	st = h.feed(t, gameTick(4, 55))
	require.Equal(t, string(StateOpen), st.State)
	require.True(t, st.Position.BreakevenArmed)

	// Fading back to the entry price exits flat instead of riding to the stop.
	st = h.feed(t, gameTick(5, 50))
	require.Equal(t, string(StateIdle), st.State)
	require.True(t, st.RealizedPnL.IsZero(), "pnl %s", st.RealizedPnL)
	require.Equal(t, 1, st.Stats.TotalTrades)
	require.Equal(t, 0, st.Stats.Wins)
	require.Equal(t, 0, st.Stats.Losses)
	require.Equal(t, domain.ExitReasonBreakeven, h.store.lastTrade().ExitReason)
}

func TestSessionDCAAddition(t *testing.T) {
	cfg := plainBotConfig()
	cfg.EnableDCA = true
	cfg.DCAMaxTotalRiskPct = decimal.NewFromInt(1)

	h := newHarness(t, cfg, decimal.NewFromInt(50))

	st := h.feed(t, gameTick(1, 40), gameTick(2, 45), gameTick(3, 50))
	require.Equal(t, string(StateOpen), st.State)
	require.Equal(t, int64(50), st.Position.Contracts)
	require.True(t, decimal.NewFromInt(25).Equal(st.Position.TotalCost))

	// Adverse move of 5 triggers the first addition: 0.75 of the original
	// 25.00 entry buys 41 contracts at 45.
	st = h.feed(t, gameTick(4, 45))
	require.Equal(t, string(StateOpen), st.State)
	require.Equal(t, 1, st.Position.DCACount)
	require.Equal(t, int64(91), st.Position.Contracts)
	require.True(t, decimal.NewFromFloat(43.45).Equal(st.Position.TotalCost), "cost %s", st.Position.TotalCost)
	require.True(t, decimal.NewFromFloat(6.55).Equal(st.Bankroll))

	// A second addition would breach the full-bankroll risk cap, and the new
	// average entry keeps the stop out of reach, so the position just rides.
	st = h.feed(t, gameTick(5, 40))
	require.Equal(t, string(StateOpen), st.State)
	require.Equal(t, 1, st.Position.DCACount)
}

func TestSessionStopForcesCloseAndReleases(t *testing.T) {
	h := newHarness(t, plainBotConfig(), decimal.NewFromInt(50))

	st := h.feed(t, gameTick(1, 50), gameTick(2, 54), gameTick(3, 59))
	require.Equal(t, string(StateOpen), st.State)

	final, err := h.sess.Stop()
	require.NoError(t, err)
	require.Equal(t, string(StateStopped), final.State)
	require.Nil(t, final.Position)
	// Forced close at the last seen price of 59 returns exactly the cost.
	require.True(t, decimal.NewFromInt(50).Equal(final.Bankroll), "bankroll %s", final.Bankroll)
	require.Equal(t, domain.ExitReasonForcedClose, h.store.lastTrade().ExitReason)

	// Reserve of 50 came back in full: 50 remaining + 50 released.
	require.True(t, decimal.NewFromInt(100).Equal(h.wallet.Balance()))

	types := h.bcast.typesSeen()
	require.Equal(t, 1, types[events.TypeStarted])
	require.Equal(t, 1, types[events.TypeStopped])
	require.Equal(t, 1, types[events.TypeEntry])
	require.Equal(t, 1, types[events.TypeExit])
}

func TestSessionStopIsIdempotent(t *testing.T) {
	h := newHarness(t, plainBotConfig(), decimal.NewFromInt(50))

	_, err := h.sess.Stop()
	require.NoError(t, err)

	_, err = h.sess.Stop()
	require.ErrorIs(t, err, ErrStopped)

	_, err = h.sess.Status()
	require.ErrorIs(t, err, ErrStopped)

	require.ErrorIs(t, h.sess.UpdateConfig(plainBotConfig()), ErrStopped)
}

func TestSessionTopUp(t *testing.T) {
	h := newHarness(t, plainBotConfig(), decimal.NewFromInt(50))

	require.NoError(t, h.sess.TopUp(decimal.NewFromInt(30)))
	st, err := h.sess.Status()
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(80).Equal(st.Bankroll))
	require.True(t, decimal.NewFromInt(20).Equal(h.wallet.Balance()))

	// The wallet has 20 left; an oversized top-up fails atomically.
	err = h.sess.TopUp(decimal.NewFromInt(100))
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	st, err = h.sess.Status()
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(80).Equal(st.Bankroll))
}

func TestSessionUpdateConfig(t *testing.T) {
	h := newHarness(t, plainBotConfig(), decimal.NewFromInt(50))

	bad := plainBotConfig()
	bad.MomentumThreshold = 0
	require.Error(t, h.sess.UpdateConfig(bad))

	// Raising the threshold above the move suppresses the entry that the
	// stock settings would have taken.
	strict := plainBotConfig()
	strict.MomentumThreshold = 20
	require.NoError(t, h.sess.UpdateConfig(strict))

	st := h.feed(t, gameTick(1, 50), gameTick(2, 54), gameTick(3, 59))
	require.Equal(t, string(StateIdle), st.State)
}

func TestSessionSkipsBadTicks(t *testing.T) {
	h := newHarness(t, plainBotConfig(), decimal.NewFromInt(50))

	bad := gameTick(2, 54)
	bad.HomePrice = 0

	st := h.feed(t, gameTick(1, 50), bad, gameTick(3, 54), gameTick(4, 59))
	// The bad tick contributed nothing to the momentum window.
	require.Equal(t, string(StateOpen), st.State)
	require.Equal(t, 59, st.Position.CurrentPrice, "entry landed on the fourth frame")
	require.Equal(t, int64(42), st.Position.Contracts)
}

func TestSessionResumesJournaledPosition(t *testing.T) {
	walDir := t.TempDir()

	pos, err := domain.NewPosition(domain.SideHome, 59, 42, 3, time.Now().UTC())
	require.NoError(t, err)

	jrnl, err := openJournal(walDir, "alice", "NFL-KC-BUF")
	require.NoError(t, err)
	require.NoError(t, jrnl.SavePosition(pos))
	require.NoError(t, jrnl.Close())

	w := wallet.New("alice", decimal.NewFromInt(100), nil, zap.NewNop())
	require.NoError(t, w.Reserve(context.Background(), decimal.NewFromInt(50)))

	sess, err := New(context.Background(), Config{
		User:     "alice",
		Event:    "NFL-KC-BUF",
		Bankroll: decimal.NewFromInt(50),
		Bot:      plainBotConfig(),
		WalDir:   walDir,
		Wallet:   w,
		Store:    newFakeStore(),
	})
	require.NoError(t, err)
	sess.Start()

	st, err := sess.Status()
	require.NoError(t, err)
	require.Equal(t, string(StateOpen), st.State)
	// The adopted 24.78 cost comes out of the fresh bankroll.
	require.True(t, decimal.NewFromFloat(25.22).Equal(st.Bankroll), "bankroll %s", st.Bankroll)
	require.NotNil(t, st.Position)
	require.Equal(t, int64(42), st.Position.Contracts)

	_, err = sess.Stop()
	require.NoError(t, err)
}

func TestSessionResumesStoredPosition(t *testing.T) {
	store := newFakeStore()
	pos, err := domain.NewPosition(domain.SideAway, 30, 10, 9, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, store.SaveOpenPosition(context.Background(), "alice", "NFL-KC-BUF", pos))

	sess, err := New(context.Background(), Config{
		User:     "alice",
		Event:    "NFL-KC-BUF",
		Bankroll: decimal.NewFromInt(50),
		Bot:      plainBotConfig(),
		WalDir:   t.TempDir(),
		Wallet:   wallet.New("alice", decimal.NewFromInt(100), nil, nil),
		Store:    store,
	})
	require.NoError(t, err)
	sess.Start()

	st, err := sess.Status()
	require.NoError(t, err)
	require.Equal(t, string(StateOpen), st.State)
	require.Equal(t, domain.SideAway, st.Position.Side)

	_, err = sess.Stop()
	require.NoError(t, err)
}

func TestSessionRejectsResumeBeyondBankroll(t *testing.T) {
	store := newFakeStore()
	pos, err := domain.NewPosition(domain.SideHome, 80, 100, 1, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, store.SaveOpenPosition(context.Background(), "alice", "NFL-KC-BUF", pos))

	_, err = New(context.Background(), Config{
		User:     "alice",
		Event:    "NFL-KC-BUF",
		Bankroll: decimal.NewFromInt(50),
		Bot:      plainBotConfig(),
		WalDir:   t.TempDir(),
		Wallet:   wallet.New("alice", decimal.NewFromInt(100), nil, nil),
		Store:    store,
	})
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)
}

func TestSessionRejectsInvalidConfig(t *testing.T) {
	bad := plainBotConfig()
	bad.PositionSizePct = decimal.Zero

	_, err := New(context.Background(), Config{
		User:     "alice",
		Event:    "NFL-KC-BUF",
		Bankroll: decimal.NewFromInt(50),
		Bot:      bad,
		WalDir:   t.TempDir(),
		Wallet:   wallet.New("alice", decimal.NewFromInt(100), nil, nil),
	})
	require.Error(t, err)
}
