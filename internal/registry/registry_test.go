package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/courtside/internal/domain"
	"github.com/vadiminshakov/courtside/internal/wallet"
)

type memStore struct {
	mu        sync.Mutex
	trades    []domain.Trade
	positions map[string]*domain.Position
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[string]*domain.Position)}
}

func (m *memStore) AppendTrade(_ context.Context, trade domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	return nil
}

func (m *memStore) SaveOpenPosition(_ context.Context, user, event string, pos *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[user+"/"+event] = pos
	return nil
}

func (m *memStore) ClearOpenPosition(_ context.Context, user, event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, user+"/"+event)
	return nil
}

func (m *memStore) LoadOpenPosition(_ context.Context, user, event string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[user+"/"+event], nil
}

func (m *memStore) AppendWalletTransaction(_ context.Context, _ wallet.Transaction) error {
	return nil
}

func plainBotConfig() domain.BotConfig {
	cfg := domain.DefaultBotConfig()
	cfg.EnableTimeScaling = false
	cfg.EnableGameContext = false
	return cfg
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store := newMemStore()
	return New(Config{
		Store:           store,
		WalletRecorder:  store,
		Clock:           domain.FootballClock{},
		WalDir:          t.TempDir(),
		MinBankroll:     decimal.NewFromInt(10),
		StartingBalance: decimal.NewFromInt(1000),
		Logger:          zap.NewNop(),
	})
}

func gameTick(seq int64, homePrice int) domain.Tick {
	return domain.Tick{
		Seq:       seq,
		HomePrice: homePrice,
		AwayPrice: 100 - homePrice,
		Quarter:   2,
		Clock:     "5:00",
	}
}

func TestRegistryStartStop(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, "alice", "NFL-KC-BUF", decimal.NewFromInt(50), plainBotConfig()))
	require.True(t, decimal.NewFromInt(950).Equal(r.Wallet("alice").Balance()))

	st, err := r.WalletStatus("alice", "NFL-KC-BUF")
	require.NoError(t, err)
	require.Equal(t, "idle", st.State)

	final, err := r.Stop("alice", "NFL-KC-BUF")
	require.NoError(t, err)
	require.Equal(t, "stopped", final.State)
	require.True(t, decimal.NewFromInt(1000).Equal(r.Wallet("alice").Balance()),
		"idle session returns its full bankroll")

	_, err = r.Stop("alice", "NFL-KC-BUF")
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestRegistryRejectsDuplicateStart(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, "alice", "NFL-KC-BUF", decimal.NewFromInt(50), plainBotConfig()))
	err := r.Start(ctx, "alice", "NFL-KC-BUF", decimal.NewFromInt(50), plainBotConfig())
	require.ErrorIs(t, err, ErrAlreadyRunning)

	// Same user on another event and another user on the same event are fine.
	require.NoError(t, r.Start(ctx, "alice", "NFL-DAL-PHI", decimal.NewFromInt(50), plainBotConfig()))
	require.NoError(t, r.Start(ctx, "bob", "NFL-KC-BUF", decimal.NewFromInt(50), plainBotConfig()))

	r.StopAll()
}

func TestRegistryEnforcesMinBankroll(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Start(context.Background(), "alice", "NFL-KC-BUF", decimal.NewFromInt(5), plainBotConfig())
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	require.True(t, decimal.NewFromInt(1000).Equal(r.Wallet("alice").Balance()), "no funds move on failure")
}

func TestRegistryRejectsBankrollBeyondWallet(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Start(context.Background(), "alice", "NFL-KC-BUF", decimal.NewFromInt(2000), plainBotConfig())
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	// A failed start leaves the key free for a retry.
	require.NoError(t, r.Start(context.Background(), "alice", "NFL-KC-BUF", decimal.NewFromInt(50), plainBotConfig()))
	r.StopAll()
}

func TestRegistryRejectsInvalidBotConfig(t *testing.T) {
	r := newTestRegistry(t)

	bad := plainBotConfig()
	bad.MomentumThreshold = 0
	err := r.Start(context.Background(), "alice", "NFL-KC-BUF", decimal.NewFromInt(50), bad)
	require.Error(t, err)
	require.True(t, decimal.NewFromInt(1000).Equal(r.Wallet("alice").Balance()),
		"construction failure never strands a reserve")
}

func TestRegistryRouteTickFansOut(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, "alice", "NFL-KC-BUF", decimal.NewFromInt(50), plainBotConfig()))
	require.NoError(t, r.Start(ctx, "bob", "NFL-KC-BUF", decimal.NewFromInt(100), plainBotConfig()))
	require.NoError(t, r.Start(ctx, "alice", "NFL-DAL-PHI", decimal.NewFromInt(50), plainBotConfig()))

	r.RouteTick("NFL-KC-BUF", gameTick(1, 50))
	r.RouteTick("NFL-KC-BUF", gameTick(2, 54))
	r.RouteTick("NFL-KC-BUF", gameTick(3, 59))

	aliceSt, err := r.WalletStatus("alice", "NFL-KC-BUF")
	require.NoError(t, err)
	bobSt, err := r.WalletStatus("bob", "NFL-KC-BUF")
	require.NoError(t, err)
	otherSt, err := r.WalletStatus("alice", "NFL-DAL-PHI")
	require.NoError(t, err)

	require.Equal(t, "open", aliceSt.State)
	require.Equal(t, "open", bobSt.State)
	require.Equal(t, "idle", otherSt.State, "tick routing is scoped to the event")

	// Same signal, independent bankrolls: bob's double bankroll doubles size.
	require.Equal(t, int64(42), aliceSt.Position.Contracts)
	require.Equal(t, int64(84), bobSt.Position.Contracts)

	r.StopAll()
}

func TestRegistryWalletConservation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, "alice", "NFL-KC-BUF", decimal.NewFromInt(50), plainBotConfig()))
	require.NoError(t, r.TopUp("alice", "NFL-KC-BUF", decimal.NewFromInt(25)))
	require.True(t, decimal.NewFromInt(925).Equal(r.Wallet("alice").Balance()))

	// No trades happened: stopping returns reserve plus top-up exactly.
	final, err := r.Stop("alice", "NFL-KC-BUF")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(75).Equal(final.Bankroll))
	require.True(t, decimal.NewFromInt(1000).Equal(r.Wallet("alice").Balance()))
}

func TestRegistryCommandsForUnknownSession(t *testing.T) {
	r := newTestRegistry(t)

	require.ErrorIs(t, r.TopUp("ghost", "NFL-KC-BUF", decimal.NewFromInt(10)), ErrNotRunning)
	require.ErrorIs(t, r.UpdateConfig("ghost", "NFL-KC-BUF", plainBotConfig()), ErrNotRunning)
	_, err := r.WalletStatus("ghost", "NFL-KC-BUF")
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestRegistryStopAll(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, "alice", "NFL-KC-BUF", decimal.NewFromInt(50), plainBotConfig()))
	require.NoError(t, r.Start(ctx, "alice", "NFL-DAL-PHI", decimal.NewFromInt(50), plainBotConfig()))

	r.StopAll()

	require.True(t, decimal.NewFromInt(1000).Equal(r.Wallet("alice").Balance()))
	_, err := r.WalletStatus("alice", "NFL-KC-BUF")
	require.ErrorIs(t, err, ErrNotRunning)
}
