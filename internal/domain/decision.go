package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	// Entry is suppressed entirely this late in a contest when game-context
	// awareness is on.
	lateEntryCutoffSeconds = 300

	// Time-scaling bands: Q1/Q2 above, Q4 below, Q3 is the neutral band.
	earlyGameSeconds = 1800
	lateGameSeconds  = 900

	// A score margin at or under this counts as a close game.
	closeGameMargin = 8

	// No entries at extreme quotes; there is nothing left to ride.
	maxEntryPrice = 90
	minEntryPrice = 10
)

// EntryDecision is the outcome of evaluating an entry signal.
type EntryDecision struct {
	Enter    bool
	Side     Side
	Price    int
	Momentum int
	Reason   string
}

// ExitDecision is the outcome of evaluating exit conditions for an open
// position.
type ExitDecision struct {
	Exit   bool
	Reason ExitReason
	Price  int
}

// DCADecision is the outcome of evaluating a dollar-cost-average addition.
type DCADecision struct {
	Add       bool
	Price     int
	Contracts int64
	Cost      decimal.Decimal
	Reason    string
}

// Momentum returns the home-price delta over the last lookback ticks, or 0
// when the window is too short. A positive value means the home side is
// rising, negative means the away side is rising.
func Momentum(history []int, lookback int) int {
	if lookback < 1 || len(history) < lookback+1 {
		return 0
	}
	return history[len(history)-1] - history[len(history)-1-lookback]
}

// ShouldEnter evaluates the entry signal for a session with no open
// position. Side is long the team whose price is rising.
func ShouldEnter(history []int, tick Tick, cfg BotConfig, clock GameClock) EntryDecision {
	mom := Momentum(history, cfg.MomentumLookback)
	if mom == 0 {
		return EntryDecision{Reason: "no_momentum"}
	}

	side := SideHome
	if mom < 0 {
		side = SideAway
	}

	strength := mom
	if strength < 0 {
		strength = -strength
	}
	if cfg.EnableGameContext && tick.Possession == side {
		strength += cfg.PossessionBiasCents
	}
	if strength < cfg.MomentumThreshold {
		return EntryDecision{Reason: "momentum_below_threshold", Momentum: mom}
	}

	if cfg.EnableGameContext && clock.TimeRemaining(tick.Quarter, tick.Clock) < lateEntryCutoffSeconds {
		return EntryDecision{Reason: "late_game", Momentum: mom}
	}

	price := tick.Price(side)
	if price > maxEntryPrice || price < minEntryPrice {
		return EntryDecision{Reason: "extreme_price", Momentum: mom}
	}

	if cfg.EnableGameContext {
		// Don't chase the expensive side of a lopsided market.
		if price > cfg.FavoriteFadeThreshold {
			return EntryDecision{Reason: "favorite_fade", Momentum: mom}
		}
		// The cheap side is only worth backing when possession biases it.
		if price < cfg.UnderdogSupportThreshold && tick.Possession != side {
			return EntryDecision{Reason: "underdog_without_support", Momentum: mom}
		}
	}

	return EntryDecision{
		Enter:    true,
		Side:     side,
		Price:    price,
		Momentum: mom,
		Reason:   "momentum",
	}
}

// DynamicStop scales the base stop distance (cents) by the time-of-game and
// score-context multipliers.
func DynamicStop(base int, tick Tick, cfg BotConfig, clock GameClock) int {
	stop := float64(base)
	if cfg.EnableTimeScaling {
		switch tr := clock.TimeRemaining(tick.Quarter, tick.Clock); {
		case tr > earlyGameSeconds:
			stop *= cfg.EarlyGameStopMultiplier
		case tr < lateGameSeconds:
			stop *= cfg.LateGameStopMultiplier
		}
	}
	if cfg.EnableGameContext && tick.ScoreMargin() <= closeGameMargin {
		stop *= cfg.ScoreVolatilityMultiplier
	}
	return int(math.Round(stop))
}

// DynamicTarget scales the base profit target (cents) by the time-of-game
// multipliers.
func DynamicTarget(base int, tick Tick, cfg BotConfig, clock GameClock) int {
	target := float64(base)
	if cfg.EnableTimeScaling {
		switch tr := clock.TimeRemaining(tick.Quarter, tick.Clock); {
		case tr > earlyGameSeconds:
			target *= cfg.EarlyGameTargetMultiplier
		case tr < lateGameSeconds:
			target *= cfg.LateGameTargetMultiplier
		}
	}
	return int(math.Round(target))
}

// ShouldExit checks the open position against the profit target, the stop
// and the breakeven ratchet. Arm the ratchet via Position.MaybeArmBreakeven
// before calling; once armed the effective stop is clamped to the average
// entry price and never re-evaluated downward.
func ShouldExit(pos *Position, tick Tick, cfg BotConfig, clock GameClock) ExitDecision {
	if pos == nil {
		return ExitDecision{}
	}

	price := tick.Price(pos.Side)
	priceDec := decimal.NewFromInt(int64(price))
	gain := pos.GainCents(price)

	target := DynamicTarget(cfg.ProfitTarget, tick, cfg, clock)
	if gain.GreaterThanOrEqual(decimal.NewFromInt(int64(target))) {
		return ExitDecision{Exit: true, Reason: ExitReasonProfitTarget, Price: price}
	}

	stop := DynamicStop(cfg.InitialStop, tick, cfg, clock)
	stopPrice := pos.AvgEntryPrice.Sub(decimal.NewFromInt(int64(stop)))
	if pos.BreakevenArmed && stopPrice.LessThan(pos.AvgEntryPrice) {
		stopPrice = pos.AvgEntryPrice
	}

	if priceDec.LessThanOrEqual(stopPrice) {
		reason := ExitReasonStopLoss
		if pos.BreakevenArmed {
			reason = ExitReasonBreakeven
		}
		return ExitDecision{Exit: true, Reason: reason, Price: price}
	}

	return ExitDecision{}
}

// ShouldDCA evaluates a dollar-cost-average addition for an open position.
// Addition size decays geometrically: multiplier^(dca_count+1) of the
// original entry cost. The projected total cost must stay inside the
// starting-bankroll risk cap and the current bankroll.
func ShouldDCA(pos *Position, tick Tick, cfg BotConfig, clock GameClock, startingBankroll, bankroll decimal.Decimal) DCADecision {
	if pos == nil || !cfg.EnableDCA {
		return DCADecision{Reason: "disabled"}
	}
	if pos.DCACount >= cfg.DCAMaxAdditions {
		return DCADecision{Reason: "max_additions"}
	}

	price := tick.Price(pos.Side)
	adverse := pos.AvgEntryPrice.Sub(decimal.NewFromInt(int64(price)))
	if adverse.LessThan(decimal.NewFromInt(int64(cfg.DCATriggerCents))) {
		return DCADecision{Reason: "no_adverse_move"}
	}

	if clock.TimeRemaining(tick.Quarter, tick.Clock) < cfg.DCAMinTimeRemainingSeconds {
		return DCADecision{Reason: "insufficient_time"}
	}

	factor := math.Pow(cfg.DCASizeMultiplier, float64(pos.DCACount+1))
	targetCost := pos.OriginalEntryCost().Mul(decimal.NewFromFloat(factor))
	contracts := targetCost.Mul(cents).Div(decimal.NewFromInt(int64(price))).IntPart()
	if contracts < 1 {
		return DCADecision{Reason: "addition_too_small"}
	}

	cost := ContractCost(contracts, price)
	riskCap := startingBankroll.Mul(cfg.DCAMaxTotalRiskPct)
	if pos.TotalCost.Add(cost).GreaterThan(riskCap) {
		return DCADecision{Reason: "risk_cap"}
	}
	if cost.GreaterThan(bankroll) {
		return DCADecision{Reason: "insufficient_bankroll"}
	}

	return DCADecision{
		Add:       true,
		Price:     price,
		Contracts: contracts,
		Cost:      cost,
		Reason:    "adverse_move",
	}
}

// EntryContracts sizes a new entry: floor(bankroll * pct / (price/100)).
func EntryContracts(bankroll, positionSizePct decimal.Decimal, price int) int64 {
	if price < MinPrice {
		return 0
	}
	return bankroll.Mul(positionSizePct).Mul(cents).Div(decimal.NewFromInt(int64(price))).IntPart()
}
