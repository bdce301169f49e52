package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BotConfigVersion is bumped whenever the shape of BotConfig changes, so a
// historical trade's config snapshot stays replayable across releases.
const BotConfigVersion = 1

// BotConfig is the immutable per-session strategy configuration. A snapshot
// of it is stored with every trade for reproducibility.
type BotConfig struct {
	Version int `json:"version" yaml:"version"`

	// Entry.
	MomentumThreshold int `json:"momentum_threshold" yaml:"momentum_threshold"`
	MomentumLookback  int `json:"momentum_lookback" yaml:"momentum_lookback"`

	// Exit.
	InitialStop      int `json:"initial_stop" yaml:"initial_stop"`
	ProfitTarget     int `json:"profit_target" yaml:"profit_target"`
	BreakevenTrigger int `json:"breakeven_trigger" yaml:"breakeven_trigger"`

	// Sizing.
	PositionSizePct decimal.Decimal `json:"position_size_pct" yaml:"position_size_pct"`

	// Time-of-game scaling.
	EnableTimeScaling         bool    `json:"enable_time_scaling" yaml:"enable_time_scaling"`
	EarlyGameStopMultiplier   float64 `json:"early_game_stop_multiplier" yaml:"early_game_stop_multiplier"`
	EarlyGameTargetMultiplier float64 `json:"early_game_target_multiplier" yaml:"early_game_target_multiplier"`
	LateGameStopMultiplier    float64 `json:"late_game_stop_multiplier" yaml:"late_game_stop_multiplier"`
	LateGameTargetMultiplier  float64 `json:"late_game_target_multiplier" yaml:"late_game_target_multiplier"`

	// Game-context awareness.
	EnableGameContext         bool    `json:"enable_game_context" yaml:"enable_game_context"`
	PossessionBiasCents       int     `json:"possession_bias_cents" yaml:"possession_bias_cents"`
	ScoreVolatilityMultiplier float64 `json:"score_volatility_multiplier" yaml:"score_volatility_multiplier"`
	FavoriteFadeThreshold     int     `json:"favorite_fade_threshold" yaml:"favorite_fade_threshold"`
	UnderdogSupportThreshold  int     `json:"underdog_support_threshold" yaml:"underdog_support_threshold"`

	// Dollar-cost averaging.
	EnableDCA                  bool            `json:"enable_dca" yaml:"enable_dca"`
	DCAMaxAdditions            int             `json:"dca_max_additions" yaml:"dca_max_additions"`
	DCATriggerCents            int             `json:"dca_trigger_cents" yaml:"dca_trigger_cents"`
	DCASizeMultiplier          float64         `json:"dca_size_multiplier" yaml:"dca_size_multiplier"`
	DCAMinTimeRemainingSeconds int             `json:"dca_min_time_remaining_seconds" yaml:"dca_min_time_remaining_seconds"`
	DCAMaxTotalRiskPct         decimal.Decimal `json:"dca_max_total_risk_pct" yaml:"dca_max_total_risk_pct"`
}

// DefaultBotConfig returns the stock strategy parameters.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Version:           BotConfigVersion,
		MomentumThreshold: 8,
		MomentumLookback:  2,
		InitialStop:       8,
		ProfitTarget:      15,
		BreakevenTrigger:  5,
		PositionSizePct:   decimal.NewFromFloat(0.5),

		EnableTimeScaling:         true,
		EarlyGameStopMultiplier:   1.5,
		EarlyGameTargetMultiplier: 1.25,
		LateGameStopMultiplier:    0.75,
		LateGameTargetMultiplier:  0.75,

		EnableGameContext:         true,
		PossessionBiasCents:       2,
		ScoreVolatilityMultiplier: 1.5,
		FavoriteFadeThreshold:     85,
		UnderdogSupportThreshold:  20,

		EnableDCA:                  false,
		DCAMaxAdditions:            2,
		DCATriggerCents:            5,
		DCASizeMultiplier:          0.75,
		DCAMinTimeRemainingSeconds: 600,
		DCAMaxTotalRiskPct:         decimal.NewFromFloat(0.8),
	}
}

// Validate checks every parameter range before any session state mutates.
func (c BotConfig) Validate() error {
	if c.Version != BotConfigVersion {
		return fmt.Errorf("unsupported config version %d, want %d", c.Version, BotConfigVersion)
	}
	if c.MomentumThreshold < 1 {
		return fmt.Errorf("momentum_threshold must be >= 1, got %d", c.MomentumThreshold)
	}
	if c.MomentumLookback < 1 {
		return fmt.Errorf("momentum_lookback must be >= 1, got %d", c.MomentumLookback)
	}
	if c.InitialStop < 1 {
		return fmt.Errorf("initial_stop must be >= 1, got %d", c.InitialStop)
	}
	if c.ProfitTarget < 1 {
		return fmt.Errorf("profit_target must be >= 1, got %d", c.ProfitTarget)
	}
	if c.BreakevenTrigger < 1 {
		return fmt.Errorf("breakeven_trigger must be >= 1, got %d", c.BreakevenTrigger)
	}
	if c.PositionSizePct.LessThanOrEqual(decimal.Zero) || c.PositionSizePct.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("position_size_pct must be in (0, 1], got %s", c.PositionSizePct)
	}
	if c.EnableTimeScaling {
		for name, m := range map[string]float64{
			"early_game_stop_multiplier":   c.EarlyGameStopMultiplier,
			"early_game_target_multiplier": c.EarlyGameTargetMultiplier,
			"late_game_stop_multiplier":    c.LateGameStopMultiplier,
			"late_game_target_multiplier":  c.LateGameTargetMultiplier,
		} {
			if m <= 0 {
				return fmt.Errorf("%s must be positive, got %v", name, m)
			}
		}
	}
	if c.EnableGameContext {
		if c.PossessionBiasCents < 0 {
			return fmt.Errorf("possession_bias_cents must be >= 0, got %d", c.PossessionBiasCents)
		}
		if c.ScoreVolatilityMultiplier <= 0 {
			return fmt.Errorf("score_volatility_multiplier must be positive, got %v", c.ScoreVolatilityMultiplier)
		}
		if c.FavoriteFadeThreshold < MinPrice || c.FavoriteFadeThreshold > MaxPrice {
			return fmt.Errorf("favorite_fade_threshold must be within %d..%d, got %d", MinPrice, MaxPrice, c.FavoriteFadeThreshold)
		}
		if c.UnderdogSupportThreshold < MinPrice || c.UnderdogSupportThreshold > MaxPrice {
			return fmt.Errorf("underdog_support_threshold must be within %d..%d, got %d", MinPrice, MaxPrice, c.UnderdogSupportThreshold)
		}
		if c.UnderdogSupportThreshold >= c.FavoriteFadeThreshold {
			return fmt.Errorf("underdog_support_threshold %d must be below favorite_fade_threshold %d",
				c.UnderdogSupportThreshold, c.FavoriteFadeThreshold)
		}
	}
	if c.EnableDCA {
		if c.DCAMaxAdditions < 1 {
			return fmt.Errorf("dca_max_additions must be >= 1, got %d", c.DCAMaxAdditions)
		}
		if c.DCATriggerCents < 1 {
			return fmt.Errorf("dca_trigger_cents must be >= 1, got %d", c.DCATriggerCents)
		}
		if c.DCASizeMultiplier <= 0 || c.DCASizeMultiplier >= 1 {
			return fmt.Errorf("dca_size_multiplier must be in (0, 1), got %v", c.DCASizeMultiplier)
		}
		if c.DCAMinTimeRemainingSeconds < 0 {
			return fmt.Errorf("dca_min_time_remaining_seconds must be >= 0, got %d", c.DCAMinTimeRemainingSeconds)
		}
		if c.DCAMaxTotalRiskPct.LessThanOrEqual(decimal.Zero) || c.DCAMaxTotalRiskPct.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("dca_max_total_risk_pct must be in (0, 1], got %s", c.DCAMaxTotalRiskPct)
		}
	}
	return nil
}
