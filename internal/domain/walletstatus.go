package domain

import "github.com/shopspring/decimal"

// PositionSnapshot is the read-only view of an open position included in
// status reports and broadcast events.
type PositionSnapshot struct {
	Side           Side            `json:"side"`
	AvgEntryPrice  decimal.Decimal `json:"avg_entry_price"`
	Contracts      int64           `json:"contracts"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	DCACount       int             `json:"dca_count"`
	BreakevenArmed bool            `json:"breakeven_armed"`
	CurrentPrice   int             `json:"current_price,omitempty"`
}

// SessionStats aggregates closed-trade outcomes for one session.
type SessionStats struct {
	TotalTrades int `json:"total_trades"`
	Wins        int `json:"wins"`
	Losses      int `json:"losses"`
}

// WinRate returns the percentage of winning trades.
func (s SessionStats) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.TotalTrades) * 100
}

// WalletStatus is the full wallet/position snapshot for one bot session.
type WalletStatus struct {
	User             string            `json:"user"`
	Event            string            `json:"event"`
	State            string            `json:"state"`
	Bankroll         decimal.Decimal   `json:"bankroll"`
	StartingBankroll decimal.Decimal   `json:"starting_bankroll"`
	PositionValue    decimal.Decimal   `json:"position_value"`
	UnrealizedPnL    decimal.Decimal   `json:"unrealized_pnl"`
	RealizedPnL      decimal.Decimal   `json:"realized_pnl"`
	TotalPnL         decimal.Decimal   `json:"total_pnl"`
	TotalValue       decimal.Decimal   `json:"total_value"`
	TotalReturnPct   decimal.Decimal   `json:"total_return_pct"`
	Position         *PositionSnapshot `json:"position,omitempty"`
	Stats            SessionStats      `json:"stats"`
}
