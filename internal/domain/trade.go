package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitReasonStopLoss     ExitReason = "stop_loss"
	ExitReasonProfitTarget ExitReason = "profit_target"
	ExitReasonBreakeven    ExitReason = "breakeven"
	ExitReasonForcedClose  ExitReason = "forced_close"
)

// String returns the string representation.
func (r ExitReason) String() string {
	return string(r)
}

// Trade is the immutable record written on every exit. Config carries the
// full configuration snapshot that produced the decision.
type Trade struct {
	ID            string          `json:"id"`
	User          string          `json:"user"`
	Event         string          `json:"event"`
	Side          Side            `json:"side"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	ExitPrice     int             `json:"exit_price"`
	Contracts     int64           `json:"contracts"`
	PnL           decimal.Decimal `json:"pnl"`
	ExitReason    ExitReason      `json:"exit_reason"`
	EntrySeq      int64           `json:"entry_seq"`
	ExitSeq       int64           `json:"exit_seq"`
	EntryTime     time.Time       `json:"entry_time"`
	ExitTime      time.Time       `json:"exit_time"`
	Config        BotConfig       `json:"config_snapshot"`
}
