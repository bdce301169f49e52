package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var cents = decimal.NewFromInt(100)

// ContractCost returns the dollar cost of buying contracts at price cents.
func ContractCost(contracts int64, price int) decimal.Decimal {
	return decimal.NewFromInt(contracts).Mul(decimal.NewFromInt(int64(price))).Div(cents)
}

// Fill is one purchase inside a position. The fill history is append-only
// and never mutated in place.
type Fill struct {
	Price     int             `json:"price"`
	Contracts int64           `json:"contracts"`
	Cost      decimal.Decimal `json:"cost"`
	TickSeq   int64           `json:"tick_seq"`
	Time      time.Time       `json:"time"`
}

// Position is the bot's open stake in an event: one side, a cost-weighted
// average entry and the ordered fill history. A session holds at most one.
type Position struct {
	Side           Side            `json:"side"`
	AvgEntryPrice  decimal.Decimal `json:"avg_entry_price"` // cents
	Contracts      int64           `json:"contracts"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	DCACount       int             `json:"dca_count"`
	Fills          []Fill          `json:"fills"`
	BreakevenArmed bool            `json:"breakeven_armed"`
	EntrySeq       int64           `json:"entry_seq"`
	EntryTime      time.Time       `json:"entry_time"`
}

// NewPosition opens a position with its first fill.
func NewPosition(side Side, price int, contracts int64, tickSeq int64, entryTime time.Time) (*Position, error) {
	if !side.IsValid() {
		return nil, errors.Errorf("invalid side %q", side)
	}
	if price < MinPrice || price > MaxPrice {
		return nil, errors.Errorf("entry price %d out of range", price)
	}
	if contracts < 1 {
		return nil, errors.Errorf("contracts must be >= 1, got %d", contracts)
	}

	cost := ContractCost(contracts, price)
	return &Position{
		Side:          side,
		AvgEntryPrice: decimal.NewFromInt(int64(price)),
		Contracts:     contracts,
		TotalCost:     cost,
		Fills: []Fill{{
			Price:     price,
			Contracts: contracts,
			Cost:      cost,
			TickSeq:   tickSeq,
			Time:      entryTime,
		}},
		EntrySeq:  tickSeq,
		EntryTime: entryTime,
	}, nil
}

// AddFill appends a DCA addition and recomputes the cost-weighted average
// entry price.
func (p *Position) AddFill(price int, contracts int64, tickSeq int64, fillTime time.Time) error {
	if price < MinPrice || price > MaxPrice {
		return errors.Errorf("fill price %d out of range", price)
	}
	if contracts < 1 {
		return errors.Errorf("contracts must be >= 1, got %d", contracts)
	}

	cost := ContractCost(contracts, price)
	p.Fills = append(p.Fills, Fill{
		Price:     price,
		Contracts: contracts,
		Cost:      cost,
		TickSeq:   tickSeq,
		Time:      fillTime,
	})
	p.Contracts += contracts
	p.TotalCost = p.TotalCost.Add(cost)
	p.AvgEntryPrice = p.TotalCost.Mul(cents).Div(decimal.NewFromInt(p.Contracts))
	p.DCACount++
	return nil
}

// OriginalEntryCost returns the cost of the first fill; DCA addition sizing
// decays geometrically from it.
func (p *Position) OriginalEntryCost() decimal.Decimal {
	if len(p.Fills) == 0 {
		return decimal.Zero
	}
	return p.Fills[0].Cost
}

// MarketValue is the liquidation value of the position at the given price.
func (p *Position) MarketValue(price int) decimal.Decimal {
	return ContractCost(p.Contracts, price)
}

// UnrealizedPnL is market value minus total cost at the given price.
func (p *Position) UnrealizedPnL(price int) decimal.Decimal {
	return p.MarketValue(price).Sub(p.TotalCost)
}

// GainCents is the per-contract gain over the average entry, in cents.
func (p *Position) GainCents(price int) decimal.Decimal {
	return decimal.NewFromInt(int64(price)).Sub(p.AvgEntryPrice)
}

// MaybeArmBreakeven flips the breakeven ratchet once unrealized gain reaches
// the trigger. The ratchet is one-way: it never disarms, even if the price
// later drops back under the trigger.
func (p *Position) MaybeArmBreakeven(price int, triggerCents int) {
	if p.BreakevenArmed {
		return
	}
	if p.GainCents(price).GreaterThanOrEqual(decimal.NewFromInt(int64(triggerCents))) {
		p.BreakevenArmed = true
	}
}
