// Package domain defines the core value objects and decision logic of the
// paper-trading bot engine.
package domain

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrFeedGap marks a tick with missing or unparseable fields. The affected
// tick is skipped; the session stays in its current state.
var ErrFeedGap = errors.New("feed gap")

// Side identifies the traded side of a two-sided event market.
type Side string

const (
	SideHome Side = "home"
	SideAway Side = "away"
)

// String returns the string representation.
func (s Side) String() string {
	return string(s)
}

// IsValid checks if the Side value is valid.
func (s Side) IsValid() bool {
	return s == SideHome || s == SideAway
}

// Opponent returns the other side of the market.
func (s Side) Opponent() Side {
	if s == SideHome {
		return SideAway
	}
	return SideHome
}

const (
	// MinPrice and MaxPrice bound valid quotes in cents.
	MinPrice = 1
	MaxPrice = 99
)

// Tick is one immutable price/game-state snapshot for an event. Ticks arrive
// in monotonically increasing Seq order per event; no two ticks for the same
// event are processed concurrently.
type Tick struct {
	Seq        int64     `json:"tick"`
	Timestamp  time.Time `json:"timestamp"`
	HomePrice  int       `json:"home_price"`
	AwayPrice  int       `json:"away_price"`
	HomeScore  int       `json:"home_score"`
	AwayScore  int       `json:"away_score"`
	Quarter    int       `json:"quarter"`
	Clock      string    `json:"clock"`
	Possession Side      `json:"possession,omitempty"`
	Status     string    `json:"status,omitempty"`
}

// Price returns the quoted price in cents for the given side.
func (t Tick) Price(side Side) int {
	if side == SideAway {
		return t.AwayPrice
	}
	return t.HomePrice
}

// ScoreMargin returns the absolute score difference.
func (t Tick) ScoreMargin() int {
	diff := t.HomeScore - t.AwayScore
	if diff < 0 {
		return -diff
	}
	return diff
}

// Validate checks the tick for feed gaps. All failures wrap ErrFeedGap.
func (t Tick) Validate() error {
	if t.HomePrice < MinPrice || t.HomePrice > MaxPrice {
		return fmt.Errorf("home price %d out of range: %w", t.HomePrice, ErrFeedGap)
	}
	if t.AwayPrice < MinPrice || t.AwayPrice > MaxPrice {
		return fmt.Errorf("away price %d out of range: %w", t.AwayPrice, ErrFeedGap)
	}
	if t.Quarter < 0 {
		return fmt.Errorf("negative quarter %d: %w", t.Quarter, ErrFeedGap)
	}
	if t.Possession != "" && !t.Possession.IsValid() {
		return fmt.Errorf("unknown possession side %q: %w", t.Possession, ErrFeedGap)
	}
	return nil
}
