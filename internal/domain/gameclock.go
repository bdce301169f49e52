package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// GameClock converts a quarter number and an in-quarter clock string into
// whole-game seconds remaining. The formula is league-specific, so callers
// inject the strategy instead of hard-coding one sport.
type GameClock interface {
	TimeRemaining(quarter int, clock string) int
}

// FootballClock models a 4x15-minute contest (American football). Overtime
// periods report zero seconds remaining, which disables every late-game
// adjustment that keys off the clock.
type FootballClock struct{}

const (
	regulationQuarters = 4
	secondsPerQuarter  = 15 * 60
)

// TimeRemaining returns (4-quarter)*900 + seconds left in the quarter.
// Unparseable clocks and out-of-regulation quarters return 0.
func (FootballClock) TimeRemaining(quarter int, clock string) int {
	if quarter < 1 || quarter > regulationQuarters {
		return 0
	}
	secs, err := ParseClock(clock)
	if err != nil {
		return 0
	}
	return (regulationQuarters-quarter)*secondsPerQuarter + secs
}

// ParseClock parses an "mm:ss" remaining-in-quarter string.
func ParseClock(clock string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(clock), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("clock %q is not mm:ss", clock)
	}
	mins, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, fmt.Errorf("clock %q has bad minutes: %w", clock, err)
	}
	secs, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, fmt.Errorf("clock %q has bad seconds: %w", clock, err)
	}
	if mins < 0 || secs < 0 || secs > 59 {
		return 0, fmt.Errorf("clock %q out of range", clock)
	}
	return mins*60 + secs, nil
}
