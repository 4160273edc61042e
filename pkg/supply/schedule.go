package supply

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/void-labs/void-supply/pkg/policy"
	"github.com/void-labs/void-supply/pkg/types"
)

// Basis tells how a next-burn estimate was derived.
type Basis string

const (
	// BasisLastBurn estimates from the most recent dated burn.
	BasisLastBurn Basis = "last_burn"
	// BasisDefault is a placeholder used while no dated burn is known.
	BasisDefault Basis = "default"
)

// Schedule maps the burned percentage to the interval between scheduled burns.
type Schedule struct {
	Tiers []policy.Tier
	// EmptyHistoryDelay offsets the placeholder estimate from now.
	EmptyHistoryDelay time.Duration
}

func ScheduleFromPolicy(p *policy.Policy) Schedule {
	return Schedule{
		Tiers:             append([]policy.Tier(nil), p.Schedule...),
		EmptyHistoryDelay: p.EmptyHistoryDelay(),
	}
}

// Interval returns the interval of the first tier whose bound is above pct.
// The last tier catches everything past the previous bound.
func (s Schedule) Interval(pct decimal.Decimal) time.Duration {
	if len(s.Tiers) == 0 {
		return 0
	}
	for _, t := range s.Tiers[:len(s.Tiers)-1] {
		if pct.LessThan(decimal.NewFromFloat(t.BelowPercent)) {
			return time.Duration(t.IntervalHours) * time.Hour
		}
	}
	return time.Duration(s.Tiers[len(s.Tiers)-1].IntervalHours) * time.Hour
}

type Estimate struct {
	At       time.Time
	Interval time.Duration
	Basis    Basis
}

// NextBurn estimates the next scheduled burn. history must be sorted newest first.
// When its head has no block time the estimate is EmptyHistoryDelay from now.
func (s Schedule) NextBurn(history []types.BurnEvent, pct decimal.Decimal, now time.Time) Estimate {
	interval := s.Interval(pct)
	if len(history) > 0 && history[0].BlockTime != nil {
		return Estimate{At: history[0].Time().Add(interval), Interval: interval, Basis: BasisLastBurn}
	}
	return Estimate{At: now.Add(s.EmptyHistoryDelay).UTC(), Interval: interval, Basis: BasisDefault}
}

// Countdown renders the time left until target as "<h>h <m>m", or "Imminent" once due.
func Countdown(target, now time.Time) string {
	d := target.Sub(now)
	if d <= 0 {
		return "Imminent"
	}
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	return fmt.Sprintf("%dh %dm", h, m)
}
