package supply

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/void-labs/void-supply/pkg/policy"
	"github.com/void-labs/void-supply/pkg/types"
)

// ErrUnavailable means the live supply could not be read. Callers must report the
// figures as unknown, never as zero burned.
var ErrUnavailable = errors.New("supply: stats unavailable")

var hundred = decimal.NewFromInt(100)

// SupplyReader reads the live circulating supply of the tracked mint.
type SupplyReader interface {
	Supply(ctx context.Context) (decimal.Decimal, error)
}

type Computer struct {
	ledger SupplyReader
	policy *policy.Policy
	now    func() time.Time
}

func NewComputer(l SupplyReader, p *policy.Policy) *Computer {
	return &Computer{ledger: l, policy: p, now: time.Now}
}

// ComputeStats reads the live supply and derives burned supply and burn percentage
// against the policy's initial supply.
func (c *Computer) ComputeStats(ctx context.Context) (*types.SupplySnapshot, error) {
	circ, err := c.ledger.Supply(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	initial := c.policy.Initial()
	burned := initial.Sub(circ)
	if burned.IsNegative() {
		burned = decimal.Zero
	}
	pct := burned.Div(initial).Mul(hundred)

	return &types.SupplySnapshot{
		Mint:           c.policy.Mint,
		UpdatedAt:      c.now().UTC(),
		ETag:           computeETag(c.policy.Mint, initial.String(), circ.String()),
		InitialSupply:  initial,
		Circulating:    circ,
		Burned:         burned,
		BurnPercentage: pct,
	}, nil
}

// computeETag only covers the figures, so an unchanged supply keeps its ETag across refreshes.
func computeETag(mint, initial, circ string) string {
	h := sha1.New()
	h.Write([]byte(mint))
	h.Write([]byte{0})
	h.Write([]byte(initial))
	h.Write([]byte{0})
	h.Write([]byte(circ))
	return hex.EncodeToString(h.Sum(nil))
}
