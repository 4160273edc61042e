// Package classify decides whether a ledger transaction destroyed supply of the tracked mint.
// It works on normalized transaction effects only and never touches the network.
package classify

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/void-labs/void-supply/pkg/policy"
	"github.com/void-labs/void-supply/pkg/types"
)

// BurnLogMarkers are substrings the token program writes for burn and burn-checked instructions.
var BurnLogMarkers = []string{"Instruction: Burn", "BurnChecked"}

// Rules parameterize classification for one mint.
type Rules struct {
	Mint         string
	Incinerators []string
	Threshold    decimal.Decimal
}

// RulesFromPolicy builds Rules for the policy's tracked mint.
func RulesFromPolicy(p *policy.Policy) Rules {
	return Rules{
		Mint:         p.Mint,
		Incinerators: append([]string(nil), p.Incinerators...),
		Threshold:    p.Threshold(),
	}
}

// Result is either NotABurn or Burn.
type Result interface {
	isResult()
}

type Reason string

const (
	ReasonNoMeta         Reason = "no_meta"
	ReasonNoSignal       Reason = "no_burn_signal"
	ReasonBelowThreshold Reason = "below_threshold"
)

type NotABurn struct {
	Reason Reason
}

type Burn struct {
	Amount decimal.Decimal
	Burner string
}

func (NotABurn) isResult() {}
func (Burn) isResult()     {}

// Classify labels tx. A burn needs a burn log line or a post balance owned by an
// incinerator, and in both cases a tracked-mint balance drop above the threshold.
func Classify(tx *types.Transaction, r Rules) Result {
	if tx == nil || tx.Meta == nil {
		return NotABurn{Reason: ReasonNoMeta}
	}
	if !hasBurnLog(tx.Meta.LogMessages) && !hasIncineratorBalance(tx.Meta.PostTokenBalances, r) {
		return NotABurn{Reason: ReasonNoSignal}
	}
	amount := sumMint(tx.Meta.PreTokenBalances, r.Mint).Sub(sumMint(tx.Meta.PostTokenBalances, r.Mint))
	if amount.LessThanOrEqual(r.Threshold) {
		return NotABurn{Reason: ReasonBelowThreshold}
	}
	var burner string
	if len(tx.AccountKeys) > 0 {
		burner = tx.AccountKeys[0]
	}
	return Burn{Amount: amount, Burner: burner}
}

// Event classifies tx and, for burns, returns the BurnEvent it represents.
func Event(tx *types.Transaction, r Rules) (types.BurnEvent, bool) {
	b, ok := Classify(tx, r).(Burn)
	if !ok {
		return types.BurnEvent{}, false
	}
	return types.BurnEvent{
		Signature: tx.Signature,
		BlockTime: tx.BlockTime,
		Amount:    b.Amount,
		Burner:    b.Burner,
	}, true
}

func hasBurnLog(lines []string) bool {
	for _, l := range lines {
		for _, m := range BurnLogMarkers {
			if strings.Contains(l, m) {
				return true
			}
		}
	}
	return false
}

func hasIncineratorBalance(post []types.TokenBalance, r Rules) bool {
	for _, b := range post {
		if b.Mint != r.Mint || b.Owner == "" {
			continue
		}
		for _, a := range r.Incinerators {
			if b.Owner == a {
				return true
			}
		}
	}
	return false
}

func sumMint(bals []types.TokenBalance, mint string) decimal.Decimal {
	sum := decimal.Zero
	for _, b := range bals {
		if b.Mint == mint {
			sum = sum.Add(b.Amount)
		}
	}
	return sum
}
