package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BurnEvent is one observed destruction of supply. Amounts are UI units of the tracked mint.
// BlockTime is nil for records the ledger could not date.
type BurnEvent struct {
	Signature string          `json:"signature"`
	BlockTime *int64          `json:"blockTime"`
	Amount    decimal.Decimal `json:"amount"`
	Burner    string          `json:"burner"`
}

// Time returns the block time as UTC, or the zero time when unknown.
func (e BurnEvent) Time() time.Time {
	if e.BlockTime == nil {
		return time.Time{}
	}
	return time.Unix(*e.BlockTime, 0).UTC()
}

// SupplySnapshot is a point-in-time read of the tracked mint's supply and the figures derived from it.
type SupplySnapshot struct {
	Mint           string          `json:"mint"`
	UpdatedAt      time.Time       `json:"updated_at"`
	ETag           string          `json:"etag"`
	InitialSupply  decimal.Decimal `json:"initial_supply"`
	Circulating    decimal.Decimal `json:"circulating_supply"`
	Burned         decimal.Decimal `json:"burned_supply"`
	BurnPercentage decimal.Decimal `json:"burn_percentage"`
}

// SignatureInfo is one entry of an address-scoped signature listing.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	BlockTime *int64
	// Failed is set when the ledger reports the transaction as errored.
	Failed bool
}

// Transaction is the subset of a ledger transaction the classifier needs,
// independent of the RPC response format.
type Transaction struct {
	Signature   string
	BlockTime   *int64
	AccountKeys []string
	Meta        *TransactionMeta
}

type TransactionMeta struct {
	LogMessages       []string
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// TokenBalance is a per-account token balance before or after a transaction.
// Owner is empty when the ledger does not report one.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       decimal.Decimal
}

// Int64Ptr is a small helper for building optional block times.
func Int64Ptr(v int64) *int64 { return &v }
