package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/void-labs/void-supply/internal/ratelimit"
	"github.com/void-labs/void-supply/pkg/types"
)

// Client issues read-only queries against a Solana JSON-RPC endpoint and
// converts the responses into pkg/types values.
type Client struct {
	rpc     *rpc.Client
	mint    solana.PublicKey
	timeout time.Duration
	pace    *ratelimit.Outbound
}

type Options struct {
	// Timeout bounds each individual call. Defaults to 8s.
	Timeout time.Duration
	// Pace, when set, gates every call.
	Pace *ratelimit.Outbound
}

func NewClient(endpoint, mint string, opt Options) (*Client, error) {
	pk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("mint %q: %w", mint, err)
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 8 * time.Second
	}
	return &Client{rpc: rpc.New(endpoint), mint: pk, timeout: opt.Timeout, pace: opt.Pace}, nil
}

// begin bounds the call, including any wait for the outbound pace, by the timeout.
func (c *Client) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	if err := c.pace.Wait(ctx); err != nil {
		cancel()
		return nil, nil, err
	}
	return ctx, cancel, nil
}

// Supply returns the tracked mint's current supply in UI units.
func (c *Client) Supply(ctx context.Context) (decimal.Decimal, error) {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer cancel()
	out, err := c.rpc.GetTokenSupply(ctx, c.mint, rpc.CommitmentConfirmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rpc token supply: %w", err)
	}
	if out == nil || out.Value == nil {
		return decimal.Zero, errors.New("rpc token supply: empty result")
	}
	return uiAmount(out.Value)
}

// Signatures lists at most limit of the most recent confirmed signatures touching address,
// most recent first.
func (c *Client) Signatures(ctx context.Context, address string, limit int) ([]types.SignatureInfo, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("address %q: %w", address, err)
	}
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	out, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, pk, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc signatures for %s: %w", address, err)
	}
	sigs := make([]types.SignatureInfo, 0, len(out))
	for _, s := range out {
		if s == nil {
			continue
		}
		info := types.SignatureInfo{
			Signature: s.Signature.String(),
			Slot:      s.Slot,
			Failed:    s.Err != nil,
		}
		if s.BlockTime != nil {
			info.BlockTime = types.Int64Ptr(int64(*s.BlockTime))
		}
		sigs = append(sigs, info)
	}
	return sigs, nil
}

// Transaction fetches and normalizes one transaction. It returns (nil, nil) when the
// ledger does not have it (pruned, unknown, or a malformed signature).
func (c *Client) Transaction(ctx context.Context, signature string) (*types.Transaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, nil
	}
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	maxVersion := uint64(0)
	out, err := c.rpc.GetParsedTransaction(ctx, sig, &rpc.GetParsedTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("rpc transaction %s: %w", signature, err)
	}
	if out == nil {
		return nil, nil
	}
	return normalize(signature, out), nil
}

func normalize(signature string, out *rpc.GetParsedTransactionResult) *types.Transaction {
	tx := &types.Transaction{Signature: signature}
	if out.BlockTime != nil {
		tx.BlockTime = types.Int64Ptr(int64(*out.BlockTime))
	}
	if out.Transaction != nil {
		for _, k := range out.Transaction.Message.AccountKeys {
			tx.AccountKeys = append(tx.AccountKeys, k.PublicKey.String())
		}
	}
	if out.Meta != nil {
		tx.Meta = &types.TransactionMeta{
			LogMessages:       out.Meta.LogMessages,
			PreTokenBalances:  tokenBalances(out.Meta.PreTokenBalances),
			PostTokenBalances: tokenBalances(out.Meta.PostTokenBalances),
		}
	}
	return tx
}

func tokenBalances(in []rpc.TokenBalance) []types.TokenBalance {
	out := make([]types.TokenBalance, 0, len(in))
	for _, b := range in {
		tb := types.TokenBalance{
			AccountIndex: int(b.AccountIndex),
			Mint:         b.Mint.String(),
		}
		if b.Owner != nil {
			tb.Owner = b.Owner.String()
		}
		if b.UiTokenAmount != nil {
			// unparseable amounts count as zero, the same as a missing uiAmount
			tb.Amount, _ = uiAmount(b.UiTokenAmount)
		}
		out = append(out, tb)
	}
	return out
}

// uiAmount prefers the exact uiAmountString and falls back to the raw amount scaled by decimals.
func uiAmount(a *rpc.UiTokenAmount) (decimal.Decimal, error) {
	if a.UiAmountString != "" {
		d, err := decimal.NewFromString(a.UiAmountString)
		if err == nil {
			return d, nil
		}
	}
	raw, err := decimal.NewFromString(a.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("token amount %q: %w", a.Amount, err)
	}
	return raw.Shift(-int32(a.Decimals)), nil
}
