package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Policy holds the protocol constants the reconciler and stats aggregator work from.
// Default() carries the production values; a policy file only needs the fields it overrides.
type Policy struct {
	// Mint is the tracked token mint.
	Mint string `json:"mint" toml:"mint" yaml:"mint"`

	// BurnWallet is the protocol wallet that executes scheduled burns.
	BurnWallet string `json:"burn_wallet" toml:"burn_wallet" yaml:"burn_wallet"`

	// Incinerators are owners whose balances count as destroyed.
	Incinerators []string `json:"incinerators" toml:"incinerators" yaml:"incinerators"`

	// LegacySignatures are historical burns that have fallen out of every scan window.
	LegacySignatures []string `json:"legacy_signatures" toml:"legacy_signatures" yaml:"legacy_signatures"`

	InitialSupply string `json:"initial_supply" toml:"initial_supply" yaml:"initial_supply"`
	MinBurnAmount string `json:"min_burn_amount" toml:"min_burn_amount" yaml:"min_burn_amount"`

	RetentionCap int `json:"retention_cap" toml:"retention_cap" yaml:"retention_cap"`
	MintWindow   int `json:"mint_window" toml:"mint_window" yaml:"mint_window"`
	WalletWindow int `json:"wallet_window" toml:"wallet_window" yaml:"wallet_window"`

	// EmptyHistoryDelayHours is the placeholder offset used when no burn has been observed yet.
	EmptyHistoryDelayHours int `json:"empty_history_delay_hours" toml:"empty_history_delay_hours" yaml:"empty_history_delay_hours"`

	Schedule []Tier `json:"schedule" toml:"schedule" yaml:"schedule"`
}

// Tier applies to burned percentages strictly below BelowPercent.
// The last tier's BelowPercent is ignored and covers everything above the previous bound.
type Tier struct {
	BelowPercent  float64 `json:"below_percent" toml:"below_percent" yaml:"below_percent"`
	IntervalHours int     `json:"interval_hours" toml:"interval_hours" yaml:"interval_hours"`
}

const (
	DefaultMint        = "nkr7dkAuSPG2w8jksVeHTZmHRY8CMr6r1ekBG9eaPHb"
	DefaultBurnWallet  = "CEJnLWLEzRGSaeaoWKVSnhA4QD4mZaRY9sQbz4NNfyLz"
	IncineratorAddress = "1nc1nerator11111111111111111111111111111111"
	DeadAddress        = "11111111111111111111111111111111"
)

// Default returns the protocol constants.
func Default() *Policy {
	return &Policy{
		Mint:         DefaultMint,
		BurnWallet:   DefaultBurnWallet,
		Incinerators: []string{IncineratorAddress, DeadAddress},
		LegacySignatures: []string{
			"3XxDWDE3vDcnSBfPWhZmif7RzdUxEwdwJNQPXqYdoAVhQP2gQuX2EsqujeQ71gsbpZpm1AXagTKi55LymnEDGN3k",
		},
		InitialSupply:          "100000000",
		MinBurnAmount:          "0.0001",
		RetentionCap:           50,
		MintWindow:             100,
		WalletWindow:           1000,
		EmptyHistoryDelayHours: 11,
		Schedule: []Tier{
			{BelowPercent: 5, IntervalHours: 12},
			{BelowPercent: 10, IntervalHours: 18},
			{BelowPercent: 15, IntervalHours: 24},
			{BelowPercent: 30, IntervalHours: 30},
			{BelowPercent: 50, IntervalHours: 36},
			{BelowPercent: 100, IntervalHours: 48},
		},
	}
}

// Load overlays the file at path onto Default(). The format is picked by extension:
// .toml, .yaml/.yml, anything else is parsed as JSON.
func Load(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	p := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(b), p); err != nil {
			return nil, fmt.Errorf("decode toml policy: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, p); err != nil {
			return nil, fmt.Errorf("decode yaml policy: %w", err)
		}
	default:
		if err := json.Unmarshal(b, p); err != nil {
			return nil, fmt.Errorf("decode json policy: %w", err)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Policy) Validate() error {
	if p == nil {
		return errors.New("nil policy")
	}
	if _, err := solana.PublicKeyFromBase58(p.Mint); err != nil {
		return fmt.Errorf("mint %q: %w", p.Mint, err)
	}
	if _, err := solana.PublicKeyFromBase58(p.BurnWallet); err != nil {
		return fmt.Errorf("burn_wallet %q: %w", p.BurnWallet, err)
	}
	for i, a := range p.Incinerators {
		if _, err := solana.PublicKeyFromBase58(a); err != nil {
			return fmt.Errorf("incinerators[%d] %q: %w", i, a, err)
		}
	}
	for i, s := range p.LegacySignatures {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("legacy_signatures[%d] is empty", i)
		}
	}
	initial, err := decimal.NewFromString(p.InitialSupply)
	if err != nil {
		return fmt.Errorf("initial_supply: %w", err)
	}
	if !initial.IsPositive() {
		return errors.New("initial_supply must be positive")
	}
	minBurn, err := decimal.NewFromString(p.MinBurnAmount)
	if err != nil {
		return fmt.Errorf("min_burn_amount: %w", err)
	}
	if minBurn.IsNegative() {
		return errors.New("min_burn_amount must not be negative")
	}
	if p.RetentionCap <= 0 {
		return errors.New("retention_cap must be positive")
	}
	if p.MintWindow <= 0 || p.WalletWindow <= 0 {
		return errors.New("scan windows must be positive")
	}
	if p.EmptyHistoryDelayHours < 0 {
		return errors.New("empty_history_delay_hours must not be negative")
	}
	if len(p.Schedule) == 0 {
		return errors.New("schedule is empty")
	}
	for i, t := range p.Schedule {
		if t.IntervalHours <= 0 {
			return fmt.Errorf("schedule[%d] interval_hours must be positive", i)
		}
		if i > 0 && t.BelowPercent <= p.Schedule[i-1].BelowPercent {
			return fmt.Errorf("schedule[%d] below_percent must increase", i)
		}
	}
	return nil
}

// Initial returns the initial total supply. Validate guarantees it parses.
func (p *Policy) Initial() decimal.Decimal {
	return decimal.RequireFromString(p.InitialSupply)
}

// Threshold returns the minimum amount a balance delta must exceed to count as a burn.
func (p *Policy) Threshold() decimal.Decimal {
	return decimal.RequireFromString(p.MinBurnAmount)
}

func (p *Policy) EmptyHistoryDelay() time.Duration {
	return time.Duration(p.EmptyHistoryDelayHours) * time.Hour
}
