// Package reconcile rebuilds the canonical burn history from the cached history and
// the signature sets of the anchor addresses.
package reconcile

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/void-labs/void-supply/internal/idgen"
	"github.com/void-labs/void-supply/pkg/classify"
	"github.com/void-labs/void-supply/pkg/events"
	"github.com/void-labs/void-supply/pkg/policy"
	"github.com/void-labs/void-supply/pkg/types"
)

// Source names used in logs and in the reconciled summary.
const (
	SourceMint   = "mint"
	SourceWallet = "wallet"
	SourceLegacy = "legacy"
)

const (
	DefaultFetchConcurrency = 8
	DefaultMissCacheSize    = 4096
)

// Ledger is the subset of the ledger adapter the reconciler reads from.
type Ledger interface {
	Signatures(ctx context.Context, address string, limit int) ([]types.SignatureInfo, error)
	Transaction(ctx context.Context, signature string) (*types.Transaction, error)
}

// History is the durable slot holding the reconciled history.
type History interface {
	Load(ctx context.Context) []types.BurnEvent
	Save(ctx context.Context, events []types.BurnEvent) error
}

type Options struct {
	// FetchConcurrency bounds in-flight transaction fetches. Default 8.
	FetchConcurrency int
	// MissCacheSize bounds the remembered signatures that need no refetch (non-burns
	// and burns trimmed off the history); negative disables it.
	MissCacheSize int
	Publisher     events.Publisher
	Logger        *slog.Logger
}

type Reconciler struct {
	ledger      Ledger
	history     History
	policy      *policy.Policy
	rules       classify.Rules
	concurrency int
	misses      *missCache
	pub         events.Publisher
	logger      *slog.Logger
	newRunID    func() (string, error)
}

func New(l Ledger, h History, p *policy.Policy, opt Options) *Reconciler {
	if opt.FetchConcurrency <= 0 {
		opt.FetchConcurrency = DefaultFetchConcurrency
	}
	if opt.MissCacheSize == 0 {
		opt.MissCacheSize = DefaultMissCacheSize
	}
	if opt.Publisher == nil {
		opt.Publisher = events.NoopPublisher{}
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	return &Reconciler{
		ledger:      l,
		history:     h,
		policy:      p,
		rules:       classify.RulesFromPolicy(p),
		concurrency: opt.FetchConcurrency,
		misses:      newMissCache(opt.MissCacheSize),
		pub:         opt.Publisher,
		logger:      opt.Logger,
		newRunID:    idgen.Run,
	}
}

type candidate struct {
	signature string
	blockTime *int64
}

// Reconcile runs one pass and returns the first maxReturn entries of the retained
// history (all of it when maxReturn <= 0). Failed sources and fetches only shrink what
// the pass discovers; the only error is cancellation, in which case nothing is saved.
func (r *Reconciler) Reconcile(ctx context.Context, maxReturn int) ([]types.BurnEvent, error) {
	run, err := r.newRunID()
	if err != nil {
		r.logger.Warn("run id generation failed", "err", err)
	}
	log := r.logger.With("run", run)

	cached := r.history.Load(ctx)
	known := make(map[string]struct{}, len(cached))
	for _, e := range cached {
		known[e.Signature] = struct{}{}
	}

	candidates, sources := r.candidates(ctx, log)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unseen := candidates[:0:0]
	for _, c := range candidates {
		if _, ok := known[c.signature]; ok {
			continue
		}
		if r.misses.has(c.signature) {
			continue
		}
		unseen = append(unseen, c)
	}

	found := r.fetch(ctx, log, unseen)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fresh := make([]types.BurnEvent, 0, len(found))
	for _, e := range found {
		if e != nil {
			fresh = append(fresh, *e)
		}
	}

	merged := Merge(fresh, cached, r.policy.RetentionCap)
	saved := true
	if err := r.history.Save(ctx, merged); err != nil {
		saved = false
		log.Warn("burn history save failed", "err", err)
	}

	// Burns older than everything retained are never retained later, so they are
	// remembered like non-burns instead of being fetched on every pass.
	retained := make(map[string]struct{}, len(merged))
	for _, e := range merged {
		retained[e.Signature] = struct{}{}
	}
	discovered := 0
	for _, e := range fresh {
		if _, ok := retained[e.Signature]; !ok {
			r.misses.add(e.Signature)
			continue
		}
		discovered++
		r.publish(ctx, log, events.TopicBurnDiscovered, events.BurnDiscovered{Run: run, Event: e})
	}
	for _, e := range cached {
		if _, ok := retained[e.Signature]; !ok {
			r.misses.add(e.Signature)
		}
	}
	r.publish(ctx, log, events.TopicHistoryReconciled, events.HistoryReconciled{
		Run:        run,
		Candidates: len(candidates),
		Unseen:     len(unseen),
		Discovered: discovered,
		Retained:   len(merged),
		Sources:    sources,
		Saved:      saved,
	})
	log.Info("reconciled burn history",
		"candidates", len(candidates), "unseen", len(unseen),
		"discovered", discovered, "trimmed", len(fresh)-discovered, "retained", len(merged))

	if maxReturn > 0 && len(merged) > maxReturn {
		merged = merged[:maxReturn]
	}
	return append([]types.BurnEvent(nil), merged...), nil
}

// candidates lists the anchor addresses concurrently and unions the results in
// mint, wallet, legacy order. Signatures of failed transactions are dropped.
func (r *Reconciler) candidates(ctx context.Context, log *slog.Logger) ([]candidate, map[string]int) {
	var mintSigs, walletSigs []types.SignatureInfo
	var g errgroup.Group
	g.Go(func() error {
		mintSigs = r.list(ctx, log, SourceMint, r.policy.Mint, r.policy.MintWindow)
		return nil
	})
	g.Go(func() error {
		walletSigs = r.list(ctx, log, SourceWallet, r.policy.BurnWallet, r.policy.WalletWindow)
		return nil
	})
	_ = g.Wait()

	sources := map[string]int{
		SourceMint:   len(mintSigs),
		SourceWallet: len(walletSigs),
		SourceLegacy: len(r.policy.LegacySignatures),
	}

	seen := make(map[string]struct{})
	var out []candidate
	for _, list := range [][]types.SignatureInfo{mintSigs, walletSigs} {
		for _, s := range list {
			if s.Failed || s.Signature == "" {
				continue
			}
			if _, dup := seen[s.Signature]; dup {
				continue
			}
			seen[s.Signature] = struct{}{}
			out = append(out, candidate{signature: s.Signature, blockTime: s.BlockTime})
		}
	}
	for _, sig := range r.policy.LegacySignatures {
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}
		out = append(out, candidate{signature: sig})
	}
	return out, sources
}

func (r *Reconciler) list(ctx context.Context, log *slog.Logger, source, address string, limit int) []types.SignatureInfo {
	sigs, err := r.ledger.Signatures(ctx, address, limit)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("signature source failed", "source", source, "address", address, "err", err)
		}
		return nil
	}
	return sigs
}

// fetch classifies unseen candidates with bounded concurrency. Each worker writes only
// its own slot.
func (r *Reconciler) fetch(ctx context.Context, log *slog.Logger, unseen []candidate) []*types.BurnEvent {
	found := make([]*types.BurnEvent, len(unseen))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, c := range unseen {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			tx, err := r.ledger.Transaction(ctx, c.signature)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("transaction fetch failed", "signature", c.signature, "err", err)
				}
				return nil
			}
			if tx == nil {
				return nil
			}
			e, ok := classify.Event(tx, r.rules)
			if !ok {
				// without metadata the transaction may still be settling
				if tx.Meta != nil {
					r.misses.add(c.signature)
				}
				return nil
			}
			e.Signature = c.signature
			if e.BlockTime == nil {
				e.BlockTime = c.blockTime
			}
			found[i] = &e
			return nil
		})
	}
	_ = g.Wait()
	return found
}

func (r *Reconciler) publish(ctx context.Context, log *slog.Logger, topic string, event any) {
	if err := r.pub.Publish(ctx, topic, event); err != nil {
		log.Warn("event publish failed", "topic", topic, "err", err)
	}
}
