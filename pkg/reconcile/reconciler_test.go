package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/void-labs/void-supply/pkg/events"
	"github.com/void-labs/void-supply/pkg/policy"
	"github.com/void-labs/void-supply/pkg/store"
	"github.com/void-labs/void-supply/pkg/types"
)

type fakeLedger struct {
	sigs   map[string][]types.SignatureInfo
	sigErr map[string]error
	txs    map[string]*types.Transaction
	txErr  map[string]error
	delay  time.Duration

	mu          sync.Mutex
	fetched     []string
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *fakeLedger) Signatures(_ context.Context, address string, _ int) ([]types.SignatureInfo, error) {
	if err := f.sigErr[address]; err != nil {
		return nil, err
	}
	return f.sigs[address], nil
}

func (f *fakeLedger) Transaction(ctx context.Context, sig string) (*types.Transaction, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	f.mu.Lock()
	f.fetched = append(f.fetched, sig)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.txErr[sig]; err != nil {
		return nil, err
	}
	return f.txs[sig], nil
}

func (f *fakeLedger) fetchedSigs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type failingKV struct{}

func (failingKV) Get(context.Context, string) ([]byte, error) { return nil, errors.New("disk gone") }
func (failingKV) Put(context.Context, string, []byte) error   { return errors.New("disk gone") }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy() *policy.Policy {
	p := policy.Default()
	p.LegacySignatures = nil
	return p
}

func burnTx(sig string, blockTime int64, amount string) *types.Transaction {
	return &types.Transaction{
		Signature:   sig,
		BlockTime:   types.Int64Ptr(blockTime),
		AccountKeys: []string{"burner-" + sig},
		Meta: &types.TransactionMeta{
			LogMessages: []string{"Program log: Instruction: Burn"},
			PreTokenBalances: []types.TokenBalance{
				{AccountIndex: 1, Mint: policy.DefaultMint, Owner: "o", Amount: decimal.RequireFromString(amount)},
			},
			PostTokenBalances: []types.TokenBalance{
				{AccountIndex: 1, Mint: policy.DefaultMint, Owner: "o", Amount: decimal.Zero},
			},
		},
	}
}

func transferTx(sig string) *types.Transaction {
	return &types.Transaction{
		Signature:   sig,
		BlockTime:   types.Int64Ptr(1),
		AccountKeys: []string{"x"},
		Meta:        &types.TransactionMeta{LogMessages: []string{"Program log: Instruction: Transfer"}},
	}
}

func info(sig string, blockTime int64) types.SignatureInfo {
	return types.SignatureInfo{Signature: sig, BlockTime: types.Int64Ptr(blockTime)}
}

type harness struct {
	ledger *fakeLedger
	kv     store.KV
	store  *store.EventStore
	pub    *recordingPublisher
	r      *Reconciler
}

func newHarness(t *testing.T, l *fakeLedger, p *policy.Policy, kv store.KV, opt Options) *harness {
	t.Helper()
	if kv == nil {
		kv = store.NewMemoryKV()
	}
	es := store.NewEventStore(kv, quietLogger())
	pub := &recordingPublisher{}
	if opt.Publisher == nil {
		opt.Publisher = pub
	}
	opt.Logger = quietLogger()
	return &harness{ledger: l, kv: kv, store: es, pub: pub, r: New(l, es, p, opt)}
}

func TestReconcileEmptyCacheOneBurn(t *testing.T) {
	l := &fakeLedger{
		sigs: map[string][]types.SignatureInfo{policy.DefaultMint: {info("s1", 1700000000)}},
		txs:  map[string]*types.Transaction{"s1": burnTx("s1", 1700000000, "1000000")},
	}
	h := newHarness(t, l, testPolicy(), nil, Options{})

	got, err := h.r.Reconcile(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].Signature)
	assert.Equal(t, int64(1700000000), *got[0].BlockTime)
	assert.Equal(t, "1000000", got[0].Amount.String())
	assert.Equal(t, "burner-s1", got[0].Burner)

	stored := h.store.Load(context.Background())
	require.Len(t, stored, 1)
	assert.Equal(t, "s1", stored[0].Signature)
}

func TestReconcileFetchesOnlyUnseen(t *testing.T) {
	l := &fakeLedger{
		sigs: map[string][]types.SignatureInfo{
			policy.DefaultMint: {info("s2", 200), info("s1", 100)},
		},
		txs: map[string]*types.Transaction{
			"s1": burnTx("s1", 100, "5"),
			"s2": burnTx("s2", 200, "3"),
		},
	}
	h := newHarness(t, l, testPolicy(), nil, Options{})
	require.NoError(t, h.store.Save(context.Background(), []types.BurnEvent{ev("s1", 100)}))

	got, err := h.r.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2", "s1"}, sigs(got))
	assert.Equal(t, []string{"s2"}, l.fetchedSigs())
}

func TestReconcileSourceFailureKeepsOthers(t *testing.T) {
	l := &fakeLedger{
		sigs:   map[string][]types.SignatureInfo{policy.DefaultMint: {info("s1", 100)}},
		sigErr: map[string]error{policy.DefaultBurnWallet: errors.New("429 too many requests")},
		txs:    map[string]*types.Transaction{"s1": burnTx("s1", 100, "2")},
	}
	h := newHarness(t, l, testPolicy(), nil, Options{})

	got, err := h.r.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, sigs(got))
}

func TestReconcileAllSourcesFailReturnsCached(t *testing.T) {
	l := &fakeLedger{sigErr: map[string]error{
		policy.DefaultMint:       errors.New("down"),
		policy.DefaultBurnWallet: errors.New("down"),
	}}
	h := newHarness(t, l, testPolicy(), nil, Options{})
	require.NoError(t, h.store.Save(context.Background(), []types.BurnEvent{ev("old", 10)}))

	got, err := h.r.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, sigs(got))
}

func TestReconcileSkipsNullFailedAndErrored(t *testing.T) {
	failed := info("failed", 300)
	failed.Failed = true
	l := &fakeLedger{
		sigs: map[string][]types.SignatureInfo{
			policy.DefaultMint:       {failed, info("null", 200), info("boom", 150)},
			policy.DefaultBurnWallet: {info("ok", 100), info("null", 200)},
		},
		txs:   map[string]*types.Transaction{"ok": burnTx("ok", 100, "9"), "failed": burnTx("failed", 300, "9")},
		txErr: map[string]error{"boom": errors.New("timeout")},
	}
	h := newHarness(t, l, testPolicy(), nil, Options{})

	got, err := h.r.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, sigs(got))
	assert.ElementsMatch(t, []string{"null", "boom", "ok"}, l.fetchedSigs())
}

func TestReconcileLegacyAllowList(t *testing.T) {
	p := testPolicy()
	p.LegacySignatures = []string{"legacy"}
	l := &fakeLedger{txs: map[string]*types.Transaction{"legacy": burnTx("legacy", 50, "12.5")}}
	h := newHarness(t, l, p, nil, Options{})

	got, err := h.r.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "legacy", got[0].Signature)
	assert.Equal(t, "12.5", got[0].Amount.String())
}

func TestReconcileRemembersNonBurns(t *testing.T) {
	l := &fakeLedger{
		sigs: map[string][]types.SignatureInfo{policy.DefaultMint: {info("xfer", 10)}},
		txs:  map[string]*types.Transaction{"xfer": transferTx("xfer")},
	}
	h := newHarness(t, l, testPolicy(), nil, Options{})

	for i := 0; i < 3; i++ {
		got, err := h.r.Reconcile(context.Background(), 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
	assert.Equal(t, []string{"xfer"}, l.fetchedSigs())
}

func TestReconcileIdempotent(t *testing.T) {
	l := &fakeLedger{
		sigs: map[string][]types.SignatureInfo{policy.DefaultMint: {info("a", 2), info("b", 1)}},
		txs:  map[string]*types.Transaction{"a": burnTx("a", 2, "1"), "b": burnTx("b", 1, "1")},
	}
	h := newHarness(t, l, testPolicy(), nil, Options{})

	first, err := h.r.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	second, err := h.r.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, sigs(first), sigs(second))
	assert.Len(t, l.fetchedSigs(), 2)
}

func TestReconcileRetentionAndMaxReturn(t *testing.T) {
	var list []types.SignatureInfo
	txs := map[string]*types.Transaction{}
	for i := 1; i <= 60; i++ {
		sig := fmt.Sprintf("s%d", i)
		list = append(list, info(sig, int64(i)))
		txs[sig] = burnTx(sig, int64(i), "1")
	}
	l := &fakeLedger{sigs: map[string][]types.SignatureInfo{policy.DefaultMint: list}, txs: txs}
	h := newHarness(t, l, testPolicy(), nil, Options{})

	got, err := h.r.Reconcile(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Equal(t, int64(60), *got[0].BlockTime)
	assert.Len(t, h.store.Load(context.Background()), 50)
}

func TestReconcileBoundsFetchConcurrency(t *testing.T) {
	var list []types.SignatureInfo
	for i := 0; i < 20; i++ {
		list = append(list, info(string(rune('a'+i)), int64(i+1)))
	}
	l := &fakeLedger{sigs: map[string][]types.SignatureInfo{policy.DefaultMint: list}, delay: 5 * time.Millisecond}
	h := newHarness(t, l, testPolicy(), nil, Options{FetchConcurrency: 3})

	_, err := h.r.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, l.fetchedSigs(), 20)
	assert.LessOrEqual(t, l.maxInflight.Load(), int32(3))
}

func TestReconcileCancelledSavesNothing(t *testing.T) {
	l := &fakeLedger{
		sigs: map[string][]types.SignatureInfo{policy.DefaultMint: {info("s1", 1)}},
		txs:  map[string]*types.Transaction{"s1": burnTx("s1", 1, "1")},
	}
	kv := store.NewMemoryKV()
	h := newHarness(t, l, testPolicy(), kv, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := h.r.Reconcile(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, got)

	_, err = kv.Get(context.Background(), store.HistoryKey)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, h.pub.topics)
}

func TestReconcileSaveFailureStillReturns(t *testing.T) {
	l := &fakeLedger{
		sigs: map[string][]types.SignatureInfo{policy.DefaultMint: {info("s1", 1)}},
		txs:  map[string]*types.Transaction{"s1": burnTx("s1", 1, "1")},
	}
	h := newHarness(t, l, testPolicy(), failingKV{}, Options{})

	got, err := h.r.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, sigs(got))

	last := h.pub.events[len(h.pub.events)-1].(events.HistoryReconciled)
	assert.False(t, last.Saved)
}

func TestReconcilePublishesEvents(t *testing.T) {
	l := &fakeLedger{
		sigs: map[string][]types.SignatureInfo{
			policy.DefaultMint:       {info("s1", 2)},
			policy.DefaultBurnWallet: {info("s2", 1), info("s1", 2)},
		},
		txs: map[string]*types.Transaction{"s1": burnTx("s1", 2, "1"), "s2": burnTx("s2", 1, "1")},
	}
	h := newHarness(t, l, testPolicy(), nil, Options{})

	_, err := h.r.Reconcile(context.Background(), 0)
	require.NoError(t, err)

	require.Len(t, h.pub.topics, 3)
	assert.Equal(t, events.TopicBurnDiscovered, h.pub.topics[0])
	assert.Equal(t, events.TopicBurnDiscovered, h.pub.topics[1])
	assert.Equal(t, events.TopicHistoryReconciled, h.pub.topics[2])

	first := h.pub.events[0].(events.BurnDiscovered)
	summary := h.pub.events[2].(events.HistoryReconciled)
	assert.Equal(t, first.Run, summary.Run)
	assert.Contains(t, summary.Run, "rc-")
	assert.Equal(t, 2, summary.Candidates)
	assert.Equal(t, 2, summary.Unseen)
	assert.Equal(t, 2, summary.Discovered)
	assert.Equal(t, 2, summary.Retained)
	assert.Equal(t, map[string]int{SourceMint: 1, SourceWallet: 2, SourceLegacy: 0}, summary.Sources)
	assert.True(t, summary.Saved)
}

func TestReconcilePublishFailureIgnored(t *testing.T) {
	l := &fakeLedger{
		sigs: map[string][]types.SignatureInfo{policy.DefaultMint: {info("s1", 1)}},
		txs:  map[string]*types.Transaction{"s1": burnTx("s1", 1, "1")},
	}
	pub := &recordingPublisher{err: errors.New("nats: connection closed")}
	h := newHarness(t, l, testPolicy(), nil, Options{Publisher: pub})

	got, err := h.r.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Len(t, pub.topics, 2)
}

func TestReconcileFallsBackToSignatureBlockTime(t *testing.T) {
	tx := burnTx("s1", 0, "1")
	tx.BlockTime = nil
	l := &fakeLedger{
		sigs: map[string][]types.SignatureInfo{policy.DefaultMint: {info("s1", 77)}},
		txs:  map[string]*types.Transaction{"s1": tx},
	}
	h := newHarness(t, l, testPolicy(), nil, Options{})

	got, err := h.r.Reconcile(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].BlockTime)
	assert.Equal(t, int64(77), *got[0].BlockTime)
}

func TestReconcileTiesAtCapAreStable(t *testing.T) {
	var list []types.SignatureInfo
	txs := map[string]*types.Transaction{}
	for i := 1; i <= 49; i++ {
		sig := fmt.Sprintf("s%d", i)
		list = append(list, info(sig, int64(100+i)))
		txs[sig] = burnTx(sig, int64(100+i), "1")
	}
	for _, sig := range []string{"tieB", "tieA"} {
		list = append(list, info(sig, 50))
		txs[sig] = burnTx(sig, 50, "1")
	}
	l := &fakeLedger{sigs: map[string][]types.SignatureInfo{policy.DefaultMint: list}, txs: txs}
	h := newHarness(t, l, testPolicy(), nil, Options{})

	for i := 0; i < 3; i++ {
		got, err := h.r.Reconcile(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, got, 50)
		assert.Equal(t, "tieA", got[49].Signature, "pass %d", i)
	}
	assert.Len(t, l.fetchedSigs(), 51)
}

func TestReconcileTrimmedBurnsNotRefetched(t *testing.T) {
	var list []types.SignatureInfo
	txs := map[string]*types.Transaction{}
	for i := 1; i <= 60; i++ {
		sig := fmt.Sprintf("s%d", i)
		list = append(list, info(sig, int64(i)))
		txs[sig] = burnTx(sig, int64(i), "1")
	}
	l := &fakeLedger{sigs: map[string][]types.SignatureInfo{policy.DefaultMint: list}, txs: txs}
	h := newHarness(t, l, testPolicy(), nil, Options{})

	for i := 0; i < 3; i++ {
		got, err := h.r.Reconcile(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, got, 50)
		assert.Equal(t, "s11", got[49].Signature)
	}
	assert.Len(t, l.fetchedSigs(), 60)

	var discovered []string
	var summaries []events.HistoryReconciled
	for i, topic := range h.pub.topics {
		switch topic {
		case events.TopicBurnDiscovered:
			discovered = append(discovered, h.pub.events[i].(events.BurnDiscovered).Event.Signature)
		case events.TopicHistoryReconciled:
			summaries = append(summaries, h.pub.events[i].(events.HistoryReconciled))
		}
	}
	assert.Len(t, discovered, 50)
	assert.NotContains(t, discovered, "s10")
	require.Len(t, summaries, 3)
	assert.Equal(t, 50, summaries[0].Discovered)
	assert.Equal(t, 0, summaries[1].Unseen)
	assert.Equal(t, 0, summaries[2].Discovered)
}
