// Package store persists the reconciled burn history behind a small key/value contract.
//
// Backends only move bytes; EventStore owns the history encoding and degrades every
// read problem to an empty history so a broken cache never blocks reconciliation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/void-labs/void-supply/pkg/types"
)

// HistoryKey is the slot the reconciled history lives in. Bump the version suffix when
// the encoding changes so an incompatible old value is never decoded.
const HistoryKey = "void_burn_history_v2"

// ErrNotFound is returned by KV.Get when the key has never been written.
var ErrNotFound = errors.New("store: key not found")

// KV is a durable key/value slot.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// EventStore reads and writes the reconciled history in a KV.
type EventStore struct {
	kv     KV
	key    string
	logger *slog.Logger
}

func NewEventStore(kv KV, logger *slog.Logger) *EventStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventStore{kv: kv, key: HistoryKey, logger: logger}
}

// Load returns the stored history, or an empty one if there is none or it cannot be read.
func (s *EventStore) Load(ctx context.Context) []types.BurnEvent {
	b, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("burn history load failed, starting empty", "key", s.key, "err", err)
		}
		return []types.BurnEvent{}
	}
	var events []types.BurnEvent
	if err := json.Unmarshal(b, &events); err != nil {
		s.logger.Warn("burn history corrupt, starting empty", "key", s.key, "err", err)
		return []types.BurnEvent{}
	}
	out := make([]types.BurnEvent, 0, len(events))
	for _, e := range events {
		if e.Signature == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Save replaces the stored history.
func (s *EventStore) Save(ctx context.Context, events []types.BurnEvent) error {
	if events == nil {
		events = []types.BurnEvent{}
	}
	b, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode burn history: %w", err)
	}
	if err := s.kv.Put(ctx, s.key, b); err != nil {
		return fmt.Errorf("put %s: %w", s.key, err)
	}
	return nil
}

// MemoryKV keeps values in process memory.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}
