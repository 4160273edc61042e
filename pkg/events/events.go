package events

import (
	"context"

	"github.com/void-labs/void-supply/pkg/types"
)

const (
	TopicBurnDiscovered    = "void.burn.discovered"
	TopicHistoryReconciled = "void.history.reconciled"

	// TopicAll matches every topic above.
	TopicAll = "void.>"
)

// BurnDiscovered is published once per burn a reconciliation pass adds to the history.
type BurnDiscovered struct {
	Run   string          `json:"run"`
	Event types.BurnEvent `json:"event"`
}

// HistoryReconciled summarizes one reconciliation pass.
type HistoryReconciled struct {
	Run        string         `json:"run"`
	Candidates int            `json:"candidates"`
	Unseen     int            `json:"unseen"`
	Discovered int            `json:"discovered"`
	Retained   int            `json:"retained"`
	Sources    map[string]int `json:"sources"`
	Saved      bool           `json:"saved"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// NoopPublisher is a Publisher that does nothing (used when NATS is not configured).
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }

func (NoopPublisher) Close() error { return nil }
