// Package bootstrap wires the runtime configuration into the reconciler, the stats
// aggregator and the snapshot cache shared by both binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/void-labs/void-supply/internal/config"
	"github.com/void-labs/void-supply/internal/ratelimit"
	"github.com/void-labs/void-supply/pkg/cache"
	"github.com/void-labs/void-supply/pkg/events"
	"github.com/void-labs/void-supply/pkg/ledger"
	"github.com/void-labs/void-supply/pkg/policy"
	"github.com/void-labs/void-supply/pkg/reconcile"
	"github.com/void-labs/void-supply/pkg/store"
	"github.com/void-labs/void-supply/pkg/supply"
)

type Service struct {
	Policy     *policy.Policy
	Ledger     *ledger.Client
	History    *store.EventStore
	Publisher  events.Publisher
	Reconciler *reconcile.Reconciler
	Computer   *supply.Computer
	Schedule   supply.Schedule
	Cache      *cache.SnapshotCache

	closers []io.Closer
}

// LoadPolicy returns the built-in policy when path is empty.
func LoadPolicy(path string) (*policy.Policy, error) {
	if path == "" {
		return policy.Default(), nil
	}
	p, err := policy.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", path, err)
	}
	return p, nil
}

// Build constructs every component. On error, anything already opened is closed.
func Build(ctx context.Context, cfg *config.Config, pol *policy.Policy, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{Policy: pol}

	client, err := ledger.NewClient(cfg.RPCURL, pol.Mint, ledger.Options{
		Timeout: cfg.RPCTimeout,
		Pace:    ratelimit.NewOutbound(cfg.RPCRPS, max(1, int(cfg.RPCRPS))),
	})
	if err != nil {
		return nil, err
	}
	s.Ledger = client

	kv, closer, err := OpenKV(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		s.closers = append(s.closers, closer)
	}
	s.History = store.NewEventStore(kv, logger.With("component", "store"))

	s.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.Publisher = pub
		s.closers = append(s.closers, pub)
	}

	s.Reconciler = reconcile.New(client, s.History, pol, reconcile.Options{
		FetchConcurrency: cfg.FetchConcurrency,
		Publisher:        s.Publisher,
		Logger:           logger.With("component", "reconcile"),
	})
	s.Computer = supply.NewComputer(client, pol)
	s.Schedule = supply.ScheduleFromPolicy(pol)
	s.Cache = cache.NewSnapshotCache(s.Computer, s.Reconciler, cache.Options{
		TTL:    cfg.RefreshInterval,
		Logger: logger.With("component", "cache"),
	})
	logger.Info("service built", "store", cfg.Store, "rpc", cfg.RPCURL, "nats", cfg.NATSURL != "")
	return s, nil
}

// OpenKV opens the configured store backend. The closer is nil for backends without one.
func OpenKV(ctx context.Context, cfg *config.Config) (store.KV, io.Closer, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemoryKV(), nil, nil
	case config.StoreFile:
		kv, err := store.NewFileKV(cfg.StorePath)
		return kv, nil, err
	case config.StoreSQLite:
		kv, err := store.OpenSQLite(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv, nil
	case config.StorePostgres:
		kv, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv, nil
	case config.StoreS3:
		kv, err := store.NewS3KV(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region, cfg.S3Endpoint)
		return kv, nil, err
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store)
}

func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
