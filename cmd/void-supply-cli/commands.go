package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/void-labs/void-supply/internal/bootstrap"
	"github.com/void-labs/void-supply/pkg/events"
	"github.com/void-labs/void-supply/pkg/supply"
	"github.com/void-labs/void-supply/pkg/types"
)

const maxHistory = 50

// withService builds the service for the duration of fn.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *bootstrap.Service) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	svc, err := bootstrap.Build(ctx, cfg, pol, nil)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, svc)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print circulating and burned supply",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *bootstrap.Service) error {
			snap, err := svc.Computer.ComputeStats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		})
	},
}

type historyOutput struct {
	Count int               `json:"count"`
	Burns []types.BurnEvent `json:"burns"`
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Reconcile and print the burn history, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit < 1 || limit > maxHistory {
			return fmt.Errorf("--limit must be between 1 and %d", maxHistory)
		}
		return withService(cmd, func(ctx context.Context, svc *bootstrap.Service) error {
			burns, err := svc.Reconciler.Reconcile(ctx, limit)
			if err != nil {
				return err
			}
			if burns == nil {
				burns = []types.BurnEvent{}
			}
			return printJSON(cmd.OutOrStdout(), historyOutput{Count: len(burns), Burns: burns})
		})
	},
}

type nextBurnOutput struct {
	NextBurnAt     time.Time       `json:"next_burn_at"`
	IntervalHours  int             `json:"interval_hours"`
	Basis          supply.Basis    `json:"basis"`
	Countdown      string          `json:"countdown"`
	BurnPercentage decimal.Decimal `json:"burn_percentage"`
}

func nextBurn(sched supply.Schedule, history []types.BurnEvent, pct decimal.Decimal, now time.Time) nextBurnOutput {
	est := sched.NextBurn(history, pct, now)
	return nextBurnOutput{
		NextBurnAt:     est.At.UTC(),
		IntervalHours:  int(est.Interval / time.Hour),
		Basis:          est.Basis,
		Countdown:      supply.Countdown(est.At, now),
		BurnPercentage: pct,
	}
}

var nextBurnCmd = &cobra.Command{
	Use:   "next-burn",
	Short: "Estimate the next scheduled burn",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *bootstrap.Service) error {
			snap, err := svc.Computer.ComputeStats(ctx)
			if err != nil {
				return err
			}
			history, err := svc.Reconciler.Reconcile(ctx, 1)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), nextBurn(svc.Schedule, history, snap.BurnPercentage, time.Now()))
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream burn and reconciliation events from NATS",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.NATSURL == "" {
			return errors.New("watch needs VOID_NATS_URL")
		}
		topic, _ := cmd.Flags().GetString("topic")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		sub, err := events.NewNATSSubscriber(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer sub.Close()

		ch, cancel, err := sub.Subscribe(topic)
		if err != nil {
			return err
		}
		defer cancel()
		fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s on %s (Ctrl+C to stop)\n", topic, cfg.NATSURL)
		return watch(ctx, ch, cmd.OutOrStdout())
	},
}

type watchLine struct {
	Topic string          `json:"topic"`
	Event json.RawMessage `json:"event"`
}

// watch prints one JSON line per message until ctx is done or ch closes.
func watch(ctx context.Context, ch <-chan events.Message, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if !json.Valid(msg.Data) {
				continue
			}
			if err := writeJSON(w, watchLine{Topic: msg.Topic, Event: msg.Data}, false); err != nil {
				return err
			}
		}
	}
}

func init() {
	historyCmd.Flags().Int("limit", 10, "number of burns to print (max 50)")
	watchCmd.Flags().String("topic", events.TopicAll, "NATS subject to follow")
}
