package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/void-labs/void-supply/internal/bootstrap"
	"github.com/void-labs/void-supply/internal/config"
	"github.com/void-labs/void-supply/pkg/httpserver"
)

var (
	GitTag    = "dev"
	GitCommit = "unknown"
)

var (
	addr       string
	rpcURL     string
	policyPath string
	storeKind  string
	ratePerMin int
	burst      int
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "void-supply",
	Short:         "Serve VOID supply statistics and the reconciled burn history",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		applyFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		pol, err := bootstrap.LoadPolicy(cfg.PolicyPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := bootstrap.Build(ctx, cfg, pol, logger)
		if err != nil {
			return err
		}
		defer svc.Close()

		go svc.Cache.RunRefresher(ctx)

		srv := httpserver.New(httpserver.Config{
			Cache:      svc.Cache,
			Schedule:   svc.Schedule,
			RatePerMin: ratePerMin,
			Burst:      burst,
			Version:    GitTag,
			Logger:     logger.With("component", "http"),
		})
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.Mux(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr, "mint", pol.Mint, "tag", GitTag, "commit", GitCommit)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
		case err := <-errCh:
			return err
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	},
}

// applyFlags lets explicitly set flags override the environment.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("addr") {
		cfg.HTTPAddr = addr
	}
	if cmd.Flags().Changed("rpc") {
		cfg.RPCURL = rpcURL
	}
	if cmd.Flags().Changed("policy") {
		cfg.PolicyPath = policyPath
	}
	if cmd.Flags().Changed("store") {
		cfg.Store = storeKind
	}
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address (VOID_HTTP_ADDR)")
	rootCmd.Flags().StringVar(&rpcURL, "rpc", "", "Solana JSON-RPC URL (VOID_RPC_URL)")
	rootCmd.Flags().StringVar(&policyPath, "policy", "", "policy file, .toml/.yaml/.json (VOID_POLICY_PATH)")
	rootCmd.Flags().StringVar(&storeKind, "store", "", "history store: file, sqlite, postgres, s3, memory (VOID_STORE)")
	rootCmd.Flags().IntVar(&ratePerMin, "rate", 60, "requests per minute per client IP")
	rootCmd.Flags().IntVar(&burst, "burst", 120, "request burst per client IP")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("void-supply failed", "err", err)
		os.Exit(1)
	}
}
