package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/void-labs/void-supply/internal/bootstrap"
	"github.com/void-labs/void-supply/internal/config"
	"github.com/void-labs/void-supply/pkg/policy"
)

var (
	rpcURL     string
	policyPath string
	storeKind  string
	pretty     bool
	verbose    bool

	cfg *config.Config
	pol *policy.Policy
)

var rootCmd = &cobra.Command{
	Use:           "void-supply-cli",
	Short:         "Query VOID supply statistics and burn history directly from the ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var out io.Writer = io.Discard
		if verbose {
			out = os.Stderr
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(out, nil)))

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
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
		if err := cfg.Validate(); err != nil {
			return err
		}
		pol, err = bootstrap.LoadPolicy(cfg.PolicyPath)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rpcURL, "rpc", "", "Solana JSON-RPC URL (VOID_RPC_URL)")
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "policy file (VOID_POLICY_PATH)")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", "history store backend (VOID_STORE)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "indent JSON output even when not writing to a terminal")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(nextBurnCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
