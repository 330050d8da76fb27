package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile string
		once    bool
	)

	root := &cobra.Command{
		Use:           "oracle",
		Short:         "Match confidential orders and settle them on chain",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), envFile, once)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default: .env in the working directory)")
	root.Flags().BoolVar(&once, "once", false, "run a single cycle and exit (overrides RUN_ONCE)")

	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Verify configuration, channel identity and oracle authorization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return check(cmd.Context(), envFile)
		},
	})
	return root
}
