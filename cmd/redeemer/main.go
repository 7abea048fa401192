package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "redeemer",
		Short:        "Redeem TAP receipt aggregate vouchers against the escrow",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML config file (default: ./config.yaml or /app/config.yaml)")
	root.AddCommand(newRunCmd(&cfgPath), newOnceCmd(&cfgPath))
	return root
}
