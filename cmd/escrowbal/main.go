// Command escrowbal prints the escrow balances the redeemer would work with
// for one variant.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-rav-redeemer/internal/config"
	"github.com/0gfoundation/0g-rav-redeemer/internal/escrow"
	"github.com/0gfoundation/0g-rav-redeemer/internal/subgraph"
	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath, variant string
	cmd := &cobra.Command{
		Use:          "escrowbal",
		Short:        "Print escrow balances funding the indexer",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			log := zap.NewNop()
			indexer := common.HexToAddress(cfg.Chain.IndexerAddress)
			collector := common.HexToAddress(cfg.Contracts.GraphTallyCollector)

			var src escrow.Source
			switch voucher.Variant(variant) {
			case voucher.Legacy:
				src = subgraph.NewLegacyEscrow(subgraph.NewClient(cfg.Subgraphs.LegacyEscrowURL, cfg.Subgraphs.PageSize, log))
			case voucher.Horizon:
				src = subgraph.NewHorizonEscrow(subgraph.NewClient(cfg.Subgraphs.NetworkURL, cfg.Subgraphs.PageSize, log), indexer, collector)
			default:
				return fmt.Errorf("unknown variant %q", variant)
			}

			l, err := escrow.Load(cmd.Context(), src, indexer, collector, log)
			if err != nil {
				return err
			}
			return printLedger(cmd.OutOrStdout(), l)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&variant, "variant", string(voucher.Horizon), "legacy or horizon")
	return cmd
}

// printLedger writes one line per payer, largest balance first.
func printLedger(w io.Writer, l *escrow.Ledger) error {
	snap := l.Snapshot()
	payers := make([]common.Address, 0, len(snap))
	for p := range snap {
		payers = append(payers, p)
	}
	sort.Slice(payers, func(i, j int) bool {
		if c := snap[payers[i]].Cmp(snap[payers[j]]); c != 0 {
			return c > 0
		}
		return bytes.Compare(payers[i][:], payers[j][:]) < 0
	})

	total := decimal.Zero
	for _, p := range payers {
		grt := decimal.NewFromBigInt(snap[p], -18)
		total = total.Add(grt)
		if _, err := fmt.Fprintf(w, "%s  %s GRT\n", p.Hex(), grt.String()); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "payers:  %d\ntotal:   %s GRT\n", len(payers), total.String())
	return err
}
