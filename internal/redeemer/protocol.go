// Package redeemer runs the redemption cycle for one protocol variant:
// scan pending RAVs, reconcile them against the subgraph, filter by
// threshold and submit the rest on chain.
package redeemer

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0gfoundation/0g-rav-redeemer/internal/chain"
	"github.com/0gfoundation/0g-rav-redeemer/internal/escrow"
	"github.com/0gfoundation/0g-rav-redeemer/internal/subgraph"
	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

// Settings is fixed for the lifetime of a pipeline.
type Settings struct {
	Variant voucher.Variant
	Network string
	// Receiver is the indexer address RAVs are paid to.
	Receiver common.Address
	// Collector is the GraphTallyCollector for horizon. Zero for legacy.
	Collector      common.Address
	Threshold      *big.Int
	FinalityWindow time.Duration
	RevertMargin   time.Duration
	BatchSize      int
	Interval       time.Duration
}

const DefaultBatchSize = 100

// PendingRAV is a RAV joined with the allocation it is collected against.
type PendingRAV struct {
	RAV        voucher.RAV
	Allocation subgraph.Allocation
}

// Protocol captures what differs between the legacy and horizon variants.
type Protocol interface {
	Variant() voucher.Variant
	// Outstanding is the amount a redemption of r would collect now.
	Outstanding(r *voucher.RAV, l *escrow.Ledger) *big.Int
	// RecoverSigner returns the address that signed r.
	RecoverSigner(r *voucher.RAV) (common.Address, error)
	// BuildCall encodes the redemption transaction for p.
	BuildCall(ctx context.Context, p *PendingRAV, outstanding *big.Int) (chain.Call, error)
	// Collected returns the tokens the mined receipt moved for p.
	Collected(receipt *types.Receipt, p *PendingRAV, requested *big.Int) (*big.Int, error)
}
