package redeemer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0gfoundation/0g-rav-redeemer/internal/chain"
	"github.com/0gfoundation/0g-rav-redeemer/internal/escrow"
	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

// Horizon collects per-collection RAVs through the SubgraphService.
type Horizon struct {
	domain          voucher.Domain
	subgraphService common.Address
	collector       common.Address
	indexer         common.Address
}

func NewHorizon(chainID *big.Int, collector, subgraphService, indexer common.Address) *Horizon {
	return &Horizon{
		domain:          voucher.HorizonDomain(chainID, collector),
		subgraphService: subgraphService,
		collector:       collector,
		indexer:         indexer,
	}
}

func (h *Horizon) Variant() voucher.Variant { return voucher.Horizon }

// Outstanding is the value aggregate minus what was already collected for
// the collection, floored at zero.
func (h *Horizon) Outstanding(r *voucher.RAV, l *escrow.Ledger) *big.Int {
	out := new(big.Int).Sub(r.ValueAggregate, l.CollectedFor(r.Payer, r.Collection))
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return out
}

func (h *Horizon) RecoverSigner(r *voucher.RAV) (common.Address, error) {
	return voucher.RecoverDigest(voucher.HorizonDigest(r, h.domain), r.Signature)
}

func (h *Horizon) BuildCall(_ context.Context, p *PendingRAV, outstanding *big.Int) (chain.Call, error) {
	data, err := chain.PackHorizonCollect(h.indexer, &p.RAV, outstanding)
	if err != nil {
		return chain.Call{}, err
	}
	return chain.Call{To: h.subgraphService, Data: data}, nil
}

func (h *Horizon) Collected(receipt *types.Receipt, p *PendingRAV, _ *big.Int) (*big.Int, error) {
	tokens, err := chain.CollectedTokens(receipt, h.collector, p.RAV.Collection)
	if err != nil {
		return nil, fmt.Errorf("decode collect receipt %s: %w", receipt.TxHash.Hex(), err)
	}
	return tokens, nil
}
