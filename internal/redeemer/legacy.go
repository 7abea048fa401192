package redeemer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-rav-redeemer/internal/chain"
	"github.com/0gfoundation/0g-rav-redeemer/internal/escrow"
	"github.com/0gfoundation/0g-rav-redeemer/internal/signer"
	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

// Legacy redeems per-allocation RAVs on the TAP escrow.
type Legacy struct {
	domain  voucher.Domain
	chainID *big.Int
	escrow  common.Address
	keys    *signer.Keyring
	log     *zap.Logger
}

func NewLegacy(chainID *big.Int, tapVerifier, escrowAddr common.Address, keys *signer.Keyring, log *zap.Logger) *Legacy {
	return &Legacy{
		domain:  voucher.LegacyDomain(chainID, tapVerifier),
		chainID: chainID,
		escrow:  escrowAddr,
		keys:    keys,
		log:     log,
	}
}

func (l *Legacy) Variant() voucher.Variant { return voucher.Legacy }

// Outstanding is the full value aggregate; the legacy escrow tracks no
// partial collections.
func (l *Legacy) Outstanding(r *voucher.RAV, _ *escrow.Ledger) *big.Int {
	return new(big.Int).Set(r.ValueAggregate)
}

func (l *Legacy) RecoverSigner(r *voucher.RAV) (common.Address, error) {
	return voucher.RecoverDigest(voucher.LegacyDigest(r, l.domain), r.Signature)
}

func (l *Legacy) BuildCall(_ context.Context, p *PendingRAV, _ *big.Int) (chain.Call, error) {
	alloc := p.Allocation
	key, err := l.keys.AllocationSigner(alloc.ID, alloc.SubgraphDeployment, alloc.CreatedAtEpoch)
	if err != nil {
		return chain.Call{}, err
	}
	proof, err := signer.AllocationProof(key, l.chainID, p.RAV.Payer, alloc.ID, l.escrow)
	if err != nil {
		return chain.Call{}, err
	}
	data, err := chain.PackLegacyRedeem(&p.RAV, proof)
	if err != nil {
		return chain.Call{}, err
	}
	return chain.Call{To: l.escrow, Data: data}, nil
}

// Collected reads Redeem.actualAmount, falling back to the requested amount
// when the escrow emitted no event for the allocation.
func (l *Legacy) Collected(receipt *types.Receipt, p *PendingRAV, requested *big.Int) (*big.Int, error) {
	amount, err := chain.RedeemedAmount(receipt, l.escrow, p.Allocation.ID)
	if errors.Is(err, chain.ErrEventNotFound) {
		l.log.Warn("no Redeem event in receipt, assuming requested amount",
			zap.String("allocation", p.Allocation.ID.Hex()),
			zap.String("tx", receipt.TxHash.Hex()),
			zap.String("requested", requested.String()),
		)
		return new(big.Int).Set(requested), nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode redeem receipt: %w", err)
	}
	return amount, nil
}
