package redeemer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-rav-redeemer/internal/chain"
	"github.com/0gfoundation/0g-rav-redeemer/internal/escrow"
	"github.com/0gfoundation/0g-rav-redeemer/internal/signer"
)

// submit redeems eligible RAVs one by one against the live ledger. Withdrawn
// fees accumulated so far are persisted even when the loop aborts.
func (p *Pipeline) submit(ctx context.Context, eligible []PendingRAV, ledger *escrow.Ledger, report *CycleReport, log *zap.Logger) error {
	deltas := make(map[common.Address]*big.Int)
	defer func() {
		if len(deltas) == 0 {
			return
		}
		if ferr := p.d.Summaries.AddWithdrawnFees(context.WithoutCancel(ctx), deltas); ferr != nil {
			log.Error("persist withdrawn fees", zap.Error(ferr), zap.Int("allocations", len(deltas)))
		}
	}()

	for i := range eligible {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pr := &eligible[i]
		collected, ok := p.redeemOne(ctx, pr, ledger, report, log)
		if !ok {
			continue
		}
		// the tokens moved on chain, so they count as withdrawn even when
		// the ledger rejects them below
		alloc := pr.RAV.Allocation()
		if d, ok := deltas[alloc]; ok {
			d.Add(d, collected)
		} else {
			deltas[alloc] = new(big.Int).Set(collected)
		}
		if err := ledger.RecordRedemption(pr.RAV.Payer, pr.RAV.Collection, collected); err != nil {
			return fmt.Errorf("record redemption %s: %w", pr.RAV.Key(), err)
		}
	}
	return nil
}

// redeemOne returns the collected amount and true when pr was redeemed.
func (p *Pipeline) redeemOne(ctx context.Context, pr *PendingRAV, ledger *escrow.Ledger, report *CycleReport, log *zap.Logger) (*big.Int, bool) {
	r := &pr.RAV
	alloc := strings.ToLower(r.Allocation().Hex())
	ilog := log.With(zap.String("payer", r.Payer.Hex()), zap.String("allocation", alloc))

	outstanding := p.d.Protocol.Outstanding(r, ledger)
	if outstanding.Sign() <= 0 {
		ilog.Debug("nothing left to collect")
		report.Skipped++
		return nil, false
	}
	balance, err := ledger.BalanceOf(r.Payer)
	if err != nil {
		ilog.Warn("payer has no escrow account, skipping", zap.Error(err))
		report.Skipped++
		return nil, false
	}
	if balance.Cmp(outstanding) < 0 {
		ilog.Warn("insufficient escrow balance, skipping",
			zap.String("balance", balance.String()),
			zap.String("outstanding", outstanding.String()),
		)
		report.Skipped++
		return nil, false
	}
	rsigner, err := p.d.Protocol.RecoverSigner(r)
	if err != nil || !ledger.IsAuthorizedSigner(r.Payer, rsigner) {
		ilog.Warn("RAV signature not from payer or an authorized signer, skipping",
			zap.String("signer", rsigner.Hex()), zap.Error(err))
		report.Skipped++
		return nil, false
	}

	call, err := p.d.Protocol.BuildCall(ctx, pr, outstanding)
	if err != nil {
		if errors.Is(err, signer.ErrNoMatchingSigner) {
			ilog.Error("no identity derives allocation, cannot prove ownership", zap.Error(err))
		} else {
			ilog.Error("build redemption call", zap.Error(err))
		}
		p.failed(alloc, report)
		return nil, false
	}

	start := p.now()
	res, err := p.d.Executor.Execute(ctx, call)
	if err != nil {
		ilog.Error("redemption transaction failed", zap.Error(err))
		p.failed(alloc, report)
		return nil, false
	}
	if res.Outcome != chain.Mined {
		ilog.Warn("redemption rejected", zap.Stringer("outcome", res.Outcome))
		report.Invalid++
		if p.d.Metrics != nil {
			p.d.Metrics.RedeemInvalid(p.name, alloc)
		}
		if p.d.DeadLetters != nil {
			dl := DeadLetter{
				Variant:    p.s.Variant,
				Payer:      strings.ToLower(r.Payer.Hex()),
				Collection: r.Collection.Hex(),
				Allocation: alloc,
				Value:      r.ValueAggregate.String(),
				Reason:     res.Outcome.String(),
				At:         p.now().UTC(),
			}
			if err := p.d.DeadLetters.Push(ctx, dl); err != nil {
				ilog.Error("push dead letter", zap.Error(err))
			}
		}
		return nil, false
	}

	collected, err := p.d.Protocol.Collected(res.Receipt, pr, outstanding)
	if err != nil {
		ilog.Error("redemption mined but collected amount unknown", zap.Error(err))
		p.failed(alloc, report)
		return nil, false
	}
	elapsed := p.now().Sub(start)

	if err := p.d.Store.SetRedeemed(ctx, r.Key(), p.now()); err != nil {
		ilog.Error("persist redeemed_at, reconciliation will catch up", zap.Error(err))
	}

	report.Redeemed++
	if p.d.Metrics != nil {
		p.d.Metrics.RedeemSuccess(p.name, alloc)
		p.d.Metrics.SetTokensCollected(p.name, alloc, collected)
		p.d.Metrics.ObserveRedeemDuration(p.name, alloc, elapsed)
	}
	ilog.Info("RAV redeemed",
		zap.String("collected", collected.String()),
		zap.String("tx", res.Receipt.TxHash.Hex()),
		zap.Duration("took", elapsed),
	)
	return collected, true
}

func (p *Pipeline) failed(alloc string, report *CycleReport) {
	report.Failed++
	if p.d.Metrics != nil {
		p.d.Metrics.RedeemFailed(p.name, alloc)
	}
}
