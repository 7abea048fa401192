package redeemer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-rav-redeemer/internal/subgraph"
)

// scan loads the pending batch, reconciles it and joins every surviving RAV
// with its allocation. RAVs whose allocation cannot be resolved are dropped
// for this cycle.
func (p *Pipeline) scan(ctx context.Context, report *CycleReport, log *zap.Logger) ([]PendingRAV, error) {
	batch, err := p.d.Store.Pending(ctx, p.s.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("load pending: %w", err)
	}
	report.Pending = len(batch)
	if len(batch) == 0 {
		return nil, nil
	}

	ravs, err := p.reconcile(ctx, batch, log)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	if len(ravs) == 0 {
		return nil, nil
	}

	seen := make(map[common.Address]struct{}, len(ravs))
	ids := make([]common.Address, 0, len(ravs))
	for i := range ravs {
		id := ravs[i].Allocation()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	allocs, err := p.d.Allocations.Allocations(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve allocations: %w", err)
	}
	// addresses are compared as bytes, so hex case never matters here
	byID := make(map[common.Address]subgraph.Allocation, len(allocs))
	for _, a := range allocs {
		byID[a.ID] = a
	}

	out := make([]PendingRAV, 0, len(ravs))
	for _, r := range ravs {
		a, ok := byID[r.Allocation()]
		if !ok {
			log.Warn("allocation not found, skipping RAV this cycle",
				zap.String("payer", r.Payer.Hex()),
				zap.String("allocation", r.Allocation().Hex()),
			)
			continue
		}
		out = append(out, PendingRAV{RAV: r, Allocation: a})
	}
	report.Resolved = len(out)
	return out, nil
}
