package redeemer

import (
	"math/big"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-rav-redeemer/internal/escrow"
)

type partitioned struct {
	Eligible      []PendingRAV
	Below         []PendingRAV
	EligibleTotal *big.Int
	BelowTotal    *big.Int
}

// partition splits pending by outstanding value. A RAV whose outstanding
// value equals the threshold is eligible.
func partition(pending []PendingRAV, ledger *escrow.Ledger, proto Protocol, threshold *big.Int, log *zap.Logger) partitioned {
	out := partitioned{EligibleTotal: new(big.Int), BelowTotal: new(big.Int)}
	for _, p := range pending {
		v := proto.Outstanding(&p.RAV, ledger)
		if v.Cmp(threshold) < 0 {
			out.Below = append(out.Below, p)
			out.BelowTotal.Add(out.BelowTotal, v)
			continue
		}
		out.Eligible = append(out.Eligible, p)
		out.EligibleTotal.Add(out.EligibleTotal, v)
	}
	log.Info("RAV threshold filter",
		zap.Int("eligible", len(out.Eligible)),
		zap.String("eligible_value", out.EligibleTotal.String()),
		zap.Int("below_threshold", len(out.Below)),
		zap.String("below_threshold_value", out.BelowTotal.String()),
		zap.String("threshold", threshold.String()),
	)
	return out
}
