package redeemer

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-rav-redeemer/internal/chain"
	"github.com/0gfoundation/0g-rav-redeemer/internal/escrow"
	"github.com/0gfoundation/0g-rav-redeemer/internal/metrics"
	"github.com/0gfoundation/0g-rav-redeemer/internal/store"
	"github.com/0gfoundation/0g-rav-redeemer/internal/subgraph"
	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

// VoucherStore is the RAV table of one variant.
type VoucherStore interface {
	Pending(ctx context.Context, limit int) ([]voucher.RAV, error)
	Unredeemed(ctx context.Context, keys []voucher.Key) ([]voucher.RAV, error)
	MarkRedeemed(ctx context.Context, marks []store.RedeemMark) (int64, error)
	RevertRedeemed(ctx context.Context, keys []voucher.Key, before time.Time) (int64, error)
	MarkFinal(ctx context.Context, keys []voucher.Key, before time.Time) (int64, error)
	SetRedeemed(ctx context.Context, key voucher.Key, at time.Time) error
}

// SummaryStore persists per-allocation withdrawn fees.
type SummaryStore interface {
	AddWithdrawnFees(ctx context.Context, deltas map[common.Address]*big.Int) error
}

// RedeemTxSource lists redemptions the subgraph has indexed.
type RedeemTxSource interface {
	RedeemTransactions(ctx context.Context, payers []common.Address, keys []voucher.CollectionID) ([]subgraph.RedeemTransaction, subgraph.BlockMeta, error)
}

// AllocationSource resolves allocation records.
type AllocationSource interface {
	Allocations(ctx context.Context, ids []common.Address) ([]subgraph.Allocation, error)
}

// Executor submits a call on chain.
type Executor interface {
	Execute(ctx context.Context, call chain.Call) (*chain.Result, error)
}

// Deps are the collaborators of a pipeline.
type Deps struct {
	Protocol    Protocol
	Store       VoucherStore
	Summaries   SummaryStore
	RedeemTxs   RedeemTxSource
	Allocations AllocationSource
	Escrow      escrow.Source
	Executor    Executor
	DeadLetters DeadLetters
	Metrics     *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Pipeline runs redemption cycles for one variant.
type Pipeline struct {
	s    Settings
	d    Deps
	now  func() time.Time
	name string
	log  *zap.Logger
}

func NewPipeline(s Settings, d Deps, log *zap.Logger) *Pipeline {
	if s.BatchSize <= 0 {
		s.BatchSize = DefaultBatchSize
	}
	if s.Threshold == nil {
		s.Threshold = new(big.Int)
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		s:    s,
		d:    d,
		now:  now,
		name: string(s.Variant),
		log:  log.Named(string(s.Variant)),
	}
}

func (p *Pipeline) Settings() Settings { return p.s }

// CycleReport summarizes one cycle.
type CycleReport struct {
	ID         string          `json:"id"`
	Variant    voucher.Variant `json:"variant"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Pending    int             `json:"pending"`
	Resolved   int             `json:"resolved"`
	Below      int             `json:"below_threshold"`
	Eligible   int             `json:"eligible"`
	Redeemed   int             `json:"redeemed"`
	Skipped    int             `json:"skipped"`
	Invalid    int             `json:"invalid"`
	Failed     int             `json:"failed"`
	Error      string          `json:"error,omitempty"`
}

// RunCycle runs scan, reconcile, threshold filtering and submission once.
func (p *Pipeline) RunCycle(ctx context.Context) (report CycleReport, err error) {
	report = CycleReport{ID: uuid.NewString(), Variant: p.s.Variant, StartedAt: p.now()}
	log := p.log.With(zap.String("cycle", report.ID))
	defer func() {
		report.FinishedAt = p.now()
		if err != nil {
			report.Error = err.Error()
			if p.d.Metrics != nil {
				p.d.Metrics.CycleError(p.name)
			}
		}
	}()

	pending, err := p.scan(ctx, &report, log)
	if err != nil {
		return report, err
	}
	if len(pending) == 0 {
		log.Debug("no pending RAVs")
		return report, nil
	}

	ledger, err := escrow.Load(ctx, p.d.Escrow, p.s.Receiver, p.s.Collector, log)
	if err != nil {
		return report, err
	}

	part := partition(pending, ledger, p.d.Protocol, p.s.Threshold, log)
	report.Below, report.Eligible = len(part.Below), len(part.Eligible)
	if p.d.Metrics != nil {
		p.d.Metrics.SetBelowThreshold(p.name, len(part.Below))
	}
	if len(part.Eligible) == 0 {
		return report, nil
	}

	err = p.submit(ctx, part.Eligible, ledger, &report, log)
	if errors.Is(err, escrow.ErrNegativeBalance) {
		log.Error("escrow ledger invariant violated, cycle aborted", zap.Error(err))
	}
	return report, err
}
