package redeemer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-rav-redeemer/internal/store"
	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

// reconcile aligns the redeemed/final state of batch with the redeem
// transactions the subgraph reports and returns the rows of batch that are
// still waiting for redemption.
func (p *Pipeline) reconcile(ctx context.Context, batch []voucher.RAV, log *zap.Logger) ([]voucher.RAV, error) {
	keys := make([]voucher.Key, 0, len(batch))
	inBatch := make(map[voucher.Key]struct{}, len(batch))
	payerSet := make(map[common.Address]struct{})
	collSet := make(map[voucher.CollectionID]struct{})
	var (
		payers      []common.Address
		collections []voucher.CollectionID
	)
	for i := range batch {
		k := batch[i].Key()
		keys = append(keys, k)
		inBatch[k] = struct{}{}
		if _, ok := payerSet[k.Payer]; !ok {
			payerSet[k.Payer] = struct{}{}
			payers = append(payers, k.Payer)
		}
		if _, ok := collSet[k.Collection]; !ok {
			collSet[k.Collection] = struct{}{}
			collections = append(collections, k.Collection)
		}
	}

	txs, meta, err := p.d.RedeemTxs.RedeemTransactions(ctx, payers, collections)
	if err != nil {
		return nil, fmt.Errorf("redeem transactions: %w", err)
	}
	redeemedAt := make(map[voucher.Key]time.Time, len(txs))
	for _, tx := range txs {
		k := voucher.Key{Payer: tx.Payer, Collection: tx.Collection}
		if _, ok := inBatch[k]; !ok {
			continue
		}
		if prev, ok := redeemedAt[k]; !ok || tx.Timestamp.After(prev) {
			redeemedAt[k] = tx.Timestamp
		}
	}

	var (
		marks   []store.RedeemMark
		missing []voucher.Key
	)
	for i := range batch {
		r := &batch[i]
		at, onChain := redeemedAt[r.Key()]
		// a collection can be collected repeatedly; only a transaction at or
		// after the RAV was signed can have used this RAV
		if onChain && at.Before(r.SignedAt().Truncate(time.Second)) {
			onChain = false
		}
		switch {
		case onChain && !r.Redeemed():
			marks = append(marks, store.RedeemMark{Key: r.Key(), At: at})
		case !onChain && r.Redeemed():
			missing = append(missing, r.Key())
		}
	}

	marked, err := p.d.Store.MarkRedeemed(ctx, marks)
	if err != nil {
		return nil, err
	}

	blockTime := meta.Time()
	reverted, err := p.d.Store.RevertRedeemed(ctx, missing, blockTime.Add(-p.s.RevertMargin))
	if err != nil {
		return nil, err
	}

	finalCutoff := blockTime.Add(-p.s.FinalityWindow - p.s.RevertMargin)
	finalized, err := p.d.Store.MarkFinal(ctx, keys, finalCutoff)
	if err != nil {
		return nil, err
	}

	if marked+reverted+finalized > 0 {
		log.Info("reconciled RAVs with subgraph",
			zap.Int64("marked_redeemed", marked),
			zap.Int64("reverted", reverted),
			zap.Int64("finalized", finalized),
			zap.Uint64("block", meta.Number),
			zap.String("block_hash", meta.Hash),
		)
	}

	return p.d.Store.Unredeemed(ctx, keys)
}
