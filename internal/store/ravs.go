package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

// RedeemMark sets the redemption time of one RAV key.
type RedeemMark struct {
	Key voucher.Key
	At  time.Time
}

// RAVStore operates on the RAV table of a single variant.
type RAVStore struct {
	db       *gorm.DB
	variant  voucher.Variant
	table    string
	payerCol string
	keyCol   string
	log      *zap.Logger
}

func (s *RAVStore) Variant() voucher.Variant { return s.variant }

func (s *RAVStore) keyValue(c voucher.CollectionID) string {
	if s.variant == voucher.Legacy {
		return addrKey(c.Allocation())
	}
	return c.Hex()
}

// keyTuples renders keys for a `(payer, key) IN ?` clause.
func (s *RAVStore) keyTuples(keys []voucher.Key) [][]any {
	out := make([][]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, []any{addrKey(k.Payer), s.keyValue(k.Collection)})
	}
	return out
}

func (s *RAVStore) inKeys() string {
	return fmt.Sprintf("(%s, %s) IN ?", s.payerCol, s.keyCol)
}

// Pending returns up to limit RAVs with last = true and final = false.
// Unredeemed rows come first so rows only waiting for finality cannot crowd
// them out of the batch; within each group the oldest rows come first.
func (s *RAVStore) Pending(ctx context.Context, limit int) ([]voucher.RAV, error) {
	return s.find(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where("last = ? AND final = ?", true, false).
			Order("redeemed_at IS NOT NULL, id").
			Limit(limit)
	})
}

// Unredeemed returns the latest RAVs among keys that are neither redeemed
// nor final.
func (s *RAVStore) Unredeemed(ctx context.Context, keys []voucher.Key) ([]voucher.RAV, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return s.find(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where(s.inKeys(), s.keyTuples(keys)).
			Where("last = ? AND final = ? AND redeemed_at IS NULL", true, false).
			Order("id")
	})
}

// MarkRedeemed sets redeemed_at on rows that are not yet redeemed nor final.
// Marks sharing a timestamp are applied in one statement, all statements in
// one transaction. It returns the number of rows updated.
func (s *RAVStore) MarkRedeemed(ctx context.Context, marks []RedeemMark) (int64, error) {
	if len(marks) == 0 {
		return 0, nil
	}
	byTime := make(map[int64][]voucher.Key)
	for _, m := range marks {
		ts := m.At.UTC().UnixNano()
		byTime[ts] = append(byTime[ts], m.Key)
	}
	stamps := make([]int64, 0, len(byTime))
	for ts := range byTime {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	var total int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, ts := range stamps {
			res := tx.Table(s.table).
				Where(s.inKeys(), s.keyTuples(byTime[ts])).
				Where("redeemed_at IS NULL AND final = ?", false).
				Updates(map[string]any{"redeemed_at": time.Unix(0, ts).UTC(), "updated_at": now})
			if res.Error != nil {
				return fmt.Errorf("mark redeemed: %w", res.Error)
			}
			total += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// RevertRedeemed clears redeemed_at on non-final rows among keys whose
// redemption is older than before.
func (s *RAVStore) RevertRedeemed(ctx context.Context, keys []voucher.Key, before time.Time) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Table(s.table).
		Where(s.inKeys(), s.keyTuples(keys)).
		Where("final = ? AND redeemed_at IS NOT NULL AND redeemed_at < ?", false, before.UTC()).
		Updates(map[string]any{"redeemed_at": nil, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return 0, fmt.Errorf("revert redeemed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// MarkFinal sets final on rows among keys redeemed before the cutoff.
func (s *RAVStore) MarkFinal(ctx context.Context, keys []voucher.Key, before time.Time) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Table(s.table).
		Where(s.inKeys(), s.keyTuples(keys)).
		Where("final = ? AND redeemed_at IS NOT NULL AND redeemed_at < ?", false, before.UTC()).
		Updates(map[string]any{"final": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return 0, fmt.Errorf("mark final: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SetRedeemed records a redemption this process just submitted.
func (s *RAVStore) SetRedeemed(ctx context.Context, key voucher.Key, at time.Time) error {
	res := s.db.WithContext(ctx).Table(s.table).
		Where(fmt.Sprintf("%s = ? AND %s = ?", s.payerCol, s.keyCol), addrKey(key.Payer), s.keyValue(key.Collection)).
		Where("last = ? AND final = ?", true, false).
		Updates(map[string]any{"redeemed_at": at.UTC(), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("set redeemed %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		s.log.Warn("no pending row to mark redeemed", zap.Stringer("key", key))
	}
	return nil
}

// Save stores r as the latest RAV of its key, demoting the previous one.
func (s *RAVStore) Save(ctx context.Context, r voucher.RAV) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Table(s.table).
			Where(fmt.Sprintf("%s = ? AND %s = ? AND last = ?", s.payerCol, s.keyCol),
				addrKey(r.Payer), s.keyValue(r.Collection), true).
			Update("last", false).Error
		if err != nil {
			return fmt.Errorf("demote previous rav: %w", err)
		}
		r.Last = true
		return tx.Create(s.toRow(r)).Error
	})
}

// ── row mapping ──────────────────────────────────────────────────────────────

func (s *RAVStore) find(ctx context.Context, scope func(*gorm.DB) *gorm.DB) ([]voucher.RAV, error) {
	q := scope(s.db.WithContext(ctx))
	switch s.variant {
	case voucher.Legacy:
		var rows []LegacyRAV
		if err := q.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("query %s: %w", s.table, err)
		}
		out := make([]voucher.RAV, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.toRAV())
		}
		return out, nil
	default:
		var rows []HorizonRAV
		if err := q.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("query %s: %w", s.table, err)
		}
		out := make([]voucher.RAV, 0, len(rows))
		for _, r := range rows {
			rav, err := r.toRAV()
			if err != nil {
				return nil, err
			}
			out = append(out, rav)
		}
		return out, nil
	}
}

func (s *RAVStore) toRow(r voucher.RAV) any {
	value := decimal.Zero
	if r.ValueAggregate != nil {
		value = decimal.NewFromBigInt(r.ValueAggregate, 0)
	}
	if s.variant == voucher.Legacy {
		return &LegacyRAV{
			SenderAddress:  addrKey(r.Payer),
			AllocationID:   addrKey(r.Allocation()),
			TimestampNs:    r.TimestampNs,
			ValueAggregate: value,
			Signature:      r.Signature,
			Last:           r.Last,
			Final:          r.Final,
			RedeemedAt:     utcPtr(r.RedeemedAt),
		}
	}
	return &HorizonRAV{
		Payer:           addrKey(r.Payer),
		CollectionID:    r.Collection.Hex(),
		DataService:     addrKey(r.DataService),
		ServiceProvider: addrKey(r.ServiceProvider),
		TimestampNs:     r.TimestampNs,
		ValueAggregate:  value,
		Metadata:        r.Metadata,
		Signature:       r.Signature,
		Last:            r.Last,
		Final:           r.Final,
		RedeemedAt:      utcPtr(r.RedeemedAt),
	}
}

func (r LegacyRAV) toRAV() voucher.RAV {
	return voucher.RAV{
		Payer:          common.HexToAddress(r.SenderAddress),
		Collection:     voucher.CollectionFromAllocation(common.HexToAddress(r.AllocationID)),
		TimestampNs:    r.TimestampNs,
		ValueAggregate: r.ValueAggregate.BigInt(),
		Signature:      r.Signature,
		Last:           r.Last,
		Final:          r.Final,
		RedeemedAt:     utcPtr(r.RedeemedAt),
	}
}

func (r HorizonRAV) toRAV() (voucher.RAV, error) {
	collection, err := voucher.HexToCollectionID(strings.TrimSpace(r.CollectionID))
	if err != nil {
		return voucher.RAV{}, fmt.Errorf("row %d: %w", r.ID, err)
	}
	return voucher.RAV{
		Payer:           common.HexToAddress(r.Payer),
		Collection:      collection,
		DataService:     common.HexToAddress(r.DataService),
		ServiceProvider: common.HexToAddress(r.ServiceProvider),
		TimestampNs:     r.TimestampNs,
		ValueAggregate:  r.ValueAggregate.BigInt(),
		Metadata:        r.Metadata,
		Signature:       r.Signature,
		Last:            r.Last,
		Final:           r.Final,
		RedeemedAt:      utcPtr(r.RedeemedAt),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
