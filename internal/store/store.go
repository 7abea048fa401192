// Package store persists RAVs and allocation summaries through gorm. All
// state transitions on RAV rows are conditional UPDATE statements so that
// concurrent writers never clobber each other.
package store

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

// PostgresConfig holds the connection settings of the voucher database.
type PostgresConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	DbName   string
}

func (c PostgresConfig) dsn() string {
	auth := ""
	if c.Username != "" {
		auth = fmt.Sprintf(" user=%s", c.Username)
	}
	if c.Password != "" {
		auth = fmt.Sprintf("%s password=%s", auth, c.Password)
	}
	return fmt.Sprintf("host=%s%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		c.Host, auth, c.DbName, c.Port)
}

// OpenPostgres connects to PostgreSQL.
func OpenPostgres(cfg PostgresConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.dsn()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the tables owned by this package.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Store is the entry point to the voucher database.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

// RAVs returns the RAV table of one protocol variant.
func (s *Store) RAVs(v voucher.Variant) *RAVStore {
	rs := &RAVStore{db: s.db, variant: v, log: s.log.With(zap.String("variant", string(v)))}
	switch v {
	case voucher.Legacy:
		rs.table, rs.payerCol, rs.keyCol = LegacyRAV{}.TableName(), "sender_address", "allocation_id"
	case voucher.Horizon:
		rs.table, rs.payerCol, rs.keyCol = HorizonRAV{}.TableName(), "payer", "collection_id"
	default:
		panic(fmt.Sprintf("store: unknown variant %q", v))
	}
	return rs
}

// ── allocation summaries ─────────────────────────────────────────────────────

// AddWithdrawnFees adds every delta to its allocation's withdrawn_fees in a
// single transaction, creating missing summary rows.
func (s *Store) AddWithdrawnFees(ctx context.Context, deltas map[common.Address]*big.Int) error {
	if len(deltas) == 0 {
		return nil
	}
	allocs := make([]string, 0, len(deltas))
	amounts := make(map[string]decimal.Decimal, len(deltas))
	for a, v := range deltas {
		if v == nil || v.Sign() == 0 {
			continue
		}
		id := addrKey(a)
		allocs = append(allocs, id)
		amounts[id] = decimal.NewFromBigInt(v, 0)
	}
	sort.Strings(allocs)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, id := range allocs {
			row := AllocationSummary{Allocation: id, WithdrawnFees: decimal.Zero, CreatedAt: now, UpdatedAt: now}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("ensure summary %s: %w", id, err)
			}
			res := tx.Model(&AllocationSummary{}).
				Where("allocation = ?", id).
				Updates(map[string]any{
					"withdrawn_fees": gorm.Expr("withdrawn_fees + ?", amounts[id]),
					"updated_at":     now,
				})
			if res.Error != nil {
				return fmt.Errorf("add withdrawn fees %s: %w", id, res.Error)
			}
		}
		return nil
	})
}

// WithdrawnFees returns the withdrawn fees of an allocation, zero when the
// allocation has no summary yet.
func (s *Store) WithdrawnFees(ctx context.Context, allocation common.Address) (*big.Int, error) {
	var rows []AllocationSummary
	err := s.db.WithContext(ctx).
		Where("allocation = ?", addrKey(allocation)).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	if len(rows) == 0 {
		return new(big.Int), nil
	}
	return rows[0].WithdrawnFees.BigInt(), nil
}

func addrKey(a common.Address) string { return strings.ToLower(a.Hex()) }
