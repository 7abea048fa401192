// Package escrow holds the per-cycle snapshot of payer escrow balances and
// tokens already collected per collection.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

var (
	// ErrUnknownPayer is returned when the snapshot has no escrow account for a payer.
	ErrUnknownPayer = errors.New("unknown payer")
	// ErrNegativeBalance is returned when a redemption would drive a balance below zero.
	ErrNegativeBalance = errors.New("negative escrow balance")
)

// Account is one escrow account funding the receiver.
type Account struct {
	Payer   common.Address
	Balance *big.Int
	Signers []common.Address
}

// Collected is the cumulative amount already collected for one collection.
type Collected struct {
	Payer      common.Address
	Collection voucher.CollectionID
	Tokens     *big.Int
}

// Source is the subgraph view the ledger is rebuilt from.
type Source interface {
	EscrowAccounts(ctx context.Context, receiver, collector common.Address) ([]Account, error)
	TokensCollected(ctx context.Context, receiver, collector common.Address) ([]Collected, error)
}

type collectedKey struct {
	payer      common.Address
	collection voucher.CollectionID
}

// Ledger is owned by a single redemption cycle and is not safe for concurrent use.
type Ledger struct {
	balances  map[common.Address]*big.Int
	collected map[collectedKey]*big.Int
	signers   map[common.Address]map[common.Address]struct{}
	log       *zap.Logger
}

func NewLedger(log *zap.Logger) *Ledger {
	return &Ledger{
		balances:  make(map[common.Address]*big.Int),
		collected: make(map[collectedKey]*big.Int),
		signers:   make(map[common.Address]map[common.Address]struct{}),
		log:       log,
	}
}

// Load queries escrow accounts and collection totals for the receiver and
// assembles a fresh ledger.
func Load(ctx context.Context, src Source, receiver, collector common.Address, log *zap.Logger) (*Ledger, error) {
	accounts, err := src.EscrowAccounts(ctx, receiver, collector)
	if err != nil {
		return nil, fmt.Errorf("escrow accounts: %w", err)
	}
	collections, err := src.TokensCollected(ctx, receiver, collector)
	if err != nil {
		return nil, fmt.Errorf("tokens collected: %w", err)
	}

	l := NewLedger(log)
	for _, a := range accounts {
		l.SetAccount(a)
	}
	for _, c := range collections {
		l.AddCollected(c.Payer, c.Collection, c.Tokens)
	}
	log.Debug("escrow ledger loaded",
		zap.Int("accounts", len(accounts)),
		zap.Int("collections", len(collections)),
	)
	return l, nil
}

// SetAccount replaces the balance and signer set of a payer.
func (l *Ledger) SetAccount(a Account) {
	bal := new(big.Int)
	if a.Balance != nil {
		bal.Set(a.Balance)
	}
	l.balances[a.Payer] = bal
	set := make(map[common.Address]struct{}, len(a.Signers))
	for _, s := range a.Signers {
		set[s] = struct{}{}
	}
	l.signers[a.Payer] = set
}

// AddCollected adds to the cumulative collected amount of a collection.
func (l *Ledger) AddCollected(payer common.Address, collection voucher.CollectionID, tokens *big.Int) {
	if tokens == nil {
		return
	}
	k := collectedKey{payer, collection}
	cur, ok := l.collected[k]
	if !ok {
		cur = new(big.Int)
		l.collected[k] = cur
	}
	cur.Add(cur, tokens)
}

// BalanceOf returns a copy of the payer's balance.
func (l *Ledger) BalanceOf(payer common.Address) (*big.Int, error) {
	bal, ok := l.balances[payer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPayer, payer.Hex())
	}
	return new(big.Int).Set(bal), nil
}

// CollectedFor returns the tokens already collected for a collection, zero if
// nothing was collected yet.
func (l *Ledger) CollectedFor(payer common.Address, collection voucher.CollectionID) *big.Int {
	cur, ok := l.collected[collectedKey{payer, collection}]
	if !ok {
		l.log.Debug("no prior collection",
			zap.String("payer", payer.Hex()),
			zap.String("collection", collection.Hex()),
		)
		return new(big.Int)
	}
	return new(big.Int).Set(cur)
}

// RecordRedemption moves amount from the payer's balance to the collection's
// collected total. The ledger is left untouched on error.
func (l *Ledger) RecordRedemption(payer common.Address, collection voucher.CollectionID, amount *big.Int) error {
	bal, ok := l.balances[payer]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPayer, payer.Hex())
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("record redemption: negative amount %s", amount)
	}
	if amount.Cmp(bal) > 0 {
		return fmt.Errorf("%w: payer %s balance %s, redeeming %s", ErrNegativeBalance, payer.Hex(), bal, amount)
	}
	bal.Sub(bal, amount)
	l.AddCollected(payer, collection, amount)
	return nil
}

// IsAuthorizedSigner reports whether signer may sign vouchers for payer.
func (l *Ledger) IsAuthorizedSigner(payer, signer common.Address) bool {
	if payer == signer {
		return true
	}
	_, ok := l.signers[payer][signer]
	return ok
}

// Payers returns the number of escrow accounts in the snapshot.
func (l *Ledger) Payers() int { return len(l.balances) }

// Snapshot returns a copy of all balances.
func (l *Ledger) Snapshot() map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(l.balances))
	for p, b := range l.balances {
		out[p] = new(big.Int).Set(b)
	}
	return out
}
