package redeemer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/0gfoundation/0g-rav-redeemer/internal/chain"
	"github.com/0gfoundation/0g-rav-redeemer/internal/escrow"
	"github.com/0gfoundation/0g-rav-redeemer/internal/metrics"
	"github.com/0gfoundation/0g-rav-redeemer/internal/signer"
	"github.com/0gfoundation/0g-rav-redeemer/internal/store"
	"github.com/0gfoundation/0g-rav-redeemer/internal/subgraph"
	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

// ── fixtures ─────────────────────────────────────────────────────────────────

var (
	testChainID     = big.NewInt(1337)
	tapVerifier     = common.HexToAddress("0x000000000000000000000000000000000000007a")
	escrowAddr      = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	collectorAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	subgraphService = common.HexToAddress("0x0000000000000000000000000000000000000055")
	indexerAddr     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testDeployment  = common.HexToHash("0xd01")
	baseTime        = time.Unix(1_700_000_000, 0).UTC()
)

const testEpoch = 42

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(db, zap.NewNop())
}

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeTxSource struct {
	txs   []subgraph.RedeemTransaction
	meta  subgraph.BlockMeta
	err   error
	calls int
}

func (f *fakeTxSource) RedeemTransactions(context.Context, []common.Address, []voucher.CollectionID) ([]subgraph.RedeemTransaction, subgraph.BlockMeta, error) {
	f.calls++
	return f.txs, f.meta, f.err
}

type fakeAllocations struct {
	byID map[common.Address]subgraph.Allocation
}

func (f *fakeAllocations) Allocations(_ context.Context, ids []common.Address) ([]subgraph.Allocation, error) {
	var out []subgraph.Allocation
	for _, id := range ids {
		if a, ok := f.byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeEscrow struct {
	accounts  []escrow.Account
	collected []escrow.Collected
	calls     int
}

func (f *fakeEscrow) EscrowAccounts(context.Context, common.Address, common.Address) ([]escrow.Account, error) {
	f.calls++
	return f.accounts, nil
}

func (f *fakeEscrow) TokensCollected(context.Context, common.Address, common.Address) ([]escrow.Collected, error) {
	return f.collected, nil
}

// fakeExecutor answers calls in order with the queued logs.
type fakeExecutor struct {
	outcome chain.Outcome
	err     error
	logs    [][]*types.Log
	calls   []chain.Call
}

func (f *fakeExecutor) Execute(_ context.Context, call chain.Call) (*chain.Result, error) {
	n := len(f.calls)
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	if f.outcome != chain.Mined {
		return &chain.Result{Outcome: f.outcome}, nil
	}
	var logs []*types.Log
	if n < len(f.logs) {
		logs = f.logs[n]
	}
	return &chain.Result{Outcome: chain.Mined, Receipt: &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		TxHash: common.BigToHash(big.NewInt(int64(n + 1))),
		Logs:   logs,
	}}, nil
}

func redeemEventLog(t *testing.T, payer, alloc common.Address, amount int64) *types.Log {
	t.Helper()
	ev := chain.LegacyEscrowABI.Events["Redeem"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(amount), big.NewInt(amount))
	if err != nil {
		t.Fatal(err)
	}
	return &types.Log{
		Address: escrowAddr,
		Topics: []common.Hash{ev.ID,
			common.BytesToHash(payer.Bytes()),
			common.BytesToHash(indexerAddr.Bytes()),
			common.BytesToHash(alloc.Bytes())},
		Data: data,
	}
}

func paymentCollectedLog(t *testing.T, payer common.Address, collection voucher.CollectionID, tokens int64) *types.Log {
	t.Helper()
	ev := chain.GraphTallyCollectorABI.Events["PaymentCollected"]
	data, err := ev.Inputs.NonIndexed().Pack(indexerAddr, subgraphService, big.NewInt(tokens))
	if err != nil {
		t.Fatal(err)
	}
	return &types.Log{
		Address: collectorAddr,
		Topics:  []common.Hash{ev.ID, {}, common.Hash(collection), common.BytesToHash(payer.Bytes())},
		Data:    data,
	}
}

// ── environment ──────────────────────────────────────────────────────────────

type env struct {
	t        *testing.T
	variant  voucher.Variant
	operator *ecdsa.PrivateKey
	payerKey *ecdsa.PrivateKey
	payer    common.Address
	proto    Protocol

	st     *store.Store
	ravs   *store.RAVStore
	txs    *fakeTxSource
	allocs *fakeAllocations
	escrow *fakeEscrow
	exec   *fakeExecutor
	rdb    *redis.Client
	mr     *miniredis.Miniredis
	dlq    *RedisDeadLetters
	reg    *prometheus.Registry

	settings Settings
	now      time.Time
	p        *Pipeline
}

func newEnv(t *testing.T, v voucher.Variant, legacyIdentities ...*ecdsa.PrivateKey) *env {
	t.Helper()
	e := &env{
		t:        t,
		variant:  v,
		operator: mustKey(t),
		payerKey: mustKey(t),
		txs:      &fakeTxSource{meta: subgraph.BlockMeta{Hash: "0xb", Number: 1, Timestamp: baseTime.Unix()}},
		allocs:   &fakeAllocations{byID: make(map[common.Address]subgraph.Allocation)},
		escrow:   &fakeEscrow{},
		exec:     &fakeExecutor{},
		now:      baseTime,
	}
	e.payer = crypto.PubkeyToAddress(e.payerKey.PublicKey)

	keys := signer.NewKeyring(e.operator, legacyIdentities, zap.NewNop())
	if v == voucher.Legacy {
		e.proto = NewLegacy(testChainID, tapVerifier, escrowAddr, keys, zap.NewNop())
	} else {
		e.proto = NewHorizon(testChainID, collectorAddr, subgraphService, indexerAddr)
	}

	e.st = newTestStore(t)
	e.ravs = e.st.RAVs(v)
	e.mr = miniredis.RunT(t)
	e.rdb = redis.NewClient(&redis.Options{Addr: e.mr.Addr()})
	e.dlq = NewRedisDeadLetters(e.rdb, "testnet", v)
	e.reg = prometheus.NewRegistry()
	m, err := metrics.New(e.reg, "testnet")
	if err != nil {
		t.Fatal(err)
	}

	e.settings = Settings{
		Variant:        v,
		Network:        "testnet",
		Receiver:       indexerAddr,
		Threshold:      big.NewInt(100),
		FinalityWindow: time.Hour,
		RevertMargin:   time.Minute,
		BatchSize:      100,
		Interval:       10 * time.Millisecond,
	}
	if v == voucher.Horizon {
		e.settings.Collector = collectorAddr
	}
	e.p = NewPipeline(e.settings, Deps{
		Protocol:    e.proto,
		Store:       e.ravs,
		Summaries:   e.st,
		RedeemTxs:   e.txs,
		Allocations: e.allocs,
		Escrow:      e.escrow,
		Executor:    e.exec,
		DeadLetters: e.dlq,
		Metrics:     m,
		Now:         func() time.Time { return e.now },
	}, zap.NewNop())
	return e
}

// allocation registers an allocation whose id is derived from identity.
func (e *env) allocation(identity *ecdsa.PrivateKey, index uint64) subgraph.Allocation {
	e.t.Helper()
	k, err := signer.DeriveAllocationKey(identity, testDeployment, testEpoch, index)
	if err != nil {
		e.t.Fatal(err)
	}
	a := subgraph.Allocation{
		ID:                 crypto.PubkeyToAddress(k.PublicKey),
		Indexer:            indexerAddr,
		SubgraphDeployment: testDeployment,
		CreatedAtEpoch:     testEpoch,
		Status:             "Active",
	}
	e.allocs.byID[a.ID] = a
	return a
}

func (e *env) rav(alloc common.Address, value int64, signedBy *ecdsa.PrivateKey) voucher.RAV {
	e.t.Helper()
	r := voucher.RAV{
		Payer:           e.payer,
		Collection:      voucher.CollectionFromAllocation(alloc),
		DataService:     subgraphService,
		ServiceProvider: indexerAddr,
		TimestampNs:     uint64(baseTime.UnixNano()),
		ValueAggregate:  big.NewInt(value),
		Metadata:        []byte{},
	}
	var digest [32]byte
	if e.variant == voucher.Legacy {
		digest = voucher.LegacyDigest(&r, voucher.LegacyDomain(testChainID, tapVerifier))
	} else {
		digest = voucher.HorizonDigest(&r, voucher.HorizonDomain(testChainID, collectorAddr))
	}
	sig, err := voucher.SignDigest(digest, signedBy)
	if err != nil {
		e.t.Fatal(err)
	}
	r.Signature = sig
	return r
}

// addRAV stores a payer-signed RAV for a fresh operator-derived allocation.
func (e *env) addRAV(index uint64, value int64) (voucher.RAV, subgraph.Allocation) {
	e.t.Helper()
	a := e.allocation(e.operator, index)
	r := e.rav(a.ID, value, e.payerKey)
	if err := e.ravs.Save(context.Background(), r); err != nil {
		e.t.Fatalf("save rav: %v", err)
	}
	return r, a
}

func (e *env) fund(balance int64, signers ...common.Address) {
	e.escrow.accounts = []escrow.Account{{Payer: e.payer, Balance: big.NewInt(balance), Signers: signers}}
}

func (e *env) ledger(balance int64, signers ...common.Address) *escrow.Ledger {
	l := escrow.NewLedger(zap.NewNop())
	l.SetAccount(escrow.Account{Payer: e.payer, Balance: big.NewInt(balance), Signers: signers})
	return l
}

func (e *env) unredeemed(keys ...voucher.Key) []voucher.RAV {
	e.t.Helper()
	got, err := e.ravs.Unredeemed(context.Background(), keys)
	if err != nil {
		e.t.Fatalf("unredeemed: %v", err)
	}
	return got
}

func (e *env) pending() []voucher.RAV {
	e.t.Helper()
	got, err := e.ravs.Pending(context.Background(), 100)
	if err != nil {
		e.t.Fatalf("pending: %v", err)
	}
	return got
}

func (e *env) withdrawn(alloc common.Address) int64 {
	e.t.Helper()
	v, err := e.st.WithdrawnFees(context.Background(), alloc)
	if err != nil {
		e.t.Fatalf("withdrawn fees: %v", err)
	}
	return v.Int64()
}

func (e *env) metricValue(name string) float64 {
	e.t.Helper()
	families, err := e.reg.Gather()
	if err != nil {
		e.t.Fatal(err)
	}
	var sum float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				sum += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				sum += m.GetGauge().GetValue()
			}
		}
	}
	return sum
}

func pendingOf(r voucher.RAV, a subgraph.Allocation) PendingRAV {
	return PendingRAV{RAV: r, Allocation: a}
}
