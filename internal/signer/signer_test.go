package signer

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

var deployment = common.HexToHash("0xd01")

// ── EIP-191 ──────────────────────────────────────────────────────────────────

func TestSignMessage_Recover(t *testing.T) {
	key := mustKey(t)
	msg := []byte("hello")
	sig, err := SignMessage(msg, key)
	if err != nil {
		t.Fatal(err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("v = %d, want 27 or 28", sig[64])
	}
	got, err := Recover(msg, sig)
	if err != nil {
		t.Fatal(err)
	}
	if got != crypto.PubkeyToAddress(key.PublicKey) {
		t.Errorf("recovered %s", got.Hex())
	}
	if _, err := Recover(msg, sig[:64]); err == nil {
		t.Error("expected length error")
	}
}

// ── derivation ───────────────────────────────────────────────────────────────

func TestDeriveAllocationKey_Deterministic(t *testing.T) {
	id := mustKey(t)
	a, err := DeriveAllocationKey(id, deployment, 42, 3)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := DeriveAllocationKey(id, deployment, 42, 3)
	c, _ := DeriveAllocationKey(id, deployment, 42, 4)
	if !a.Equal(b) {
		t.Error("same inputs derived different keys")
	}
	if a.Equal(c) {
		t.Error("different index derived the same key")
	}
}

func allocationOf(t *testing.T, id *ecdsa.PrivateKey, epoch, index uint64) common.Address {
	t.Helper()
	k, err := DeriveAllocationKey(id, deployment, epoch, index)
	if err != nil {
		t.Fatal(err)
	}
	return crypto.PubkeyToAddress(k.PublicKey)
}

func TestAllocationSigner_Operator(t *testing.T) {
	op := mustKey(t)
	kr := NewKeyring(op, nil, zap.NewNop())
	alloc := allocationOf(t, op, 10, 0)
	key, err := kr.AllocationSigner(alloc, deployment, 10)
	if err != nil {
		t.Fatalf("AllocationSigner: %v", err)
	}
	if crypto.PubkeyToAddress(key.PublicKey) != alloc {
		t.Error("wrong key returned")
	}
}

func TestAllocationSigner_FallsBackToSecondLegacyIdentity(t *testing.T) {
	op, l1, l2 := mustKey(t), mustKey(t), mustKey(t)
	kr := NewKeyring(op, []*ecdsa.PrivateKey{l1, l2}, zap.NewNop())
	alloc := allocationOf(t, l2, 7, MaxAllocationIndex)
	key, err := kr.AllocationSigner(alloc, deployment, 7)
	if err != nil {
		t.Fatalf("AllocationSigner: %v", err)
	}
	want, _ := DeriveAllocationKey(l2, deployment, 7, MaxAllocationIndex)
	if !key.Equal(want) {
		t.Error("fallback key mismatch")
	}
}

func TestAllocationSigner_NoMatch(t *testing.T) {
	kr := NewKeyring(mustKey(t), []*ecdsa.PrivateKey{mustKey(t)}, zap.NewNop())
	_, err := kr.AllocationSigner(common.HexToAddress("0xa1"), deployment, 1)
	if !errors.Is(err, ErrNoMatchingSigner) {
		t.Fatalf("err = %v, want ErrNoMatchingSigner", err)
	}
}

func TestParseKeyring(t *testing.T) {
	_, err := ParseKeyring("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
		[]string{"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"}, zap.NewNop())
	if err != nil {
		t.Fatalf("ParseKeyring: %v", err)
	}
	if _, err := ParseKeyring("nothex", nil, zap.NewNop()); err == nil {
		t.Error("expected parse error")
	}
}

// ── allocation proof ─────────────────────────────────────────────────────────

func TestAllocationProof_RecoversToAllocation(t *testing.T) {
	allocKey := mustKey(t)
	alloc := crypto.PubkeyToAddress(allocKey.PublicKey)
	chainID := big.NewInt(42161)
	payer := common.HexToAddress("0xb1")
	escrow := common.HexToAddress("0xe5")

	proof, err := AllocationProof(allocKey, chainID, payer, alloc, escrow)
	if err != nil {
		t.Fatal(err)
	}
	msg := ProofMessage(chainID, payer, alloc, escrow)
	if len(msg) != 92 {
		t.Fatalf("message length = %d, want 92", len(msg))
	}
	got, err := Recover(msg, proof)
	if err != nil || got != alloc {
		t.Errorf("recovered %s, %v; want %s", got.Hex(), err, alloc.Hex())
	}
}
