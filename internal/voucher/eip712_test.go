package voucher

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	testChainID   = big.NewInt(42161)
	testVerifier  = common.HexToAddress("0xDeAdBeEfDeAdBeEfDeAdBeEfDeAdBeEfDeAdBeEf")
	testAllocHex  = "0x1111111111111111111111111111111111111111"
	testPayerAddr = common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
)

func newLegacyRAV() *RAV {
	return &RAV{
		Payer:          testPayerAddr,
		Collection:     CollectionFromAllocation(common.HexToAddress(testAllocHex)),
		TimestampNs:    1_700_000_000_000_000_000,
		ValueAggregate: big.NewInt(1_000_000),
	}
}

func newHorizonRAV() *RAV {
	r := newLegacyRAV()
	r.DataService = common.HexToAddress("0x2222222222222222222222222222222222222222")
	r.ServiceProvider = common.HexToAddress("0x3333333333333333333333333333333333333333")
	r.Metadata = []byte{0x01, 0x02}
	return r
}

// ── CollectionID ─────────────────────────────────────────────────────────────

func TestCollectionFromAllocation_RoundTrip(t *testing.T) {
	alloc := common.HexToAddress(testAllocHex)
	c := CollectionFromAllocation(alloc)
	if c.Allocation() != alloc {
		t.Fatalf("allocation: got %s want %s", c.Allocation().Hex(), alloc.Hex())
	}
	if !bytes.Equal(c[:12], make([]byte, 12)) {
		t.Error("collection prefix must be zero-padded")
	}
}

func TestHexToCollectionID_FullWidthSuffix(t *testing.T) {
	c, err := HexToCollectionID("0xffffffffffffffffffffffff1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("HexToCollectionID: %v", err)
	}
	if c.Allocation() != common.HexToAddress(testAllocHex) {
		t.Errorf("allocation suffix: got %s", c.Allocation().Hex())
	}
}

func TestHexToCollectionID_AcceptsAllocation(t *testing.T) {
	c, err := HexToCollectionID(testAllocHex)
	if err != nil {
		t.Fatalf("HexToCollectionID: %v", err)
	}
	if c != CollectionFromAllocation(common.HexToAddress(testAllocHex)) {
		t.Error("20-byte id must be left-padded")
	}
}

func TestHexToCollectionID_BadLength(t *testing.T) {
	if _, err := HexToCollectionID("0x1234"); err == nil {
		t.Error("expected error for short id")
	}
	if _, err := HexToCollectionID("0xzz"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

// ── EIP-712 sign + recover ───────────────────────────────────────────────────

func TestLegacyDigest_RecoverSigner(t *testing.T) {
	key, _ := crypto.GenerateKey()
	r := newLegacyRAV()
	d := LegacyDomain(testChainID, testVerifier)

	sig, err := SignDigest(LegacyDigest(r, d), key)
	if err != nil {
		t.Fatalf("SignDigest: %v", err)
	}
	if len(sig) != 65 || sig[64] < 27 {
		t.Fatalf("signature must be 65 bytes with V in {27,28}, got len=%d v=%d", len(sig), sig[64])
	}
	got, err := RecoverDigest(LegacyDigest(r, d), sig)
	if err != nil {
		t.Fatalf("RecoverDigest: %v", err)
	}
	if got != crypto.PubkeyToAddress(key.PublicKey) {
		t.Errorf("recovered %s, want %s", got.Hex(), crypto.PubkeyToAddress(key.PublicKey).Hex())
	}
}

func TestHorizonDigest_RecoverSigner(t *testing.T) {
	key, _ := crypto.GenerateKey()
	r := newHorizonRAV()
	d := HorizonDomain(testChainID, testVerifier)

	sig, err := SignDigest(HorizonDigest(r, d), key)
	if err != nil {
		t.Fatalf("SignDigest: %v", err)
	}
	got, err := RecoverDigest(HorizonDigest(r, d), sig)
	if err != nil {
		t.Fatalf("RecoverDigest: %v", err)
	}
	if got != crypto.PubkeyToAddress(key.PublicKey) {
		t.Error("recovered address does not match signing key")
	}
}

func TestHorizonDigest_TamperedValue(t *testing.T) {
	key, _ := crypto.GenerateKey()
	r := newHorizonRAV()
	d := HorizonDomain(testChainID, testVerifier)
	sig, _ := SignDigest(HorizonDigest(r, d), key)

	r.ValueAggregate = big.NewInt(999_999_999)

	got, err := RecoverDigest(HorizonDigest(r, d), sig)
	if err != nil {
		return
	}
	if got == crypto.PubkeyToAddress(key.PublicKey) {
		t.Error("tampered value aggregate must invalidate the signature")
	}
}

func TestHorizonDigest_MetadataBound(t *testing.T) {
	r := newHorizonRAV()
	d := HorizonDomain(testChainID, testVerifier)
	h1 := HorizonDigest(r, d)
	r.Metadata = []byte{0x09}
	if h1 == HorizonDigest(r, d) {
		t.Error("metadata must be part of the digest")
	}
}

func TestDigest_DomainSeparation(t *testing.T) {
	r := newLegacyRAV()
	if LegacyDigest(r, LegacyDomain(big.NewInt(1), testVerifier)) == LegacyDigest(r, LegacyDomain(big.NewInt(2), testVerifier)) {
		t.Error("different chain ids must produce different digests")
	}
	if LegacyDigest(r, LegacyDomain(testChainID, testVerifier)) == LegacyDigest(r, LegacyDomain(testChainID, common.HexToAddress("0x01"))) {
		t.Error("different verifying contracts must produce different digests")
	}
	// Same fields, different protocol domains.
	if LegacyDigest(r, LegacyDomain(testChainID, testVerifier)) == HorizonDigest(r, HorizonDomain(testChainID, testVerifier)) {
		t.Error("legacy and horizon digests must differ")
	}
}

func TestRecoverDigest_BadLength(t *testing.T) {
	if _, err := RecoverDigest([32]byte{}, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for short signature")
	}
}
