package voucher

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	legacyRAVTypeHash = crypto.Keccak256Hash([]byte(
		"ReceiptAggregateVoucher(address allocationId,uint64 timestampNs,uint128 valueAggregate)",
	))
	horizonRAVTypeHash = crypto.Keccak256Hash([]byte(
		"ReceiptAggregateVoucher(bytes32 collectionId,address payer,address serviceProvider,address dataService,uint64 timestampNs,uint128 valueAggregate,bytes metadata)",
	))
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
)

// Domain is the EIP-712 domain a RAV is signed under.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// LegacyDomain is the TAP verifier domain.
func LegacyDomain(chainID *big.Int, verifier common.Address) Domain {
	return Domain{Name: "TAP", Version: "1", ChainID: chainID, VerifyingContract: verifier}
}

// HorizonDomain is the GraphTallyCollector domain.
func HorizonDomain(chainID *big.Int, collector common.Address) Domain {
	return Domain{Name: "GraphTallyCollector", Version: "1", ChainID: chainID, VerifyingContract: collector}
}

func (d Domain) separator() [32]byte {
	nameHash := crypto.Keccak256Hash([]byte(d.Name))
	versionHash := crypto.Keccak256Hash([]byte(d.Version))

	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	d.ChainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], d.VerifyingContract.Bytes())

	return crypto.Keccak256Hash(encoded)
}

// LegacyDigest returns the EIP-712 digest of a legacy RAV.
func LegacyDigest(r *RAV, d Domain) [32]byte {
	encoded := make([]byte, 4*32)
	copy(encoded[0:32], legacyRAVTypeHash[:])
	copy(encoded[44:64], r.Allocation().Bytes())
	new(big.Int).SetUint64(r.TimestampNs).FillBytes(encoded[64:96])
	r.ValueAggregate.FillBytes(encoded[96:128])
	return typedDigest(d, crypto.Keccak256Hash(encoded))
}

// HorizonDigest returns the EIP-712 digest of a horizon RAV.
func HorizonDigest(r *RAV, d Domain) [32]byte {
	metadataHash := crypto.Keccak256Hash(r.Metadata)

	encoded := make([]byte, 8*32)
	copy(encoded[0:32], horizonRAVTypeHash[:])
	copy(encoded[32:64], r.Collection[:])
	copy(encoded[76:96], r.Payer.Bytes())
	copy(encoded[108:128], r.ServiceProvider.Bytes())
	copy(encoded[140:160], r.DataService.Bytes())
	new(big.Int).SetUint64(r.TimestampNs).FillBytes(encoded[160:192])
	r.ValueAggregate.FillBytes(encoded[192:224])
	copy(encoded[224:256], metadataHash[:])
	return typedDigest(d, crypto.Keccak256Hash(encoded))
}

// keccak256(0x1901 || domainSeparator || structHash)
func typedDigest(d Domain, structHash common.Hash) [32]byte {
	sep := d.separator()
	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}

// SignDigest signs a digest and returns a 65-byte signature with V in {27,28}.
func SignDigest(digest [32]byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverDigest returns the address that produced sig over digest.
func RecoverDigest(digest [32]byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("invalid signature length")
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
