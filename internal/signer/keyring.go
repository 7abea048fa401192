// Package signer holds the operator identities used to submit redemptions
// and derives the per-allocation keys that prove allocation ownership to
// the legacy escrow.
package signer

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// ErrNoMatchingSigner is returned when no configured identity derives the
// requested allocation id.
var ErrNoMatchingSigner = errors.New("no signer matches allocation")

// MaxAllocationIndex bounds the derivation index searched per identity.
const MaxAllocationIndex = 100

// Keyring is the operator identity plus the legacy identities that may have
// opened older allocations.
type Keyring struct {
	operator *ecdsa.PrivateKey
	legacy   []*ecdsa.PrivateKey
	log      *zap.Logger
}

// ParseKeyring loads hex-encoded secp256k1 keys.
func ParseKeyring(operatorHex string, legacyHex []string, log *zap.Logger) (*Keyring, error) {
	op, err := crypto.HexToECDSA(strings.TrimPrefix(operatorHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	legacy := make([]*ecdsa.PrivateKey, 0, len(legacyHex))
	for i, h := range legacyHex {
		k, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(h), "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse legacy key %d: %w", i, err)
		}
		legacy = append(legacy, k)
	}
	return NewKeyring(op, legacy, log), nil
}

func NewKeyring(operator *ecdsa.PrivateKey, legacy []*ecdsa.PrivateKey, log *zap.Logger) *Keyring {
	return &Keyring{operator: operator, legacy: legacy, log: log}
}

// Operator returns the primary identity.
func (k *Keyring) Operator() *ecdsa.PrivateKey { return k.operator }

func (k *Keyring) OperatorAddress() common.Address {
	return crypto.PubkeyToAddress(k.operator.PublicKey)
}

// AllocationSigner finds the allocation key for allocation, trying the
// operator identity first and then each legacy identity in order.
func (k *Keyring) AllocationSigner(allocation common.Address, deployment common.Hash, createdAtEpoch uint64) (*ecdsa.PrivateKey, error) {
	identities := append([]*ecdsa.PrivateKey{k.operator}, k.legacy...)
	for i, id := range identities {
		for idx := uint64(0); idx <= MaxAllocationIndex; idx++ {
			key, err := DeriveAllocationKey(id, deployment, createdAtEpoch, idx)
			if err != nil {
				return nil, err
			}
			if crypto.PubkeyToAddress(key.PublicKey) != allocation {
				continue
			}
			if i > 0 {
				k.log.Debug("allocation signer found in legacy identity",
					zap.String("allocation", allocation.Hex()),
					zap.Int("identity", i-1),
					zap.Uint64("index", idx),
				)
			}
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoMatchingSigner, allocation.Hex())
}

// DeriveAllocationKey derives the allocation key an identity uses for the
// index-th allocation on deployment opened at epoch.
func DeriveAllocationKey(identity *ecdsa.PrivateKey, deployment common.Hash, epoch, index uint64) (*ecdsa.PrivateKey, error) {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], epoch)
	binary.BigEndian.PutUint64(buf[8:], index)
	seed := crypto.Keccak256(crypto.FromECDSA(identity), deployment.Bytes(), buf[:])
	key, err := crypto.ToECDSA(seed)
	if err != nil {
		return nil, fmt.Errorf("derive allocation key: %w", err)
	}
	return key, nil
}

// ProofMessage is abi.encodePacked(chainId, payer, allocation, escrow).
func ProofMessage(chainID *big.Int, payer, allocation, escrow common.Address) []byte {
	msg := make([]byte, 0, 32+3*common.AddressLength)
	msg = append(msg, math.U256Bytes(new(big.Int).Set(chainID))...)
	msg = append(msg, payer.Bytes()...)
	msg = append(msg, allocation.Bytes()...)
	msg = append(msg, escrow.Bytes()...)
	return msg
}

// AllocationProof signs the legacy allocation id proof with allocationKey.
func AllocationProof(allocationKey *ecdsa.PrivateKey, chainID *big.Int, payer, allocation, escrow common.Address) ([]byte, error) {
	sig, err := SignMessage(ProofMessage(chainID, payer, allocation, escrow), allocationKey)
	if err != nil {
		return nil, fmt.Errorf("sign allocation proof: %w", err)
	}
	return sig, nil
}
