package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

// ErrEventNotFound is returned when a receipt lacks the expected event.
var ErrEventNotFound = errors.New("event not found in receipt")

// PaymentTypeQueryFee is the IGraphPayments.PaymentTypes value for query fees.
const PaymentTypeQueryFee uint8 = 0

const legacyEscrowJSON = `[
  {"type":"function","name":"redeem","stateMutability":"nonpayable","inputs":[
    {"name":"signedRAV","type":"tuple","components":[
      {"name":"rav","type":"tuple","components":[
        {"name":"allocationId","type":"address"},
        {"name":"timestampNs","type":"uint64"},
        {"name":"valueAggregate","type":"uint128"}]},
      {"name":"signature","type":"bytes"}]},
    {"name":"allocationIDProof","type":"bytes"}],"outputs":[]},
  {"type":"event","name":"Redeem","anonymous":false,"inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"receiver","type":"address","indexed":true},
    {"name":"allocationID","type":"address","indexed":true},
    {"name":"expectedAmount","type":"uint256","indexed":false},
    {"name":"actualAmount","type":"uint256","indexed":false}]}
]`

const subgraphServiceJSON = `[
  {"type":"function","name":"collect","stateMutability":"nonpayable","inputs":[
    {"name":"indexer","type":"address"},
    {"name":"paymentType","type":"uint8"},
    {"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const graphTallyCollectorJSON = `[
  {"type":"event","name":"PaymentCollected","anonymous":false,"inputs":[
    {"name":"paymentType","type":"uint8","indexed":true},
    {"name":"collectionId","type":"bytes32","indexed":true},
    {"name":"payer","type":"address","indexed":true},
    {"name":"receiver","type":"address","indexed":false},
    {"name":"dataService","type":"address","indexed":false},
    {"name":"tokens","type":"uint256","indexed":false}]}
]`

const controllerJSON = `[
  {"type":"function","name":"paused","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]}
]`

const legacyStakingJSON = `[
  {"type":"function","name":"isOperator","stateMutability":"view","inputs":[
    {"name":"operator","type":"address"},
    {"name":"indexer","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

const horizonStakingJSON = `[
  {"type":"function","name":"isAuthorized","stateMutability":"view","inputs":[
    {"name":"serviceProvider","type":"address"},
    {"name":"verifier","type":"address"},
    {"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	LegacyEscrowABI        = mustParseABI(legacyEscrowJSON)
	SubgraphServiceABI     = mustParseABI(subgraphServiceJSON)
	GraphTallyCollectorABI = mustParseABI(graphTallyCollectorJSON)
	ControllerABI          = mustParseABI(controllerJSON)
	LegacyStakingABI       = mustParseABI(legacyStakingJSON)
	HorizonStakingABI      = mustParseABI(horizonStakingJSON)

	// collectDataArgs is abi.encode(SignedRAV, uint256) for SubgraphService.collect.
	collectDataArgs = mustCollectDataArgs()
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return parsed
}

func mustCollectDataArgs() abi.Arguments {
	signedRAV, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "rav", Type: "tuple", Components: []abi.ArgumentMarshaling{
			{Name: "collectionId", Type: "bytes32"},
			{Name: "payer", Type: "address"},
			{Name: "serviceProvider", Type: "address"},
			{Name: "dataService", Type: "address"},
			{Name: "timestampNs", Type: "uint64"},
			{Name: "valueAggregate", Type: "uint128"},
			{Name: "metadata", Type: "bytes"},
		}},
		{Name: "signature", Type: "bytes"},
	})
	if err != nil {
		panic(fmt.Sprintf("chain: signed rav type: %v", err))
	}
	uint256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(fmt.Sprintf("chain: uint256 type: %v", err))
	}
	return abi.Arguments{{Name: "signedRAV", Type: signedRAV}, {Name: "tokensToCollect", Type: uint256}}
}

type legacyRAV struct {
	AllocationId   common.Address `abi:"allocationId"`
	TimestampNs    uint64         `abi:"timestampNs"`
	ValueAggregate *big.Int       `abi:"valueAggregate"`
}

type legacySignedRAV struct {
	Rav       legacyRAV `abi:"rav"`
	Signature []byte    `abi:"signature"`
}

type horizonRAV struct {
	CollectionId    [32]byte       `abi:"collectionId"`
	Payer           common.Address `abi:"payer"`
	ServiceProvider common.Address `abi:"serviceProvider"`
	DataService     common.Address `abi:"dataService"`
	TimestampNs     uint64         `abi:"timestampNs"`
	ValueAggregate  *big.Int       `abi:"valueAggregate"`
	Metadata        []byte         `abi:"metadata"`
}

type horizonSignedRAV struct {
	Rav       horizonRAV `abi:"rav"`
	Signature []byte     `abi:"signature"`
}

// PackLegacyRedeem encodes TAPEscrow.redeem(signedRAV, allocationIDProof).
func PackLegacyRedeem(r *voucher.RAV, proof []byte) ([]byte, error) {
	signed := legacySignedRAV{
		Rav: legacyRAV{
			AllocationId:   r.Allocation(),
			TimestampNs:    r.TimestampNs,
			ValueAggregate: r.ValueAggregate,
		},
		Signature: r.Signature,
	}
	data, err := LegacyEscrowABI.Pack("redeem", signed, proof)
	if err != nil {
		return nil, fmt.Errorf("pack redeem: %w", err)
	}
	return data, nil
}

// PackHorizonCollect encodes SubgraphService.collect(indexer, QueryFee,
// abi.encode(signedRAV, tokensToCollect)).
func PackHorizonCollect(indexer common.Address, r *voucher.RAV, tokensToCollect *big.Int) ([]byte, error) {
	signed := horizonSignedRAV{
		Rav: horizonRAV{
			CollectionId:    [32]byte(r.Collection),
			Payer:           r.Payer,
			ServiceProvider: r.ServiceProvider,
			DataService:     r.DataService,
			TimestampNs:     r.TimestampNs,
			ValueAggregate:  r.ValueAggregate,
			Metadata:        nonNilBytes(r.Metadata),
		},
		Signature: r.Signature,
	}
	inner, err := collectDataArgs.Pack(signed, tokensToCollect)
	if err != nil {
		return nil, fmt.Errorf("pack collect data: %w", err)
	}
	data, err := SubgraphServiceABI.Pack("collect", indexer, PaymentTypeQueryFee, inner)
	if err != nil {
		return nil, fmt.Errorf("pack collect: %w", err)
	}
	return data, nil
}

// RedeemedAmount returns actualAmount of the TAP escrow Redeem event emitted
// for allocation.
func RedeemedAmount(receipt *types.Receipt, escrow, allocation common.Address) (*big.Int, error) {
	ev := LegacyEscrowABI.Events["Redeem"]
	for _, l := range receipt.Logs {
		if l.Address != escrow || len(l.Topics) != 4 || l.Topics[0] != ev.ID {
			continue
		}
		if common.BytesToAddress(l.Topics[3].Bytes()) != allocation {
			continue
		}
		vals, err := ev.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack Redeem: %w", err)
		}
		return vals[1].(*big.Int), nil
	}
	return nil, fmt.Errorf("Redeem for %s: %w", allocation.Hex(), ErrEventNotFound)
}

// CollectedTokens returns the tokens of the PaymentCollected event emitted by
// collector for collection.
func CollectedTokens(receipt *types.Receipt, collector common.Address, collection voucher.CollectionID) (*big.Int, error) {
	ev := GraphTallyCollectorABI.Events["PaymentCollected"]
	for _, l := range receipt.Logs {
		if l.Address != collector || len(l.Topics) != 4 || l.Topics[0] != ev.ID {
			continue
		}
		if l.Topics[2] != common.Hash(collection) {
			continue
		}
		vals, err := ev.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack PaymentCollected: %w", err)
		}
		return vals[2].(*big.Int), nil
	}
	return nil, fmt.Errorf("PaymentCollected for %s: %w", collection, ErrEventNotFound)
}

func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
