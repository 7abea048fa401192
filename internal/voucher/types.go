package voucher

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Variant identifies the voucher protocol a RAV was issued under.
type Variant string

const (
	// Legacy RAVs are keyed by allocation id and redeemed on the TAP escrow.
	Legacy Variant = "legacy"
	// Horizon RAVs are keyed by collection id and collected through the
	// SubgraphService.
	Horizon Variant = "horizon"
)

// CollectionID is the 32-byte horizon collection identifier. The allocation
// id is stored in its trailing 20 bytes.
type CollectionID [32]byte

// CollectionFromAllocation left-pads an allocation id into a collection id.
func CollectionFromAllocation(a common.Address) CollectionID {
	var c CollectionID
	copy(c[12:], a.Bytes())
	return c
}

// HexToCollectionID parses a 32-byte collection id. A 20-byte allocation id
// is accepted as well and left-padded.
func HexToCollectionID(s string) (CollectionID, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return CollectionID{}, fmt.Errorf("decode collection id %q: %w", s, err)
	}
	var c CollectionID
	switch len(b) {
	case 32:
		copy(c[:], b)
	case 20:
		copy(c[12:], b)
	default:
		return CollectionID{}, fmt.Errorf("collection id %q: unexpected length %d", s, len(b))
	}
	return c, nil
}

// Allocation returns the allocation id embedded in the collection id.
func (c CollectionID) Allocation() common.Address {
	return common.BytesToAddress(c[12:])
}

// Hex returns the 0x-prefixed lowercase hex form.
func (c CollectionID) Hex() string { return "0x" + hex.EncodeToString(c[:]) }

func (c CollectionID) String() string { return c.Hex() }

// RAV is the latest signed aggregate voucher a payer issued for one
// allocation (legacy) or collection (horizon).
type RAV struct {
	Payer      common.Address
	Collection CollectionID
	// DataService and ServiceProvider are only meaningful for horizon RAVs.
	DataService     common.Address
	ServiceProvider common.Address
	TimestampNs     uint64
	ValueAggregate  *big.Int
	Metadata        []byte
	Signature       []byte

	Last       bool
	Final      bool
	RedeemedAt *time.Time
}

// Allocation returns the allocation the RAV is collected against.
func (r *RAV) Allocation() common.Address { return r.Collection.Allocation() }

// Key returns the (payer, collection) identity of the RAV row.
func (r *RAV) Key() Key { return Key{Payer: r.Payer, Collection: r.Collection} }

// SignedAt is the RAV timestamp as a time.
func (r *RAV) SignedAt() time.Time { return time.Unix(0, int64(r.TimestampNs)).UTC() }

// Redeemed reports whether the RAV is locally marked as redeemed.
func (r *RAV) Redeemed() bool { return r.RedeemedAt != nil }

// Key identifies a RAV row independently of its value.
type Key struct {
	Payer      common.Address
	Collection CollectionID
}

func (k Key) String() string {
	return strings.ToLower(k.Payer.Hex()) + "/" + k.Collection.Hex()
}
