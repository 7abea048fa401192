package subgraph

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

// Allocation is an indexing commitment as reported by the network subgraph.
type Allocation struct {
	ID                 common.Address
	Indexer            common.Address
	SubgraphDeployment common.Hash
	CreatedAtEpoch     uint64
	ClosedAtEpoch      uint64
	Status             string
}

// RedeemTransaction is a redemption observed by the subgraph.
type RedeemTransaction struct {
	ID         string
	Payer      common.Address
	Collection voucher.CollectionID
	Timestamp  time.Time
	Tokens     *big.Int
}

type idRef struct {
	ID string `json:"id"`
}

func parseBigInt(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid BigInt %q", s)
	}
	return v, nil
}

func parseUnix(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}

func lowerAddrs(as []common.Address) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = strings.ToLower(a.Hex())
	}
	return out
}

func signerAddrs(refs []idRef) []common.Address {
	out := make([]common.Address, 0, len(refs))
	for _, r := range refs {
		out = append(out, common.HexToAddress(r.ID))
	}
	return out
}

const metaSelection = `_meta { block { hash number timestamp } }`
