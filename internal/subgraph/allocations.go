package subgraph

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const allocationsQuery = `query allocations($block: Block_height, $first: Int!, $lastId: String!, $ids: [String!]!) {
  allocations(block: $block, first: $first, orderBy: id, orderDirection: asc, where: { id_gt: $lastId, id_in: $ids }) {
    id
    status
    createdAtEpoch
    closedAtEpoch
    indexer { id }
    subgraphDeployment { id }
  }
  ` + metaSelection + `
}`

type rawAllocation struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CreatedAtEpoch     uint64 `json:"createdAtEpoch"`
	ClosedAtEpoch      uint64 `json:"closedAtEpoch"`
	Indexer            idRef  `json:"indexer"`
	SubgraphDeployment idRef  `json:"subgraphDeployment"`
}

// Network reads allocation records from the network subgraph.
type Network struct {
	c *Client
}

func NewNetwork(c *Client) *Network { return &Network{c: c} }

// Allocations fetches the allocation records for ids.
func (n *Network) Allocations(ctx context.Context, ids []common.Address) ([]Allocation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw, _, err := paginate(ctx, n.c, allocationsQuery, "allocations",
		map[string]any{"ids": lowerAddrs(ids)},
		func(a rawAllocation) string { return a.ID },
	)
	if err != nil {
		return nil, err
	}
	out := make([]Allocation, 0, len(raw))
	for _, a := range raw {
		out = append(out, Allocation{
			ID:                 common.HexToAddress(a.ID),
			Indexer:            common.HexToAddress(a.Indexer.ID),
			SubgraphDeployment: common.HexToHash(strings.TrimSpace(a.SubgraphDeployment.ID)),
			CreatedAtEpoch:     a.CreatedAtEpoch,
			ClosedAtEpoch:      a.ClosedAtEpoch,
			Status:             a.Status,
		})
	}
	return out, nil
}
