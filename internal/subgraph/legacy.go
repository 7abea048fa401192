package subgraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-rav-redeemer/internal/escrow"
	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

const legacyEscrowAccountsQuery = `query escrowAccounts($block: Block_height, $first: Int!, $lastId: String!, $receiver: String!) {
  escrowAccounts(block: $block, first: $first, orderBy: id, orderDirection: asc, where: { id_gt: $lastId, receiver: $receiver }) {
    id
    balance
    sender { id signers { id } }
  }
  ` + metaSelection + `
}`

const legacyRedeemTransactionsQuery = `query transactions($block: Block_height, $first: Int!, $lastId: String!, $allocations: [String!]!, $senders: [String!]!) {
  transactions(block: $block, first: $first, orderBy: id, orderDirection: asc, where: { id_gt: $lastId, type: "redeem", allocationID_in: $allocations, sender_in: $senders }) {
    id
    allocationID
    timestamp
    amount
    sender { id }
  }
  ` + metaSelection + `
}`

type rawLegacyAccount struct {
	ID      string `json:"id"`
	Balance string `json:"balance"`
	Sender  struct {
		ID      string  `json:"id"`
		Signers []idRef `json:"signers"`
	} `json:"sender"`
}

type rawLegacyTransaction struct {
	ID           string `json:"id"`
	AllocationID string `json:"allocationID"`
	Timestamp    string `json:"timestamp"`
	Amount       string `json:"amount"`
	Sender       idRef  `json:"sender"`
}

// LegacyEscrow reads the TAP escrow subgraph.
type LegacyEscrow struct {
	c *Client
}

func NewLegacyEscrow(c *Client) *LegacyEscrow { return &LegacyEscrow{c: c} }

// EscrowAccounts returns the escrow accounts funding receiver. The legacy
// escrow has no collector, so the argument is ignored.
func (l *LegacyEscrow) EscrowAccounts(ctx context.Context, receiver, _ common.Address) ([]escrow.Account, error) {
	raw, _, err := paginate(ctx, l.c, legacyEscrowAccountsQuery, "escrowAccounts",
		map[string]any{"receiver": strings.ToLower(receiver.Hex())},
		func(a rawLegacyAccount) string { return a.ID },
	)
	if err != nil {
		return nil, err
	}
	out := make([]escrow.Account, 0, len(raw))
	for _, a := range raw {
		bal, err := parseBigInt(a.Balance)
		if err != nil {
			return nil, fmt.Errorf("escrow account %s: %w", a.ID, err)
		}
		out = append(out, escrow.Account{
			Payer:   common.HexToAddress(a.Sender.ID),
			Balance: bal,
			Signers: signerAddrs(a.Sender.Signers),
		})
	}
	return out, nil
}

// TokensCollected is always empty for the legacy escrow: a legacy RAV is
// redeemed for its full value aggregate.
func (l *LegacyEscrow) TokensCollected(context.Context, common.Address, common.Address) ([]escrow.Collected, error) {
	return nil, nil
}

// RedeemTransactions returns redeem transactions for the given senders and
// allocations, with the block the read was pinned to.
func (l *LegacyEscrow) RedeemTransactions(ctx context.Context, payers []common.Address, keys []voucher.CollectionID) ([]RedeemTransaction, BlockMeta, error) {
	allocations := make([]string, len(keys))
	for i, k := range keys {
		allocations[i] = strings.ToLower(k.Allocation().Hex())
	}
	raw, meta, err := paginate(ctx, l.c, legacyRedeemTransactionsQuery, "transactions",
		map[string]any{"allocations": allocations, "senders": lowerAddrs(payers)},
		func(t rawLegacyTransaction) string { return t.ID },
	)
	if err != nil {
		return nil, BlockMeta{}, err
	}
	out := make([]RedeemTransaction, 0, len(raw))
	for _, t := range raw {
		ts, err := parseUnix(t.Timestamp)
		if err != nil {
			return nil, BlockMeta{}, fmt.Errorf("transaction %s: %w", t.ID, err)
		}
		amount, err := parseBigInt(t.Amount)
		if err != nil {
			return nil, BlockMeta{}, fmt.Errorf("transaction %s: %w", t.ID, err)
		}
		out = append(out, RedeemTransaction{
			ID:         t.ID,
			Payer:      common.HexToAddress(t.Sender.ID),
			Collection: voucher.CollectionFromAllocation(common.HexToAddress(t.AllocationID)),
			Timestamp:  ts,
			Tokens:     amount,
		})
	}
	return out, meta, nil
}
