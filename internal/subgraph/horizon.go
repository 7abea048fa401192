package subgraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-rav-redeemer/internal/escrow"
	"github.com/0gfoundation/0g-rav-redeemer/internal/voucher"
)

const horizonEscrowAccountsQuery = `query paymentsEscrowAccounts($block: Block_height, $first: Int!, $lastId: String!, $receiver: String!, $collector: String!) {
  paymentsEscrowAccounts(block: $block, first: $first, orderBy: id, orderDirection: asc, where: { id_gt: $lastId, receiver: $receiver, collector: $collector }) {
    id
    balance
    payer { id signers { id } }
  }
  ` + metaSelection + `
}`

const horizonCollectionsQuery = `query paymentsEscrowTransactions($block: Block_height, $first: Int!, $lastId: String!, $receiver: String!, $collector: String!) {
  paymentsEscrowTransactions(block: $block, first: $first, orderBy: id, orderDirection: asc, where: { id_gt: $lastId, type: "collect", receiver: $receiver, collector: $collector }) {
    id
    collectionId
    tokens
    timestamp
    payer { id }
  }
  ` + metaSelection + `
}`

const horizonRedeemTransactionsQuery = `query paymentsEscrowTransactions($block: Block_height, $first: Int!, $lastId: String!, $receiver: String!, $collector: String!, $collections: [String!]!, $payers: [String!]!) {
  paymentsEscrowTransactions(block: $block, first: $first, orderBy: id, orderDirection: asc, where: { id_gt: $lastId, type: "collect", receiver: $receiver, collector: $collector, collectionId_in: $collections, payer_in: $payers }) {
    id
    collectionId
    tokens
    timestamp
    payer { id }
  }
  ` + metaSelection + `
}`

type rawHorizonAccount struct {
	ID      string `json:"id"`
	Balance string `json:"balance"`
	Payer   struct {
		ID      string  `json:"id"`
		Signers []idRef `json:"signers"`
	} `json:"payer"`
}

type rawHorizonTransaction struct {
	ID           string `json:"id"`
	CollectionID string `json:"collectionId"`
	Tokens       string `json:"tokens"`
	Timestamp    string `json:"timestamp"`
	Payer        idRef  `json:"payer"`
}

func (t rawHorizonTransaction) decode() (RedeemTransaction, error) {
	collection, err := voucher.HexToCollectionID(t.CollectionID)
	if err != nil {
		return RedeemTransaction{}, fmt.Errorf("transaction %s: %w", t.ID, err)
	}
	tokens, err := parseBigInt(t.Tokens)
	if err != nil {
		return RedeemTransaction{}, fmt.Errorf("transaction %s: %w", t.ID, err)
	}
	ts, err := parseUnix(t.Timestamp)
	if err != nil {
		return RedeemTransaction{}, fmt.Errorf("transaction %s: %w", t.ID, err)
	}
	return RedeemTransaction{
		ID:         t.ID,
		Payer:      common.HexToAddress(t.Payer.ID),
		Collection: collection,
		Timestamp:  ts,
		Tokens:     tokens,
	}, nil
}

// HorizonEscrow reads the payments escrow entities of the network subgraph.
// Redeem transactions are filtered to one receiver and collector.
type HorizonEscrow struct {
	c         *Client
	receiver  common.Address
	collector common.Address
}

func NewHorizonEscrow(c *Client, receiver, collector common.Address) *HorizonEscrow {
	return &HorizonEscrow{c: c, receiver: receiver, collector: collector}
}

func (h *HorizonEscrow) EscrowAccounts(ctx context.Context, receiver, collector common.Address) ([]escrow.Account, error) {
	raw, _, err := paginate(ctx, h.c, horizonEscrowAccountsQuery, "paymentsEscrowAccounts",
		map[string]any{
			"receiver":  strings.ToLower(receiver.Hex()),
			"collector": strings.ToLower(collector.Hex()),
		},
		func(a rawHorizonAccount) string { return a.ID },
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
			Payer:   common.HexToAddress(a.Payer.ID),
			Balance: bal,
			Signers: signerAddrs(a.Payer.Signers),
		})
	}
	return out, nil
}

func (h *HorizonEscrow) TokensCollected(ctx context.Context, receiver, collector common.Address) ([]escrow.Collected, error) {
	raw, _, err := paginate(ctx, h.c, horizonCollectionsQuery, "paymentsEscrowTransactions",
		map[string]any{
			"receiver":  strings.ToLower(receiver.Hex()),
			"collector": strings.ToLower(collector.Hex()),
		},
		func(t rawHorizonTransaction) string { return t.ID },
	)
	if err != nil {
		return nil, err
	}
	out := make([]escrow.Collected, 0, len(raw))
	for _, t := range raw {
		tx, err := t.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, escrow.Collected{Payer: tx.Payer, Collection: tx.Collection, Tokens: tx.Tokens})
	}
	return out, nil
}

func (h *HorizonEscrow) RedeemTransactions(ctx context.Context, payers []common.Address, keys []voucher.CollectionID) ([]RedeemTransaction, BlockMeta, error) {
	collections := make([]string, len(keys))
	for i, k := range keys {
		collections[i] = k.Hex()
	}
	raw, meta, err := paginate(ctx, h.c, horizonRedeemTransactionsQuery, "paymentsEscrowTransactions",
		map[string]any{
			"receiver":    strings.ToLower(h.receiver.Hex()),
			"collector":   strings.ToLower(h.collector.Hex()),
			"collections": collections,
			"payers":      lowerAddrs(payers),
		},
		func(t rawHorizonTransaction) string { return t.ID },
	)
	if err != nil {
		return nil, BlockMeta{}, err
	}
	out := make([]RedeemTransaction, 0, len(raw))
	for _, t := range raw {
		tx, err := t.decode()
		if err != nil {
			return nil, BlockMeta{}, err
		}
		out = append(out, tx)
	}
	return out, meta, nil
}
