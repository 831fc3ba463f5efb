package signer

import (
	"context"
	"fmt"

	"github.com/cardano-stm/mithril-core/pkg/cardanotx"
	"github.com/cardano-stm/mithril-core/pkg/entities"
)

// CardanoTransactionsSignable adapts cardanotx.Builder (which needs the
// beacon's observed transactions as an explicit argument) to the
// beacon-only SignableBuilder capability the state machine drives,
// sourcing those transactions from the out-of-scope chain observer.
type CardanoTransactionsSignable struct {
	Builder *cardanotx.Builder
	Source  TransactionsSource
}

// ComputeProtocolMessage fetches the beacon's transactions from Source
// and delegates to Builder.
func (c *CardanoTransactionsSignable) ComputeProtocolMessage(ctx context.Context, beacon entities.Beacon) (*entities.ProtocolMessage, error) {
	txs, err := c.Source.TransactionsForBeacon(ctx, beacon)
	if err != nil {
		return nil, fmt.Errorf("signer: fetching transactions for %s: %w", beacon, err)
	}
	return c.Builder.ComputeProtocolMessage(ctx, beacon, txs)
}

var _ SignableBuilder = (*CardanoTransactionsSignable)(nil)
