package signer

import (
	"context"

	"github.com/cardano-stm/mithril-core/pkg/entities"
)

// StakeDistributionSource is the out-of-scope chain-observation
// collaborator that answers "what is the stake distribution as of this
// epoch". The state machine consults it once per registration, never
// per cycle.
type StakeDistributionSource interface {
	StakeDistributionForEpoch(ctx context.Context, epoch entities.Epoch) (entities.StakeDistribution, error)
}

// TransactionsSource is the out-of-scope chain-observation collaborator
// supplying the transactions a beacon's signable message is computed
// over; the SQLite-backed transaction store behind it is explicitly out
// of scope (spec §1).
type TransactionsSource interface {
	TransactionsForBeacon(ctx context.Context, beacon entities.Beacon) ([]entities.CardanoTransaction, error)
}

// SignableBuilder is the one-method capability every signed-entity kind
// implements: compute the protocol message parts it owns for a beacon.
// The orchestrator holds one instance per kind in a fixed record (see
// Config.TransactionsSignable) rather than a dynamic registry, per the
// design note on dynamic dispatch.
type SignableBuilder interface {
	ComputeProtocolMessage(ctx context.Context, beacon entities.Beacon) (*entities.ProtocolMessage, error)
}

// EraChecker is the out-of-scope era-boundary collaborator; the state
// machine calls it exactly once per epoch advance and never blocks the
// transition on its result beyond logging.
type EraChecker interface {
	UpdateEraChecker(ctx context.Context, epoch entities.Epoch) error
}

// NopEraChecker is an EraChecker that does nothing; it exists so a
// signer can be constructed without a real era-boundary collaborator
// while still exercising every transition in the table.
type NopEraChecker struct{}

// UpdateEraChecker always succeeds without doing anything.
func (NopEraChecker) UpdateEraChecker(context.Context, entities.Epoch) error { return nil }
