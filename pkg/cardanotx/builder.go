// Package cardanotx implements the Cardano transactions signable
// builder: bucketing observed transactions into fixed-width block
// ranges, committing each bucket with a Merkle tree, and folding the
// buckets into one Merkelized Map whose root becomes a protocol message
// part.
package cardanotx

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/cardano-stm/mithril-core/pkg/entities"
	"github.com/cardano-stm/mithril-core/pkg/merkle"
	"github.com/cardano-stm/mithril-core/pkg/merklemap"
)

// storeChunkSize batches persisted transactions so a single store call
// never carries an unbounded slice.
const storeChunkSize = 100

// TransactionStore is the out-of-scope collaborator that durably records
// observed transactions. The builder only ever calls it in fixed-size
// chunks.
type TransactionStore interface {
	StoreTransactions(ctx context.Context, txs []entities.CardanoTransaction) error
}

// Builder computes the CardanoTransactionsMerkleRoot protocol message
// part for a beacon's observed transactions.
type Builder struct {
	store TransactionStore
}

// NewBuilder constructs a Builder backed by the given transaction store.
func NewBuilder(store TransactionStore) *Builder {
	return &Builder{store: store}
}

// ComputeProtocolMessage buckets txs by block range, builds one Merkle
// tree per bucket, folds the buckets (in ascending range order) into an
// MKMap, and writes its hex-encoded root and the beacon's immutable file
// number into a protocol message. It also persists txs to the
// transaction store in fixed-size chunks.
func (b *Builder) ComputeProtocolMessage(ctx context.Context, beacon entities.Beacon, txs []entities.CardanoTransaction) (*entities.ProtocolMessage, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("cardanotx: empty leaves")
	}

	if b.store != nil {
		for i := 0; i < len(txs); i += storeChunkSize {
			end := i + storeChunkSize
			if end > len(txs) {
				end = len(txs)
			}
			if err := b.store.StoreTransactions(ctx, txs[i:end]); err != nil {
				return nil, fmt.Errorf("storing transactions: %w", err)
			}
		}
	}

	buckets := make(map[entities.BlockRange][]merkle.Node)
	var order []entities.BlockRange
	for _, tx := range txs {
		leaf, err := txLeaf(tx)
		if err != nil {
			return nil, fmt.Errorf("hashing transaction %s: %w", tx.TransactionHash, err)
		}
		r := entities.BlockRangeForBlockNumber(tx.BlockNumber)
		if _, seen := buckets[r]; !seen {
			order = append(order, r)
		}
		buckets[r] = append(buckets[r], leaf)
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Compare(order[j]) < 0 })

	pairs := make([]merklemap.Pair, 0, len(order))
	for _, r := range order {
		tree, err := merkle.New(buckets[r])
		if err != nil {
			return nil, fmt.Errorf("building tree for range %s: %w", r, err)
		}
		key := merklemap.NewKeyFromUint64(r.Start)
		pairs = append(pairs, merklemap.Pair{Key: key, Value: merklemap.NewTreeNode(tree)})
	}

	mkMap, err := merklemap.New(pairs)
	if err != nil {
		return nil, fmt.Errorf("building transactions map: %w", err)
	}

	root, err := mkMap.ComputeRoot()
	if err != nil {
		return nil, fmt.Errorf("computing transactions root: %w", err)
	}

	msg := entities.NewProtocolMessage()
	msg.SetPart(entities.PartCardanoTransactionsMerkleRoot, hex.EncodeToString(root.Bytes()))
	msg.SetPart(entities.PartLatestImmutableFileNumber, fmt.Sprintf("%d", beacon.ImmutableFileNumber))
	return msg, nil
}

// txLeaf decodes a transaction's hex-encoded hash into tree-leaf form.
func txLeaf(tx entities.CardanoTransaction) (merkle.Node, error) {
	raw, err := hex.DecodeString(tx.TransactionHash)
	if err != nil {
		return merkle.Node{}, fmt.Errorf("transaction hash is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return merkle.Node{}, fmt.Errorf("transaction hash must be 32 bytes, got %d", len(raw))
	}
	var n merkle.Node
	copy(n[:], raw)
	return n, nil
}
