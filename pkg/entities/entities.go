// Package entities holds the plain data types shared across the signer
// core: epochs, beacons, stake distributions, block ranges and Cardano
// transactions. Nothing here carries behavior beyond simple ordering and
// validation helpers.
package entities

import (
	"crypto/sha256"
	"fmt"
)

// Epoch is a monotonic, unsigned protocol epoch counter.
type Epoch uint64

// Stake is an amount of delegated stake, in lovelace.
type Stake uint64

// ProtocolPartyId is a bech32-encoded pool identifier (HRP "pool").
type ProtocolPartyId string

// Beacon pins a point in the chain's progress: a network name, the epoch,
// and the immutable file number within that epoch.
type Beacon struct {
	Network             string `json:"network"`
	Epoch               Epoch  `json:"epoch"`
	ImmutableFileNumber uint64 `json:"immutableFileNumber"`
}

// Compare orders beacons lexicographically by (epoch, immutable file
// number). It returns -1, 0 or 1 the way bytes.Compare does.
func (b Beacon) Compare(other Beacon) int {
	if b.Epoch != other.Epoch {
		if b.Epoch < other.Epoch {
			return -1
		}
		return 1
	}
	if b.ImmutableFileNumber != other.ImmutableFileNumber {
		if b.ImmutableFileNumber < other.ImmutableFileNumber {
			return -1
		}
		return 1
	}
	return 0
}

// EpochEqual reports whether two beacons fall in the same epoch,
// regardless of immutable file number.
func (b Beacon) EpochEqual(other Beacon) bool {
	return b.Epoch == other.Epoch
}

// Equal reports whether two beacons are identical in every field.
func (b Beacon) Equal(other Beacon) bool {
	return b.Compare(other) == 0 && b.Network == other.Network
}

func (b Beacon) String() string {
	return fmt.Sprintf("%s/%d/%d", b.Network, b.Epoch, b.ImmutableFileNumber)
}

// StakeDistribution maps a pool's protocol party id to its stake for one
// epoch. The domain is closed per epoch: once handed to the registrar it
// is never mutated.
type StakeDistribution map[ProtocolPartyId]Stake

// TotalStake sums every entry in the distribution.
func (d StakeDistribution) TotalStake() Stake {
	var total Stake
	for _, s := range d {
		total += s
	}
	return total
}

// BlockRangeLength is the fixed bucket width transactions are grouped
// into before being committed. Changing this value changes every
// previously-computed Cardano transactions Merkle root, so it must never
// be tuned per-network; it is a protocol constant.
const BlockRangeLength = 15

// BlockRange is a half-open [Start, End) interval over block numbers,
// always exactly BlockRangeLength wide.
type BlockRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// BlockRangeForBlockNumber buckets a block number into its owning range.
func BlockRangeForBlockNumber(blockNumber uint64) BlockRange {
	start := (blockNumber / BlockRangeLength) * BlockRangeLength
	return BlockRange{Start: start, End: start + BlockRangeLength}
}

// Compare orders block ranges by start.
func (r BlockRange) Compare(other BlockRange) int {
	switch {
	case r.Start < other.Start:
		return -1
	case r.Start > other.Start:
		return 1
	default:
		return 0
	}
}

func (r BlockRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// CardanoTransaction is a single on-chain transaction as observed by the
// node. Only TransactionHash (leaf material) and BlockNumber (bucketing
// key) are meaningful to the core; the remaining fields are carried
// opaquely for the out-of-scope transaction store.
type CardanoTransaction struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     uint64 `json:"blockNumber"`
	BlockHash       string `json:"blockHash"`
	SlotNumber      uint64 `json:"slotNumber"`
}

// ProtocolMessagePartKey enumerates the recognized parts of a protocol
// message.
type ProtocolMessagePartKey string

const (
	PartSnapshotDigest                 ProtocolMessagePartKey = "snapshot_digest"
	PartNextAggregateVerificationKey   ProtocolMessagePartKey = "next_aggregate_verification_key"
	PartCardanoTransactionsMerkleRoot  ProtocolMessagePartKey = "cardano_transactions_merkle_root"
	PartLatestImmutableFileNumber      ProtocolMessagePartKey = "latest_immutable_file_number"
)

// ProtocolMessage is an ordered map from part key to string value. Order
// of insertion is preserved so that serialization, and therefore
// ComputeHash, is deterministic.
type ProtocolMessage struct {
	keys   []ProtocolMessagePartKey
	values map[ProtocolMessagePartKey]string
}

// NewProtocolMessage returns an empty protocol message ready for parts to
// be set on it.
func NewProtocolMessage() *ProtocolMessage {
	return &ProtocolMessage{values: make(map[ProtocolMessagePartKey]string)}
}

// SetPart sets (or replaces, in place) the value for a part key.
func (m *ProtocolMessage) SetPart(key ProtocolMessagePartKey, value string) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// GetPart returns the value for a part key and whether it was present.
func (m *ProtocolMessage) GetPart(key ProtocolMessagePartKey) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Parts returns the parts in insertion order.
func (m *ProtocolMessage) Parts() []ProtocolMessagePartKey {
	out := make([]ProtocolMessagePartKey, len(m.keys))
	copy(out, m.keys)
	return out
}

// ComputeHash is the canonical hash an STM single signature is produced
// over: SHA256 of the parts serialized in insertion order as
// "key=value;". Two protocol messages with identical serialized parts
// always hash identically, and vice versa, per the wire contract in
// spec §6.
func (m *ProtocolMessage) ComputeHash() []byte {
	h := sha256.New()
	for _, k := range m.keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(m.values[k]))
		h.Write([]byte{';'})
	}
	return h.Sum(nil)
}
