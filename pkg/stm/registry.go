package stm

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cardano-stm/mithril-core/pkg/entities"
	"github.com/cardano-stm/mithril-core/pkg/merkle"
)

// ErrDuplicateKey is returned when a party id is registered twice in
// the same open registry.
var ErrDuplicateKey = fmt.Errorf("stm: party already registered")

// ErrUnknownParty is returned when an operation references a party id
// the registry never saw.
var ErrUnknownParty = fmt.Errorf("stm: unknown party")

type partyRecord struct {
	PartyID entities.ProtocolPartyId
	Stake   entities.Stake
	VK      VerificationKeyWithPoP
}

// KeyReg is the open, mutable key registry a registration round appends
// to. It provides no proofs; only Close() does.
type KeyReg struct {
	records map[entities.ProtocolPartyId]partyRecord
	order   []entities.ProtocolPartyId
}

// NewKeyReg returns an empty open registry.
func NewKeyReg() *KeyReg {
	return &KeyReg{records: make(map[entities.ProtocolPartyId]partyRecord)}
}

// Register appends (stake, vk_with_pop) under partyID. It is the single
// collaborator call the registrar delegates to after all of its own
// checks (opcert, KES signature, PoP) have passed.
func (k *KeyReg) Register(partyID entities.ProtocolPartyId, stake entities.Stake, vk VerificationKeyWithPoP) error {
	if _, exists := k.records[partyID]; exists {
		return ErrDuplicateKey
	}
	if err := vk.Verify(); err != nil {
		return fmt.Errorf("stm: registering %s: %w", partyID, err)
	}
	k.records[partyID] = partyRecord{PartyID: partyID, Stake: stake, VK: vk}
	k.order = append(k.order, partyID)
	return nil
}

// Close finalizes the registry: parties are ordered deterministically
// by party id, and a Merkle commitment is built over their (party id,
// stake, vk) leaves.
func (k *KeyReg) Close() (*ClosedKeyReg, error) {
	if len(k.records) == 0 {
		return nil, fmt.Errorf("stm: cannot close an empty registry")
	}
	ids := make([]entities.ProtocolPartyId, 0, len(k.records))
	for id := range k.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	records := make([]partyRecord, len(ids))
	leaves := make([]merkle.Node, len(ids))
	for i, id := range ids {
		records[i] = k.records[id]
		leaves[i] = recordLeaf(records[i])
	}

	tree, err := merkle.New(leaves)
	if err != nil {
		return nil, fmt.Errorf("stm: computing aggregate verification key: %w", err)
	}
	root, err := tree.ComputeRoot()
	if err != nil {
		return nil, fmt.Errorf("stm: computing aggregate verification key: %w", err)
	}

	return &ClosedKeyReg{records: records, tree: tree, avk: AggregateVerificationKey(root)}, nil
}

func recordLeaf(r partyRecord) merkle.Node {
	buf := make([]byte, 0, len(r.PartyID)+8+vkLen+popLen)
	buf = append(buf, []byte(r.PartyID)...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Stake))
	buf = append(buf, r.VK.VK[:]...)
	buf = append(buf, r.VK.PoP[:]...)
	return blake2bNode(buf)
}

// AggregateVerificationKey is the Merkle root over a closed registry's
// records: a deterministic function of which parties registered, with
// what stake and verification keys.
type AggregateVerificationKey merkle.Node

// ClosedKeyReg is the immutable, closed registry: records plus their
// Merkle commitment. Aggregate signatures carry membership proofs
// against this tree's root.
type ClosedKeyReg struct {
	records []partyRecord
	tree    *merkle.MKTree
	avk     AggregateVerificationKey
}

// ComputeAVK returns the registry's aggregate verification key.
func (c *ClosedKeyReg) ComputeAVK() AggregateVerificationKey {
	return c.avk
}

// TotalStake sums the stake of every registered party.
func (c *ClosedKeyReg) TotalStake() entities.Stake {
	var total entities.Stake
	for _, r := range c.records {
		total += r.Stake
	}
	return total
}

func (c *ClosedKeyReg) find(partyID entities.ProtocolPartyId) (partyRecord, int, error) {
	for i, r := range c.records {
		if r.PartyID == partyID {
			return r, i, nil
		}
	}
	return partyRecord{}, -1, ErrUnknownParty
}

// ProveMembership builds a Merkle proof that partyID's record belongs
// to this closed registry.
func (c *ClosedKeyReg) ProveMembership(partyID entities.ProtocolPartyId) (*merkle.MKProof, error) {
	record, _, err := c.find(partyID)
	if err != nil {
		return nil, err
	}
	return c.tree.ComputeProof([]merkle.Node{recordLeaf(record)})
}
