package merklemap

import (
	"fmt"
	"sort"

	"github.com/cardano-stm/mithril-core/pkg/merkle"
)

// subProofEntry is one (key, sub-proof) pair inside an MKMapProof,
// ordered ascending by key.
type subProofEntry struct {
	Key   Key
	Proof subProof
}

// MKMapProof is a master proof over the composite leaves contributed by
// every owning key's sub-proof, plus those sub-proofs themselves.
type MKMapProof struct {
	master    *merkle.MKProof
	subProofs []subProofEntry
}

// ComputeProof partitions the requested leaves by owning key, recurses
// into every owning key whose value can produce a sub-proof (the Map and
// Tree variants of Node; a bare leaf value contributes nothing further
// since it has no structure to disclose beneath its own root), and
// builds the master proof over the composite leaves
// key ⊕ sub_proof.ComputeRoot() in ascending key order.
func (m *MKMap) ComputeProof(leaves []merkle.Node) (*MKMapProof, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("MKMap could not compute proof for empty leaves")
	}

	owned := make(map[int][]merkle.Node) // entry index -> leaves it owns
	for _, leaf := range leaves {
		found := false
		for i, e := range m.entries {
			if valueContains(e.value, leaf) {
				owned[i] = append(owned[i], leaf)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("mkmap: leaf %x not owned by any entry", leaf)
		}
	}

	indices := make([]int, 0, len(owned))
	for i := range owned {
		indices = append(indices, i)
	}
	sort.Slice(indices, func(i, j int) bool {
		return m.entries[indices[i]].key.Compare(m.entries[indices[j]].key) < 0
	})

	var subEntries []subProofEntry
	var masterLeaves []merkle.Node
	for _, i := range indices {
		e := m.entries[i]
		node, ok := e.value.(Node)
		if !ok {
			continue
		}
		sp, err := node.computeSubProof(owned[i])
		if err != nil {
			return nil, fmt.Errorf("sub-proof for key %x: %w", e.key.Bytes(), err)
		}
		if sp == nil {
			continue
		}
		root, err := sp.ComputeRoot()
		if err != nil {
			return nil, err
		}
		subEntries = append(subEntries, subProofEntry{Key: e.key, Proof: sp})
		masterLeaves = append(masterLeaves, e.key.ToNode().Concat(root))
	}

	if len(masterLeaves) == 0 {
		return nil, fmt.Errorf("mkmap: no sub-proof could be constructed for the requested leaves")
	}

	master, err := m.tree.ComputeProof(masterLeaves)
	if err != nil {
		return nil, fmt.Errorf("building master proof: %w", err)
	}

	return &MKMapProof{master: master, subProofs: subEntries}, nil
}

// ComputeRoot satisfies subProof: an MKMapProof's root is its master
// proof's root.
func (p *MKMapProof) ComputeRoot() (merkle.Node, error) {
	return p.master.Root(), nil
}

// Verify recursively verifies every sub-proof, verifies the master
// proof, and — when sub-proofs are present — checks that the master
// proof's certified leaves are exactly the composite set derived from
// the sub-proofs.
func (p *MKMapProof) Verify() bool {
	for _, se := range p.subProofs {
		if !se.Proof.Verify() {
			return false
		}
	}
	if !p.master.Verify() {
		return false
	}
	if len(p.subProofs) == 0 {
		return true
	}

	expected := make(map[merkle.Node]bool, len(p.subProofs))
	for _, se := range p.subProofs {
		root, err := se.Proof.ComputeRoot()
		if err != nil {
			return false
		}
		expected[se.Key.ToNode().Concat(root)] = true
	}
	certified := p.master.Leaves()
	if len(certified) != len(expected) {
		return false
	}
	for _, leaf := range certified {
		if !expected[leaf] {
			return false
		}
	}
	return true
}

// Contains reports whether the proof certifies leaf: either the master
// proof directly certifies it, or some sub-proof recursively does.
func (p *MKMapProof) Contains(leaf merkle.Node) bool {
	if p.master.Contains(leaf) {
		return true
	}
	for _, se := range p.subProofs {
		if se.Proof.Contains(leaf) {
			return true
		}
	}
	return false
}
