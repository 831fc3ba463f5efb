package merklemap

import (
	"testing"

	"github.com/cardano-stm/mithril-core/pkg/merkle"
	"github.com/stretchr/testify/require"
)

func leafVal(b byte) Node {
	var n merkle.Node
	n[0] = b
	return NewLeafNode(n)
}

func TestComputeRoot_ConsistentAcrossBuilds(t *testing.T) {
	pairs := []Pair{
		{Key: NewKeyFromUint64(1), Value: leafVal(1)},
		{Key: NewKeyFromUint64(2), Value: leafVal(2)},
		{Key: NewKeyFromUint64(3), Value: leafVal(3)},
	}
	m1, err := New(pairs)
	require.NoError(t, err)
	m2, err := New(pairs)
	require.NoError(t, err)

	r1, err := m1.ComputeRoot()
	require.NoError(t, err)
	r2, err := m2.ComputeRoot()
	require.NoError(t, err)
	require.Equal(t, r1, r2)
}

func TestInsert_MonotoneKeyEnforced(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, m.Insert(NewKeyFromUint64(5), leafVal(1)))
	require.NoError(t, m.Insert(NewKeyFromUint64(10), leafVal(2)))

	err = m.Insert(NewKeyFromUint64(3), leafVal(3))
	require.ErrorContains(t, err, "MKMap keys must be inserted in order")
}

func TestInsert_ReplacementRules(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, m.Insert(NewKeyFromUint64(1), leafVal(7)))

	require.NoError(t, m.Insert(NewKeyFromUint64(1), leafVal(7)))

	err = m.Insert(NewKeyFromUint64(1), leafVal(8))
	require.ErrorContains(t, err, "MKMap values should be replaced by entry with same root")
}

func TestComputeProof_EmptyLeavesRejected(t *testing.T) {
	m, err := New([]Pair{{Key: NewKeyFromUint64(1), Value: leafVal(1)}})
	require.NoError(t, err)
	_, err = m.ComputeProof(nil)
	require.ErrorContains(t, err, "MKMap could not compute proof for empty leaves")
}

func TestComputeProof_RecursiveTwoLevel(t *testing.T) {
	innerLeaves := []merkle.Node{}
	for i := byte(0); i < 4; i++ {
		var n merkle.Node
		n[0] = i + 1
		innerLeaves = append(innerLeaves, n)
	}
	innerTree, err := merkle.New(innerLeaves)
	require.NoError(t, err)

	outer, err := New([]Pair{
		{Key: NewKeyFromUint64(0), Value: NewTreeNode(innerTree)},
		{Key: NewKeyFromUint64(1), Value: leafVal(99)},
	})
	require.NoError(t, err)

	proof, err := outer.ComputeProof([]merkle.Node{innerLeaves[1], innerLeaves[3]})
	require.NoError(t, err)

	root, err := outer.ComputeRoot()
	require.NoError(t, err)
	proofRoot, err := proof.ComputeRoot()
	require.NoError(t, err)

	require.Equal(t, root, proofRoot)
	require.True(t, proof.Verify())
	require.True(t, proof.Contains(innerLeaves[1]))
	require.True(t, proof.Contains(innerLeaves[3]))
}

func TestTreeNodeAndTreeEquivalence(t *testing.T) {
	var leaves []merkle.Node
	for i := 0; i < 10; i++ {
		var n merkle.Node
		n[0] = byte(i)
		leaves = append(leaves, n)
	}
	tr, err := merkle.New(leaves)
	require.NoError(t, err)
	root, err := tr.ComputeRoot()
	require.NoError(t, err)

	mapWithTree, err := New([]Pair{{Key: NewKeyFromUint64(0), Value: NewTreeNode(tr)}})
	require.NoError(t, err)
	mapWithLeaf, err := New([]Pair{{Key: NewKeyFromUint64(0), Value: NewLeafNode(root)}})
	require.NoError(t, err)

	r1, err := mapWithTree.ComputeRoot()
	require.NoError(t, err)
	r2, err := mapWithLeaf.ComputeRoot()
	require.NoError(t, err)
	require.Equal(t, r1, r2)
}
