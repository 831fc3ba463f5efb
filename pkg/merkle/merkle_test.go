package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func leaf(b byte) Node {
	var n Node
	n[0] = b
	return n
}

func TestComputeRoot_Deterministic(t *testing.T) {
	leaves := []Node{leaf(1), leaf(2), leaf(3), leaf(4), leaf(5)}

	t1, err := New(leaves)
	require.NoError(t, err)
	t2, err := New(leaves)
	require.NoError(t, err)

	r1, err := t1.ComputeRoot()
	require.NoError(t, err)
	r2, err := t2.ComputeRoot()
	require.NoError(t, err)

	require.Equal(t, r1, r2)
}

func TestComputeRoot_EmptyTree(t *testing.T) {
	tr, err := New(nil)
	require.NoError(t, err)
	_, err = tr.ComputeRoot()
	require.Error(t, err)
}

func TestProof_VerifiesMembership(t *testing.T) {
	leaves := []Node{leaf(1), leaf(2), leaf(3), leaf(4), leaf(5), leaf(6), leaf(7)}
	tr, err := New(leaves)
	require.NoError(t, err)

	proof, err := tr.ComputeProof([]Node{leaf(2), leaf(6)})
	require.NoError(t, err)

	root, err := tr.ComputeRoot()
	require.NoError(t, err)
	require.Equal(t, root, proof.Root())
	require.True(t, proof.Verify())
	require.True(t, proof.Contains(leaf(2)))
	require.True(t, proof.Contains(leaf(6)))
	require.False(t, proof.Contains(leaf(3)))
}

func TestProof_EmptyLeavesRejected(t *testing.T) {
	tr, err := New([]Node{leaf(1)})
	require.NoError(t, err)
	_, err = tr.ComputeProof(nil)
	require.Error(t, err)
}

func TestProof_MissingLeafRejected(t *testing.T) {
	tr, err := New([]Node{leaf(1), leaf(2)})
	require.NoError(t, err)
	_, err = tr.ComputeProof([]Node{leaf(9)})
	require.Error(t, err)
}

func TestAppend_ChangesRoot(t *testing.T) {
	tr, err := New([]Node{leaf(1)})
	require.NoError(t, err)
	r1, _ := tr.ComputeRoot()

	require.NoError(t, tr.Append(leaf(2)))
	r2, _ := tr.ComputeRoot()

	require.NotEqual(t, r1, r2)
	require.True(t, tr.Contains(leaf(1)))
	require.True(t, tr.Contains(leaf(2)))
}
