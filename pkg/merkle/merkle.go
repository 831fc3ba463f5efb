// Package merkle implements the append-only Merkle hash tree (MKTree)
// that underlies both transaction commitments and the leaves of a
// Merkelized Map.
package merkle

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Node is a fixed-size hash word (MKTreeNode). Concatenation of two nodes
// for hashing is plain left-right byte concatenation; it is NOT
// commutative, the order is significant.
type Node [32]byte

// Bytes returns the node's bytes.
func (n Node) Bytes() []byte { return n[:] }

// Concat returns the MKTreeNode formed by left-right byte concatenation
// of n and other, as used when an MKMap folds a key and a value root into
// one tree leaf. This is a page-hash, not raw concatenation: it hashes
// the 64 concatenated bytes down to 32 with Blake2b-256, matching the
// tree's own page hash so a folded leaf is itself a valid MKTreeNode.
func (n Node) Concat(other Node) Node {
	return hashPair(n, other)
}

// hashPair computes blake2b-256(left || right), the page hash used at
// every internal node of the tree.
func hashPair(left, right Node) Node {
	data := make([]byte, 64)
	copy(data[0:32], left[:])
	copy(data[32:64], right[:])
	return blake2b.Sum256(data)
}

// MKTree is an append-only hash tree over an ordered sequence of leaves.
type MKTree struct {
	leaves []Node
	levels [][]Node
}

// New builds a tree over the given leaves, in order.
func New(leaves []Node) (*MKTree, error) {
	t := &MKTree{}
	if len(leaves) > 0 {
		if err := t.Append(leaves...); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Append extends the ordered leaf sequence and recomputes the tree
// levels. Construction is synchronous and CPU-bound; there is no
// suspension point here.
func (t *MKTree) Append(leaves ...Node) error {
	t.leaves = append(t.leaves, leaves...)
	t.rebuild()
	return nil
}

func (t *MKTree) rebuild() {
	if len(t.leaves) == 0 {
		t.levels = nil
		return
	}
	levels := make([][]Node, 0)
	current := append([]Node(nil), t.leaves...)
	levels = append(levels, current)
	for len(current) > 1 {
		next := make([]Node, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			left := current[i]
			right := left
			if i+1 < len(current) {
				right = current[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		levels = append(levels, next)
		current = next
	}
	t.levels = levels
}

// Leaves returns the tree's current leaves, in insertion order.
func (t *MKTree) Leaves() []Node {
	out := make([]Node, len(t.leaves))
	copy(out, t.leaves)
	return out
}

// ComputeRoot returns the tree's current root. Requires at least one
// leaf; an empty tree has no defined root.
func (t *MKTree) ComputeRoot() (Node, error) {
	if len(t.levels) == 0 {
		return Node{}, fmt.Errorf("mktree: cannot compute root of empty tree")
	}
	top := t.levels[len(t.levels)-1]
	return top[0], nil
}

// Contains reports whether leaf is present among the tree's leaves.
func (t *MKTree) Contains(leaf Node) bool {
	for _, l := range t.leaves {
		if l == leaf {
			return true
		}
	}
	return false
}

// leafProof is one selectively-disclosed leaf within an MKProof: its
// value, its index at construction time, and the sibling hashes needed
// to walk it back up to the root.
type leafProof struct {
	Leaf     Node
	Index    int
	Siblings []Node
}

// MKProof is a self-contained membership proof for one or more leaves
// against a single root: verification needs nothing beyond the proof's
// own bytes.
type MKProof struct {
	root    Node
	entries []leafProof
}

// Root returns the root the proof certifies.
func (p *MKProof) Root() Node { return p.root }

// Leaves returns the leaves the proof certifies, in the order requested
// at construction.
func (p *MKProof) Leaves() []Node {
	out := make([]Node, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.Leaf
	}
	return out
}

// ComputeProof produces a proof for the given leaves. The tree must
// contain every one of them.
func (t *MKTree) ComputeProof(leaves []Node) (*MKProof, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("mktree: cannot compute proof for empty leaves")
	}
	if len(t.levels) == 0 {
		return nil, fmt.Errorf("mktree: cannot compute proof over empty tree")
	}

	entries := make([]leafProof, 0, len(leaves))
	for _, leaf := range leaves {
		idx := indexOf(t.leaves, leaf)
		if idx < 0 {
			return nil, fmt.Errorf("mktree: leaf %x not found in tree", leaf)
		}
		siblings := make([]Node, 0, len(t.levels)-1)
		cursor := idx
		for level := 0; level < len(t.levels)-1; level++ {
			current := t.levels[level]
			siblingIdx := cursor + 1
			if cursor%2 != 0 {
				siblingIdx = cursor - 1
			}
			if siblingIdx >= len(current) {
				siblingIdx = cursor
			}
			siblings = append(siblings, current[siblingIdx])
			cursor /= 2
		}
		entries = append(entries, leafProof{Leaf: leaf, Index: idx, Siblings: siblings})
	}

	root, _ := t.ComputeRoot()
	return &MKProof{root: root, entries: entries}, nil
}

func indexOf(haystack []Node, needle Node) int {
	for i, n := range haystack {
		if n == needle {
			return i
		}
	}
	return -1
}

// Verify recomputes the root from each entry's sibling path and checks
// every entry's recomputed root matches the proof's stated root.
func (p *MKProof) Verify() bool {
	if len(p.entries) == 0 {
		return false
	}
	for _, e := range p.entries {
		cur := e.Leaf
		idx := e.Index
		for _, sib := range e.Siblings {
			if idx%2 == 0 {
				cur = hashPair(cur, sib)
			} else {
				cur = hashPair(sib, cur)
			}
			idx /= 2
		}
		if cur != p.root {
			return false
		}
	}
	return true
}

// Contains reports whether the proof certifies the given leaf.
func (p *MKProof) Contains(leaf Node) bool {
	for _, e := range p.entries {
		if e.Leaf == leaf {
			return true
		}
	}
	return false
}
