package merklemap

import (
	"fmt"

	"github.com/cardano-stm/mithril-core/pkg/merkle"
)

// kind discriminates the three arms of Node.
type kind int

const (
	kindMap kind = iota
	kindTree
	kindLeaf
)

// Node is the tagged union MKMapNode: a Map, a Tree, or a bare TreeNode
// (a leaf hash), shared by reference so the same sub-structure can be
// composed under several outer maps. Once sealed into a parent it must
// be treated as read-only.
type Node struct {
	kind kind
	m    *MKMap
	t    *merkle.MKTree
	leaf merkle.Node
}

// NewMapNode wraps an MKMap as a Node.
func NewMapNode(m *MKMap) Node { return Node{kind: kindMap, m: m} }

// NewTreeNode wraps an MKTree as a Node.
func NewTreeNode(t *merkle.MKTree) Node { return Node{kind: kindTree, t: t} }

// NewLeafNode wraps a bare hash as a Node with no internal structure to
// recurse into.
func NewLeafNode(leaf merkle.Node) Node { return Node{kind: kindLeaf, leaf: leaf} }

// ComputeRoot satisfies Value.
func (n Node) ComputeRoot() (merkle.Node, error) {
	switch n.kind {
	case kindMap:
		return n.m.ComputeRoot()
	case kindTree:
		return n.t.ComputeRoot()
	case kindLeaf:
		return n.leaf, nil
	default:
		return merkle.Node{}, fmt.Errorf("mkmapnode: unknown kind")
	}
}

// Contains reports membership within this node's own substructure: for a
// Map or Tree variant it recurses, for a bare leaf it is an equality
// check against the leaf itself.
func (n Node) Contains(leaf merkle.Node) bool {
	switch n.kind {
	case kindMap:
		_, _, ok := n.m.Contains(leaf)
		return ok
	case kindTree:
		return n.t.Contains(leaf)
	case kindLeaf:
		return n.leaf == leaf
	default:
		return false
	}
}

// subProof is satisfied by both *merkle.MKProof (wrapped) and
// *MKMapProof, letting the master proof treat a recursed sub-commitment
// uniformly regardless of whether it bottomed out at a plain tree or
// another map.
type subProof interface {
	ComputeRoot() (merkle.Node, error)
	Verify() bool
	Contains(leaf merkle.Node) bool
}

type treeProofAdapter struct{ p *merkle.MKProof }

func (a treeProofAdapter) ComputeRoot() (merkle.Node, error) { return a.p.Root(), nil }
func (a treeProofAdapter) Verify() bool                      { return a.p.Verify() }
func (a treeProofAdapter) Contains(leaf merkle.Node) bool     { return a.p.Contains(leaf) }

// computeSubProof produces a recursive proof for the given leaves within
// this node, or (nil, nil) for a bare leaf node, which carries no
// internal structure and so contributes no sub-proof.
func (n Node) computeSubProof(leaves []merkle.Node) (subProof, error) {
	switch n.kind {
	case kindMap:
		p, err := n.m.ComputeProof(leaves)
		if err != nil {
			return nil, err
		}
		return p, nil
	case kindTree:
		p, err := n.t.ComputeProof(leaves)
		if err != nil {
			return nil, err
		}
		return treeProofAdapter{p: p}, nil
	case kindLeaf:
		return nil, nil
	default:
		return nil, fmt.Errorf("mkmapnode: unknown kind")
	}
}
