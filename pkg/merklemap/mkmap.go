// Package merklemap implements the Merkelized Map (MKMap): a recursive,
// proof-composable authenticated dictionary from an ordered key to a
// sub-commitment that is itself either another MKMap, a plain Merkle
// tree, or a bare tree leaf.
package merklemap

import (
	"fmt"
	"sort"

	"github.com/cardano-stm/mithril-core/pkg/merkle"
)

// Value is anything that can sit behind an MKMap key: it must be able to
// fold itself down to a single tree leaf.
type Value interface {
	ComputeRoot() (merkle.Node, error)
}

// Pair is one (key, value) input to New.
type Pair struct {
	Key   Key
	Value Value
}

type entry struct {
	key   Key
	value Value
}

// MKMap is an ordered map of keys to sub-commitments, backed by an inner
// Merkle tree whose leaves are in 1:1 positional correspondence with the
// map's iteration order.
type MKMap struct {
	entries []entry
	tree    *merkle.MKTree
}

// New builds an MKMap from a set of pairs: it stable-sorts by key, then
// inserts via InsertUnchecked in ascending order. Duplicate keys are
// permitted in the input only if they all share the same value root.
func New(pairs []Pair) (*MKMap, error) {
	sorted := make([]Pair, len(pairs))
	copy(sorted, pairs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Key.Compare(sorted[j].Key) < 0
	})

	m := &MKMap{tree: mustEmptyTree()}
	for _, p := range sorted {
		if len(m.entries) > 0 {
			last := m.entries[len(m.entries)-1]
			if last.key.Compare(p.Key) == 0 {
				sameRoot, err := rootsEqual(last.value, p.Value)
				if err != nil {
					return nil, err
				}
				if !sameRoot {
					return nil, fmt.Errorf("MKMap values should be replaced by entry with same root")
				}
				continue
			}
		}
		if err := m.insertUnchecked(p.Key, p.Value); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func mustEmptyTree() *merkle.MKTree {
	t, _ := merkle.New(nil)
	return t
}

func rootsEqual(a, b Value) (bool, error) {
	ra, err := a.ComputeRoot()
	if err != nil {
		return false, err
	}
	rb, err := b.ComputeRoot()
	if err != nil {
		return false, err
	}
	return ra == rb, nil
}

// Insert enforces the monotone-key invariant: a new key must sort after
// every existing key, and replacing an existing key's value is only
// accepted when the new value has the same root.
func (m *MKMap) Insert(key Key, value Value) error {
	if idx, ok := m.find(key); ok {
		existing := m.entries[idx].value
		sameRoot, err := rootsEqual(existing, value)
		if err != nil {
			return err
		}
		if !sameRoot {
			return fmt.Errorf("MKMap values should be replaced by entry with same root")
		}
		m.entries[idx].value = value
		return nil
	}

	if len(m.entries) > 0 && key.Compare(m.entries[len(m.entries)-1].key) <= 0 {
		return fmt.Errorf("MKMap keys must be inserted in order")
	}
	return m.insertUnchecked(key, value)
}

// InsertUnchecked stores the pair and appends the folded leaf to the
// inner tree, without any ordering or replacement checks.
func (m *MKMap) insertUnchecked(key Key, value Value) error {
	root, err := value.ComputeRoot()
	if err != nil {
		return fmt.Errorf("computing value root: %w", err)
	}
	leaf := key.ToNode().Concat(root)
	if err := m.tree.Append(leaf); err != nil {
		return err
	}
	m.entries = append(m.entries, entry{key: key, value: value})
	return nil
}

// InsertUnchecked is the exported form of insertUnchecked, for callers
// (such as the transactions signable builder) that have already
// established ascending order themselves.
func (m *MKMap) InsertUnchecked(key Key, value Value) error {
	return m.insertUnchecked(key, value)
}

func (m *MKMap) find(key Key) (int, bool) {
	for i, e := range m.entries {
		if e.key.Compare(key) == 0 {
			return i, true
		}
	}
	return -1, false
}

// ComputeRoot satisfies Value: an MKMap's root is its inner tree's root.
func (m *MKMap) ComputeRoot() (merkle.Node, error) {
	return m.tree.ComputeRoot()
}

// Len returns the number of entries.
func (m *MKMap) Len() int { return len(m.entries) }

// Contains returns the first (key, value) whose subtree contains leaf,
// in iteration order.
func (m *MKMap) Contains(leaf merkle.Node) (Key, Value, bool) {
	for _, e := range m.entries {
		if valueContains(e.value, leaf) {
			return e.key, e.value, true
		}
	}
	return Key{}, nil, false
}

func valueContains(v Value, leaf merkle.Node) bool {
	if node, ok := v.(Node); ok {
		return node.Contains(leaf)
	}
	root, err := v.ComputeRoot()
	return err == nil && root == leaf
}
