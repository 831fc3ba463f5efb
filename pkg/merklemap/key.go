package merklemap

import (
	"bytes"
	"encoding/binary"

	"github.com/cardano-stm/mithril-core/pkg/merkle"
	"golang.org/x/crypto/blake2b"
)

// Key is an ordered, hashable map key: plain bytes compared
// lexicographically and folded down to a tree leaf with Blake2b-256.
// Both the BlockRange keys used by the transactions builder and the
// synthetic keys used in recursive-composition tests satisfy this by
// going through one of the constructors below.
type Key struct {
	bytes []byte
}

// NewKey wraps raw bytes as a map key.
func NewKey(b []byte) Key {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Key{bytes: cp}
}

// NewKeyFromUint64 encodes an unsigned integer big-endian, preserving
// numeric ordering under byte comparison.
func NewKeyFromUint64(v uint64) Key {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return Key{bytes: b}
}

// Bytes returns the key's raw bytes.
func (k Key) Bytes() []byte { return k.bytes }

// Compare orders keys lexicographically.
func (k Key) Compare(other Key) int {
	return bytes.Compare(k.bytes, other.bytes)
}

// ToNode folds the key down to a tree leaf.
func (k Key) ToNode() merkle.Node {
	return blake2b.Sum256(k.bytes)
}
