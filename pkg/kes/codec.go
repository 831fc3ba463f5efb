package kes

import "fmt"

// sigSize returns the fixed wire size of a Sum-KES signature at the
// given depth: 64 bytes per internal level (left vk || right vk) plus
// the 64-byte leaf Ed25519 signature.
func sigSize(depth int) int {
	return depth*64 + 64
}

// MarshalBinary serializes the signature top-down: for each level from
// the root to the leaf, vk_left (32) || vk_right (32), followed by the
// 64-byte leaf signature. The depth is not encoded; callers on a fixed
// scheme such as Sum6 already know it.
func (s *Signature) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, sigSize(s.depth))
	node := s
	for node.depth > 0 {
		buf = append(buf, node.vkLeft[:]...)
		buf = append(buf, node.vkRight[:]...)
		node = node.child
	}
	buf = append(buf, node.leafSig...)
	return buf, nil
}

// UnmarshalSignature parses a fixed-depth Sum-KES signature previously
// produced by MarshalBinary.
func UnmarshalSignature(data []byte, depth int) (*Signature, error) {
	if len(data) != sigSize(depth) {
		return nil, fmt.Errorf("kes: signature must be %d bytes for depth %d, got %d", sigSize(depth), depth, len(data))
	}

	type level struct {
		left, right VerificationKey
	}
	levels := make([]level, depth)
	off := 0
	for i := 0; i < depth; i++ {
		var l level
		copy(l.left[:], data[off:off+32])
		off += 32
		copy(l.right[:], data[off:off+32])
		off += 32
		levels[i] = l
	}
	leafSig := append([]byte(nil), data[off:off+64]...)

	sig := &Signature{depth: 0, leafSig: leafSig}
	for i := depth - 1; i >= 0; i-- {
		sig = &Signature{depth: depth - i, child: sig, vkLeft: levels[i].left, vkRight: levels[i].right}
	}
	return sig, nil
}
