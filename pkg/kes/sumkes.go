// Package kes implements a Sum-composition Key Evolving Signature scheme
// (the "Sum6" variant): a binary tree of Ed25519 keys, 6 levels deep, so
// a signing key evolves through 64 discrete periods and old periods can
// never be re-signed once evolved past.
package kes

import (
	"crypto/ed25519"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// SumDepth is the depth of the Sum composition used throughout this
// package: 2^SumDepth periods.
const SumDepth = 6

// TotalPeriods is the number of periods a Sum6 key can sign across:
// [0, TotalPeriods).
const TotalPeriods = 1 << SumDepth

// VerificationKey is a 32-byte KES verification key. At depth 0 it is a
// raw Ed25519 public key; at every level above that it is
// Blake2b-256(left_vk || right_vk).
type VerificationKey [32]byte

// Signature is a Sum-KES signature: a leaf Ed25519 signature wrapped, at
// each level on the way up, with the two children verification keys so
// the whole thing verifies without any external state.
type Signature struct {
	depth    int
	leafSig  []byte
	child    *Signature
	vkLeft   VerificationKey
	vkRight  VerificationKey
}

// SigningKey is a Sum-KES signing key positioned at some period. Moving
// to the next period is one-directional: Update discards whatever let it
// sign the current period.
type SigningKey struct {
	depth int

	base ed25519.PrivateKey // valid when depth == 0

	activeLeft  bool
	child       *SigningKey
	childVK     VerificationKey
	siblingSeed []byte // nil once the sibling subtree has been derived and consumed
	siblingVK   VerificationKey
}

func expandSeed(seed []byte) (left, right []byte) {
	l := blake2b.Sum256(append([]byte("mithril-kes-left:"), seed...))
	r := blake2b.Sum256(append([]byte("mithril-kes-right:"), seed...))
	return l[:], r[:]
}

// Keygen derives a depth-level signing key and its verification key from
// a seed, deterministically.
func Keygen(seed []byte, depth int) (*SigningKey, VerificationKey, error) {
	if depth < 0 {
		return nil, VerificationKey{}, fmt.Errorf("kes: negative depth")
	}
	if depth == 0 {
		if len(seed) < ed25519.SeedSize {
			return nil, VerificationKey{}, fmt.Errorf("kes: seed must be at least %d bytes", ed25519.SeedSize)
		}
		sk := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
		var vk VerificationKey
		copy(vk[:], sk.Public().(ed25519.PublicKey))
		return &SigningKey{depth: 0, base: sk}, vk, nil
	}

	seedL, seedR := expandSeed(seed)
	childL, vkL, err := Keygen(seedL, depth-1)
	if err != nil {
		return nil, VerificationKey{}, err
	}
	_, vkR, err := Keygen(seedR, depth-1)
	if err != nil {
		return nil, VerificationKey{}, err
	}

	sk := &SigningKey{
		depth:       depth,
		activeLeft:  true,
		child:       childL,
		childVK:     vkL,
		siblingSeed: seedR,
		siblingVK:   vkR,
	}
	return sk, hashVKPair(vkL, vkR), nil
}

func hashVKPair(left, right VerificationKey) VerificationKey {
	data := make([]byte, 64)
	copy(data[0:32], left[:])
	copy(data[32:64], right[:])
	return blake2b.Sum256(data)
}

// CurrentPeriod returns the global period this key can currently sign
// for.
func (sk *SigningKey) CurrentPeriod() int {
	if sk.depth == 0 {
		return 0
	}
	half := 1 << (sk.depth - 1)
	if sk.activeLeft {
		return sk.child.CurrentPeriod()
	}
	return half + sk.child.CurrentPeriod()
}

// Update evolves the key forward by exactly one period, discarding the
// secret state that let it sign the period it just left.
func (sk *SigningKey) Update() error {
	if sk.depth == 0 {
		return fmt.Errorf("kes: key exhausted, no further periods")
	}
	half := 1 << (sk.depth - 1)
	cur := sk.CurrentPeriod()

	if sk.activeLeft {
		if cur+1 < half {
			return sk.child.Update()
		}
		childR, vkR, err := Keygen(sk.siblingSeed, sk.depth-1)
		if err != nil {
			return fmt.Errorf("kes: deriving right subtree: %w", err)
		}
		if vkR != sk.siblingVK {
			return fmt.Errorf("kes: derived sibling verification key mismatch")
		}
		sk.activeLeft = false
		sk.child = childR
		sk.childVK = vkR
		sk.siblingSeed = nil
		return nil
	}

	if cur+1 >= 2*half {
		return fmt.Errorf("kes: key exhausted, no further periods")
	}
	return sk.child.Update()
}

// Sign produces a signature over msg at the given global period. The key
// must currently be positioned at exactly that period.
func Sign(sk *SigningKey, period int, msg []byte) (*Signature, error) {
	if sk.depth == 0 {
		if period != 0 {
			return nil, fmt.Errorf("kes: period %d out of range for leaf key", period)
		}
		return &Signature{depth: 0, leafSig: ed25519.Sign(sk.base, msg)}, nil
	}

	half := 1 << (sk.depth - 1)
	if sk.activeLeft {
		if period >= half {
			return nil, fmt.Errorf("kes: period %d not reachable, key has not evolved that far", period)
		}
		childSig, err := Sign(sk.child, period, msg)
		if err != nil {
			return nil, err
		}
		return &Signature{depth: sk.depth, child: childSig, vkLeft: sk.childVK, vkRight: sk.siblingVK}, nil
	}

	if period < half {
		return nil, fmt.Errorf("kes: period %d has already been evolved past", period)
	}
	childSig, err := Sign(sk.child, period-half, msg)
	if err != nil {
		return nil, err
	}
	return &Signature{depth: sk.depth, child: childSig, vkLeft: sk.siblingVK, vkRight: sk.childVK}, nil
}

// Verify checks a signature over msg at the given global period under
// vk. It needs nothing beyond sig, vk, period and msg.
func Verify(vk VerificationKey, period int, msg []byte, sig *Signature) error {
	if sig.depth == 0 {
		if period != 0 {
			return fmt.Errorf("kes: period %d out of range for leaf signature", period)
		}
		if !ed25519.Verify(ed25519.PublicKey(vk[:]), msg, sig.leafSig) {
			return ErrKesSignatureInvalid
		}
		return nil
	}

	computed := hashVKPair(sig.vkLeft, sig.vkRight)
	if computed != vk {
		return ErrKesSignatureInvalid
	}

	half := 1 << (sig.depth - 1)
	if period < half {
		return Verify(sig.vkLeft, period, msg, sig.child)
	}
	return Verify(sig.vkRight, period-half, msg, sig.child)
}
