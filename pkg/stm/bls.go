// Package stm wraps a BLS12-381-based Stake-based Threshold
// multi-signature scheme: initializer setup, key registration, single
// signing, and aggregation/verification against a closed registry's
// aggregate verification key.
//
// No ready-made Go Mithril STM library exists among the project's
// dependencies, so this package builds the scheme directly atop
// consensys/gnark-crypto's BLS12-381 curve implementation, in the spirit
// of the upstream Rust mithril-stm crate.
package stm

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

var blsDST = []byte("mithril-core-stm-bls12381-sig")

var g1Gen, g2Gen = func() (bls12381.G1Affine, bls12381.G2Affine) {
	_, _, g1, g2 := bls12381.Generators()
	return g1, g2
}()

func randomScalar(rng io.Reader) (fr.Element, error) {
	if rng == nil {
		rng = rand.Reader
	}
	var buf [64]byte
	if _, err := io.ReadFull(rng, buf[:]); err != nil {
		return fr.Element{}, fmt.Errorf("stm: drawing randomness: %w", err)
	}
	var e fr.Element
	e.SetBytes(buf[:])
	return e, nil
}

func scalarToBigInt(e fr.Element) *big.Int {
	var out big.Int
	e.BigInt(&out)
	return &out
}

func hashToG1(msg []byte) (bls12381.G1Affine, error) {
	return bls12381.HashToG1(msg, blsDST)
}

// blsSign returns sk * H(msg) in G1.
func blsSign(sk fr.Element, msg []byte) (bls12381.G1Affine, error) {
	h, err := hashToG1(msg)
	if err != nil {
		return bls12381.G1Affine{}, fmt.Errorf("stm: hashing message to curve: %w", err)
	}
	var sig bls12381.G1Affine
	sig.ScalarMultiplication(&h, scalarToBigInt(sk))
	return sig, nil
}

// blsVerify checks e(sig, g2Gen) == e(H(msg), vk).
func blsVerify(sig bls12381.G1Affine, msg []byte, vk bls12381.G2Affine) error {
	h, err := hashToG1(msg)
	if err != nil {
		return fmt.Errorf("stm: hashing message to curve: %w", err)
	}
	var negH bls12381.G1Affine
	negH.Neg(&h)

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{sig, negH},
		[]bls12381.G2Affine{g2Gen, vk},
	)
	if err != nil {
		return fmt.Errorf("stm: pairing check: %w", err)
	}
	if !ok {
		return ErrSignatureInvalid
	}
	return nil
}
