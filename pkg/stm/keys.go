package stm

import (
	"fmt"
	"io"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

const (
	vkLen  = 96 // compressed G2
	popLen = 48 // compressed G1
)

// ErrSignatureInvalid is returned whenever a BLS signature or a
// proof-of-possession fails to verify.
var ErrSignatureInvalid = fmt.Errorf("stm: signature invalid")

// SigningKey is a party's STM secret scalar.
type SigningKey struct {
	sk fr.Element
}

// VerificationKey is a compressed G2 point: sk * g2_generator.
type VerificationKey [vkLen]byte

// ProofOfPossession is a compressed G1 BLS signature over the
// verification key's own bytes, binding a verification key to
// knowledge of its scalar.
type ProofOfPossession [popLen]byte

// VerificationKeyWithPoP bundles a verification key with its proof of
// possession. It is the unit registered in the key registry and
// transmitted over KES.
type VerificationKeyWithPoP struct {
	VK  VerificationKey
	PoP ProofOfPossession
}

// GenerateSigningKey draws a fresh random STM signing key.
func GenerateSigningKey(rng io.Reader) (*SigningKey, error) {
	sk, err := randomScalar(rng)
	if err != nil {
		return nil, err
	}
	return &SigningKey{sk: sk}, nil
}

// VerificationKeyWithPoP derives the (vk, pop) pair for this signing
// key.
func (sk *SigningKey) VerificationKeyWithPoP() (VerificationKeyWithPoP, error) {
	var vkPoint bls12381.G2Affine
	vkPoint.ScalarMultiplication(&g2Gen, scalarToBigInt(sk.sk))
	var vk VerificationKey
	vkBytes := vkPoint.Bytes()
	copy(vk[:], vkBytes[:])

	pop, err := blsSign(sk.sk, vk[:])
	if err != nil {
		return VerificationKeyWithPoP{}, fmt.Errorf("stm: proving possession: %w", err)
	}
	var popBytes ProofOfPossession
	raw := pop.Bytes()
	copy(popBytes[:], raw[:])

	return VerificationKeyWithPoP{VK: vk, PoP: popBytes}, nil
}

// ToBytes is the canonical encoding of a verification-key-with-PoP: the
// 96-byte verification key followed by the 48-byte proof of possession.
func (v VerificationKeyWithPoP) ToBytes() []byte {
	out := make([]byte, 0, vkLen+popLen)
	out = append(out, v.VK[:]...)
	out = append(out, v.PoP[:]...)
	return out
}

// VerificationKeyWithPoPFromBytes parses the canonical encoding.
func VerificationKeyWithPoPFromBytes(data []byte) (VerificationKeyWithPoP, error) {
	if len(data) != vkLen+popLen {
		return VerificationKeyWithPoP{}, fmt.Errorf("stm: verification-key-with-pop must be %d bytes, got %d", vkLen+popLen, len(data))
	}
	var v VerificationKeyWithPoP
	copy(v.VK[:], data[:vkLen])
	copy(v.PoP[:], data[vkLen:])
	return v, nil
}

// Verify checks that PoP is a valid BLS signature over VK's own bytes
// under VK itself, establishing that the registrant controls the
// matching signing key.
func (v VerificationKeyWithPoP) Verify() error {
	var vkPoint bls12381.G2Affine
	if _, err := vkPoint.SetBytes(v.VK[:]); err != nil {
		return fmt.Errorf("stm: parsing verification key: %w", err)
	}
	var popPoint bls12381.G1Affine
	if _, err := popPoint.SetBytes(v.PoP[:]); err != nil {
		return fmt.Errorf("stm: parsing proof of possession: %w", err)
	}
	return blsVerify(popPoint, v.VK[:], vkPoint)
}
