package stm

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/cardano-stm/mithril-core/pkg/entities"
	"github.com/cardano-stm/mithril-core/pkg/kes"
)

const (
	coreInitializerLen = 256
	fullInitializerLen = 256 + 448 // stm_initializer || kes_signature
	coreReservedLen    = coreInitializerLen - (8 + 8 + 8 + 8 + 32 + vkLen + popLen)
)

// StmCore is the STM library's own initializer: protocol parameters,
// stake, a signing key and its verification-key-with-PoP. This is the
// portion the spec calls "the STM initializer" and fixes at 256 bytes
// on the wire.
type StmCore struct {
	Params     StmParameters
	Stake      entities.Stake
	SigningKey *SigningKey
	VK         VerificationKeyWithPoP
}

// Initializer is the combinator type registration actually works with:
// the STM core plus an optional KES signature binding VK to a pool's
// hot key for some period.
type Initializer struct {
	Core          StmCore
	KesSignature  *kes.Signature // nil before it has been produced by the registration path
	KesSignedFlag bool           // true once a real (non-placeholder) KES signature has been attached
}

// Setup draws a fresh STM core for the given stake and parameters. It
// corresponds to step 1 of the registration path in §4.4: drawing an
// STM initializer from randomness.
func Setup(params StmParameters, stake entities.Stake, rng io.Reader) (*Initializer, error) {
	sk, err := GenerateSigningKey(rng)
	if err != nil {
		return nil, fmt.Errorf("stm: setup: %w", err)
	}
	vk, err := sk.VerificationKeyWithPoP()
	if err != nil {
		return nil, fmt.Errorf("stm: setup: %w", err)
	}
	return &Initializer{
		Core: StmCore{
			Params:     params,
			Stake:      stake,
			SigningKey: sk,
			VK:         vk,
		},
	}, nil
}

// AttachKesSignature binds this initializer's verification-key-with-PoP
// to a pool's hot key by recording the KES signature produced over
// Core.VK.ToBytes() at kesPeriod.
func (init *Initializer) AttachKesSignature(sig *kes.Signature) {
	init.KesSignature = sig
	init.KesSignedFlag = true
}

// marshalCore encodes the 256-byte STM core layout:
//
//	[0:8)    M            big-endian uint64
//	[8:16)   K            big-endian uint64
//	[16:24)  PhiF         big-endian float64 bits
//	[24:32)  Stake        big-endian uint64
//	[32:64)  SigningKey   32-byte scalar
//	[64:160) VK           96-byte compressed G2
//	[160:208) PoP         48-byte compressed G1
//	[208:256) reserved    zero-filled
func (c StmCore) marshalCore() ([]byte, error) {
	buf := make([]byte, coreInitializerLen)
	binary.BigEndian.PutUint64(buf[0:8], c.Params.M)
	binary.BigEndian.PutUint64(buf[8:16], c.Params.K)
	binary.BigEndian.PutUint64(buf[16:24], math.Float64bits(c.Params.PhiF))
	binary.BigEndian.PutUint64(buf[24:32], uint64(c.Stake))

	skBytes := c.SigningKey.sk.Bytes()
	copy(buf[32:64], skBytes[:])
	copy(buf[64:64+vkLen], c.VK.VK[:])
	copy(buf[64+vkLen:64+vkLen+popLen], c.VK.PoP[:])
	return buf, nil
}

func unmarshalCore(data []byte) (StmCore, error) {
	if len(data) != coreInitializerLen {
		return StmCore{}, fmt.Errorf("stm: core initializer must be %d bytes, got %d", coreInitializerLen, len(data))
	}
	var c StmCore
	c.Params.M = binary.BigEndian.Uint64(data[0:8])
	c.Params.K = binary.BigEndian.Uint64(data[8:16])
	c.Params.PhiF = math.Float64frombits(binary.BigEndian.Uint64(data[16:24]))
	c.Stake = entities.Stake(binary.BigEndian.Uint64(data[24:32]))

	sk := &SigningKey{}
	sk.sk.SetBytes(data[32:64])
	c.SigningKey = sk

	copy(c.VK.VK[:], data[64:64+vkLen])
	copy(c.VK.PoP[:], data[64+vkLen:64+vkLen+popLen])
	return c, nil
}

// MarshalBinary encodes the full 704-byte Initializer: the 256-byte STM
// core followed by the 448-byte KES signature suffix. When no KES
// signature has been attached yet, the suffix is zero-filled, matching
// the legacy writer this format was inherited from.
func (init *Initializer) MarshalBinary() ([]byte, error) {
	core, err := init.Core.marshalCore()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, fullInitializerLen)
	out = append(out, core...)

	if init.KesSignature != nil {
		kesBytes, err := init.KesSignature.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("stm: encoding kes signature suffix: %w", err)
		}
		if len(kesBytes) != fullInitializerLen-coreInitializerLen {
			return nil, fmt.Errorf("stm: kes signature suffix has unexpected length %d", len(kesBytes))
		}
		out = append(out, kesBytes...)
	} else {
		out = append(out, make([]byte, fullInitializerLen-coreInitializerLen)...)
	}
	return out, nil
}

// UnmarshalInitializer decodes the 704-byte layout. It always parses the
// KES-signature suffix structurally; callers that care whether a real
// signature was attached should consult KesSignedFlag, which does not
// survive serialization and must be re-derived by the caller (e.g. by
// checking whether the suffix is all zero) when reading untrusted
// on-disk state.
func UnmarshalInitializer(data []byte) (*Initializer, error) {
	if len(data) != fullInitializerLen {
		return nil, fmt.Errorf("stm: initializer must be exactly %d bytes, got %d", fullInitializerLen, len(data))
	}
	core, err := unmarshalCore(data[:coreInitializerLen])
	if err != nil {
		return nil, fmt.Errorf("stm: parse error: %w", err)
	}
	kesSig, err := kes.UnmarshalSignature(data[coreInitializerLen:], kes.SumDepth)
	if err != nil {
		return nil, fmt.Errorf("stm: parse error: kes signature suffix: %w", err)
	}
	return &Initializer{Core: core, KesSignature: kesSig}, nil
}
