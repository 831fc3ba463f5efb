// Package opcert implements the operational certificate (OpCert): the
// delegation chain from a stake pool's cold key to its KES key, and the
// bech32 pool identifier derived from the cold key.
package opcert

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cardano-stm/mithril-core/pkg/entities"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
)

const (
	kesVkLen   = 32
	certSigLen = 64
	coldVkLen  = 32

	poolIdHRP = "pool"
)

// ErrOpCertInvalid is returned when the Ed25519 delegation signature
// does not verify.
var ErrOpCertInvalid = fmt.Errorf("opcert: signature invalid")

// OpCert is the five-field operational certificate record.
type OpCert struct {
	KesVK          [kesVkLen]byte
	IssueNumber    uint64
	StartKesPeriod uint64
	CertSig        [certSigLen]byte
	ColdVK         [coldVkLen]byte
}

// New builds and signs an OpCert from a cold signing key.
func New(coldSK ed25519.PrivateKey, kesVK [kesVkLen]byte, issueNumber, startKesPeriod uint64) (*OpCert, error) {
	if len(coldSK) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("opcert: cold signing key must be %d bytes", ed25519.PrivateKeySize)
	}
	msg := computeMessage(kesVK, issueNumber, startKesPeriod)
	sig := ed25519.Sign(coldSK, msg)

	cert := &OpCert{
		KesVK:          kesVK,
		IssueNumber:    issueNumber,
		StartKesPeriod: startKesPeriod,
	}
	copy(cert.CertSig[:], sig)
	coldVK := coldSK.Public().(ed25519.PublicKey)
	copy(cert.ColdVK[:], coldVK)
	return cert, nil
}

// computeMessage builds the 48-byte message an OpCert's signature is
// computed over: kes_vk || BE(issue_number) || BE(start_kes_period).
func computeMessage(kesVK [kesVkLen]byte, issueNumber, startKesPeriod uint64) []byte {
	msg := make([]byte, 0, kesVkLen+8+8)
	msg = append(msg, kesVK[:]...)
	msg = binary.BigEndian.AppendUint64(msg, issueNumber)
	msg = binary.BigEndian.AppendUint64(msg, startKesPeriod)
	return msg
}

// Validate recomputes the 48-byte message and checks the Ed25519
// signature under ColdVK. It is pure and has no side effects.
func (c *OpCert) Validate() error {
	msg := computeMessage(c.KesVK, c.IssueNumber, c.StartKesPeriod)
	if !ed25519.Verify(ed25519.PublicKey(c.ColdVK[:]), msg, c.CertSig[:]) {
		return ErrOpCertInvalid
	}
	return nil
}

// ComputeProtocolPartyId derives the bech32 pool id: Blake2b-224 of the
// cold verification key, bech32-encoded with HRP "pool" (plain bech32,
// not bech32m).
func (c *OpCert) ComputeProtocolPartyId() (entities.ProtocolPartyId, error) {
	h, err := blake2b.New(28, nil)
	if err != nil {
		return "", fmt.Errorf("opcert: pool address encoding: %w", err)
	}
	h.Write(c.ColdVK[:])
	digest := h.Sum(nil)

	encoded, err := encodeBech32(poolIdHRP, digest)
	if err != nil {
		return "", fmt.Errorf("opcert: pool address encoding: %w", err)
	}
	return entities.ProtocolPartyId(encoded), nil
}

// ComputeHash returns hex(SHA256(kes_vk || BE(issue_number) ||
// BE(start_kes_period) || cert_sig || cold_vk)).
func (c *OpCert) ComputeHash() string {
	h := sha256.New()
	h.Write(c.KesVK[:])
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], c.IssueNumber)
	h.Write(be[:])
	binary.BigEndian.PutUint64(be[:], c.StartKesPeriod)
	h.Write(be[:])
	h.Write(c.CertSig[:])
	h.Write(c.ColdVK[:])
	return hex.EncodeToString(h.Sum(nil))
}

// cborInner is the 4-tuple (kes_vk, issue_number, start_kes_period,
// cert_sig) nested inside the outer CBOR structure.
type cborInner struct {
	_              struct{} `cbor:",toarray"`
	KesVK          []byte
	IssueNumber    uint64
	StartKesPeriod uint64
	CertSig        []byte
}

// cborOuter is the 2-tuple (inner, cold_vk_bytes).
type cborOuter struct {
	_      struct{} `cbor:",toarray"`
	Inner  cborInner
	ColdVK []byte
}

// MarshalCBOR encodes the OpCert into the normative 2-tuple-of-4-tuple
// CBOR structure.
func (c *OpCert) MarshalCBOR() ([]byte, error) {
	outer := cborOuter{
		Inner: cborInner{
			KesVK:          append([]byte(nil), c.KesVK[:]...),
			IssueNumber:    c.IssueNumber,
			StartKesPeriod: c.StartKesPeriod,
			CertSig:        append([]byte(nil), c.CertSig[:]...),
		},
		ColdVK: append([]byte(nil), c.ColdVK[:]...),
	}
	return cbor.Marshal(outer)
}

// UnmarshalCBOR decodes the normative CBOR structure into an OpCert.
func UnmarshalCBOR(data []byte) (*OpCert, error) {
	var outer cborOuter
	if err := cbor.Unmarshal(data, &outer); err != nil {
		return nil, fmt.Errorf("opcert: parse error: %w", err)
	}
	if len(outer.Inner.KesVK) != kesVkLen {
		return nil, fmt.Errorf("opcert: parse error: kes_vk must be %d bytes, got %d", kesVkLen, len(outer.Inner.KesVK))
	}
	if len(outer.Inner.CertSig) != certSigLen {
		return nil, fmt.Errorf("opcert: parse error: cert_sig must be %d bytes, got %d", certSigLen, len(outer.Inner.CertSig))
	}
	if len(outer.ColdVK) != coldVkLen {
		return nil, fmt.Errorf("opcert: parse error: cold_vk must be %d bytes, got %d", coldVkLen, len(outer.ColdVK))
	}

	c := &OpCert{
		IssueNumber:    outer.Inner.IssueNumber,
		StartKesPeriod: outer.Inner.StartKesPeriod,
	}
	copy(c.KesVK[:], outer.Inner.KesVK)
	copy(c.CertSig[:], outer.Inner.CertSig)
	copy(c.ColdVK[:], outer.ColdVK)
	return c, nil
}
