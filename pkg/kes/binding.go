package kes

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ErrKesSignatureInvalid is returned when a KES signature does not
// verify under the claimed verification key and period.
var ErrKesSignatureInvalid = fmt.Errorf("kes: signature invalid")

// Scheme is the Sum6 KES scheme bound to SumDepth levels (64 periods),
// the variant used throughout the protocol.
type Scheme struct{}

// NewSum6 returns the Sum6 scheme.
func NewSum6() *Scheme { return &Scheme{} }

// TotalPeriods reports how many distinct periods a Sum6 key can sign
// across.
func (s *Scheme) TotalPeriods() int { return TotalPeriods }

// Keygen derives a fresh Sum6 signing key and verification key from
// seed.
func (s *Scheme) Keygen(seed []byte) (*SigningKey, VerificationKey, error) {
	return Keygen(seed, SumDepth)
}

// Sign signs msg at sk's current period.
func (s *Scheme) Sign(sk *SigningKey, period int, msg []byte) (*Signature, error) {
	return Sign(sk, period, msg)
}

// VerifyKES is the binding contract the registrar and the aggregator
// both call: it succeeds iff the Sum6 library accepts kesSig over
// payloadBytes at kesPeriod under kesVK. Any failure, structural or
// cryptographic, is reported as ErrKesSignatureInvalid.
func VerifyKES(kesSig *Signature, kesPeriod int, kesVK VerificationKey, payloadBytes []byte) error {
	if kesSig == nil {
		return ErrKesSignatureInvalid
	}
	if kesPeriod < 0 || kesPeriod >= TotalPeriods {
		return ErrKesSignatureInvalid
	}
	if err := Verify(kesVK, kesPeriod, payloadBytes, kesSig); err != nil {
		return ErrKesSignatureInvalid
	}
	return nil
}

const signingKeyEnvelopeType = "KesSigningKey_ed25519_kes_2^6"

type signingKeyEnvelope struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	CborHex     string `json:"cborHex"`
}

// LoadSigningKeySeed reads a Shelley-style text envelope file and
// returns its raw payload bytes. The core treats the KES signing key
// file as opaque: whatever bytes are inside become the seed handed to
// Keygen.
func LoadSigningKeySeed(data []byte) ([]byte, error) {
	var env signingKeyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("kes: parse error: %w", err)
	}
	seed, err := hex.DecodeString(env.CborHex)
	if err != nil {
		return nil, fmt.Errorf("kes: parse error: cborHex is not valid hex: %w", err)
	}
	return seed, nil
}

// EncodeSigningKeySeed wraps a raw seed into the same envelope format, so
// generated test keys round-trip through the loader above.
func EncodeSigningKeySeed(seed []byte) ([]byte, error) {
	env := signingKeyEnvelope{
		Type:        signingKeyEnvelopeType,
		Description: "",
		CborHex:     hex.EncodeToString(seed),
	}
	return json.MarshalIndent(env, "", "    ")
}
