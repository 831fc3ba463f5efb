package stm

import (
	"encoding/binary"
	"fmt"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"

	"github.com/cardano-stm/mithril-core/pkg/entities"
	"github.com/cardano-stm/mithril-core/pkg/merkle"
)

// SingleSignature is one party's contribution: a BLS signature over the
// message, the lottery indices it wins under the current parameters,
// and a Merkle proof that the party belongs to the closed registry the
// aggregate verification key commits to.
type SingleSignature struct {
	PartyID         entities.ProtocolPartyId
	Stake           entities.Stake
	VK              VerificationKeyWithPoP
	Sigma           [popLen]byte
	Indices         []uint64
	MembershipProof *merkle.MKProof
}

// Signer signs messages on behalf of one registered party.
type Signer struct {
	params     StmParameters
	partyID    entities.ProtocolPartyId
	stake      entities.Stake
	totalStake entities.Stake
	sk         *SigningKey
	vk         VerificationKeyWithPoP
	closedReg  *ClosedKeyReg
}

// NewSigner builds a Signer from an Initializer's core and the closed
// registry it was registered into.
func NewSigner(core StmCore, partyID entities.ProtocolPartyId, closedReg *ClosedKeyReg) (*Signer, error) {
	record, _, err := closedReg.find(partyID)
	if err != nil {
		return nil, fmt.Errorf("stm: building signer: %w", err)
	}
	if record.VK.VK != core.VK.VK {
		return nil, fmt.Errorf("stm: building signer: registry entry does not match initializer for %s", partyID)
	}
	return &Signer{
		params:     core.Params,
		partyID:    partyID,
		stake:      core.Stake,
		totalStake: closedReg.TotalStake(),
		sk:         core.SigningKey,
		vk:         core.VK,
		closedReg:  closedReg,
	}, nil
}

// winningIndices evaluates the lottery for every index in [0, M) against
// a signature-derived PRF and the party's phi-weighted stake.
func winningIndices(params StmParameters, stake, totalStake entities.Stake, sigmaBytes []byte) []uint64 {
	if totalStake == 0 {
		return nil
	}
	fraction := float64(stake) / float64(totalStake)
	threshold := params.phi(fraction)
	if threshold <= 0 {
		return nil
	}

	var winners []uint64
	for idx := uint64(0); idx < params.M; idx++ {
		if evalIndex(sigmaBytes, idx) < threshold {
			winners = append(winners, idx)
		}
	}
	return winners
}

// evalIndex derives a uniform [0,1) value for a given lottery index from
// a signature: the per-index ticket is Blake2b-256(sigma || index), and
// its leading 8 bytes are interpreted as a fraction of 2^64.
func evalIndex(sigmaBytes []byte, idx uint64) float64 {
	buf := make([]byte, 0, len(sigmaBytes)+8)
	buf = append(buf, sigmaBytes...)
	buf = binary.BigEndian.AppendUint64(buf, idx)
	digest := blake2bNode(buf)
	leading := binary.BigEndian.Uint64(digest[:8])
	return float64(leading) / float64(1<<64)
}

// Sign attempts to sign msg. A nil, nil return means this party won no
// lottery indices under the current parameters and stake, which callers
// must treat as a non-error absence rather than a failure.
func (s *Signer) Sign(msg []byte) (*SingleSignature, error) {
	sigma, err := blsSign(s.sk.sk, msg)
	if err != nil {
		return nil, fmt.Errorf("stm: signing: %w", err)
	}
	sigmaBytes := sigma.Bytes()

	indices := winningIndices(s.params, s.stake, s.totalStake, sigmaBytes[:])
	if len(indices) == 0 {
		return nil, nil
	}

	proof, err := s.closedReg.ProveMembership(s.partyID)
	if err != nil {
		return nil, fmt.Errorf("stm: signing: %w", err)
	}

	var sig SingleSignature
	sig.PartyID = s.partyID
	sig.Stake = s.stake
	sig.VK = s.vk
	copy(sig.Sigma[:], sigmaBytes[:])
	sig.Indices = indices
	sig.MembershipProof = proof
	return &sig, nil
}

func (sig *SingleSignature) sigmaPoint() (bls12381.G1Affine, error) {
	var p bls12381.G1Affine
	if _, err := p.SetBytes(sig.Sigma[:]); err != nil {
		return bls12381.G1Affine{}, fmt.Errorf("stm: parsing signature point: %w", err)
	}
	return p, nil
}
