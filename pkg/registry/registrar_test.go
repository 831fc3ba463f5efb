package registry

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/cardano-stm/mithril-core/pkg/entities"
	"github.com/cardano-stm/mithril-core/pkg/kes"
	"github.com/cardano-stm/mithril-core/pkg/opcert"
	"github.com/cardano-stm/mithril-core/pkg/stm"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type signerFixture struct {
	partyID entities.ProtocolPartyId
	opCert  *opcert.OpCert
	kesSig  *kes.Signature
	vk      stm.VerificationKeyWithPoP
	stake   entities.Stake
}

func newSignerFixture(t *testing.T, stake entities.Stake) signerFixture {
	t.Helper()

	coldVK, coldSK, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	kesSK, kesVK, err := kes.Keygen(make([]byte, 32), kes.SumDepth)
	require.NoError(t, err)

	var kesVKBytes [32]byte
	copy(kesVKBytes[:], kesVK[:])

	cert, err := opcert.New(coldSK, kesVKBytes, 0, 0)
	require.NoError(t, err)
	require.NoError(t, cert.Validate())

	partyID, err := cert.ComputeProtocolPartyId()
	require.NoError(t, err)

	stmSK, err := stm.GenerateSigningKey(rand.Reader)
	require.NoError(t, err)
	vk, err := stmSK.VerificationKeyWithPoP()
	require.NoError(t, err)

	kesSig, err := kes.Sign(kesSK, 0, vk.ToBytes())
	require.NoError(t, err)

	_ = coldVK
	return signerFixture{partyID: partyID, opCert: cert, kesSig: kesSig, vk: vk, stake: stake}
}

func TestRegistrar_TwoSignerRegistration(t *testing.T) {
	logger := zap.NewNop()

	alice := newSignerFixture(t, 10)
	bob := newSignerFixture(t, 3)
	stranger := newSignerFixture(t, 10) // never added to the distribution

	dist := entities.StakeDistribution{
		alice.partyID: alice.stake,
		bob.partyID:   bob.stake,
	}

	r := NewRegistrar(dist, logger)

	err := r.Register(Registration{OpCert: alice.opCert, KesSig: alice.kesSig, KesPeriod: 0, VK: alice.vk})
	require.NoError(t, err)

	err = r.Register(Registration{OpCert: bob.opCert, KesSig: bob.kesSig, KesPeriod: 0, VK: bob.vk})
	require.NoError(t, err)

	err = r.Register(Registration{OpCert: stranger.opCert, KesSig: stranger.kesSig, KesPeriod: 0, VK: stranger.vk})
	require.ErrorIs(t, err, ErrKeyNonExisting)

	closed, err := r.Close()
	require.NoError(t, err)
	require.Equal(t, entities.Stake(13), closed.TotalStake())

	_, err = closed.ProveMembership(alice.partyID)
	require.NoError(t, err)
}

func TestRegistrar_MissingCertificationRejected(t *testing.T) {
	logger := zap.NewNop()
	alice := newSignerFixture(t, 10)
	dist := entities.StakeDistribution{alice.partyID: alice.stake}

	r := NewRegistrar(dist, logger)
	err := r.Register(Registration{VK: alice.vk})
	require.ErrorIs(t, err, ErrKeyNonExisting)
}

func TestRegistrar_SkipCertificationTrustsPartyID(t *testing.T) {
	logger := zap.NewNop()
	alice := newSignerFixture(t, 10)
	dist := entities.StakeDistribution{alice.partyID: alice.stake}

	r := NewRegistrarSkipCertification(dist, logger)
	err := r.Register(Registration{PartyID: alice.partyID, VK: alice.vk})
	require.NoError(t, err)

	_, err = r.Close()
	require.NoError(t, err)
}

func TestRegistrar_ClosedRejectsFurtherRegistrations(t *testing.T) {
	logger := zap.NewNop()
	alice := newSignerFixture(t, 10)
	dist := entities.StakeDistribution{alice.partyID: alice.stake}

	r := NewRegistrar(dist, logger)
	require.NoError(t, r.Register(Registration{OpCert: alice.opCert, KesSig: alice.kesSig, KesPeriod: 0, VK: alice.vk}))

	_, err := r.Close()
	require.NoError(t, err)

	err = r.Register(Registration{OpCert: alice.opCert, KesSig: alice.kesSig, KesPeriod: 0, VK: alice.vk})
	require.ErrorIs(t, err, ErrAlreadyClosed)

	_, err = r.Close()
	require.ErrorIs(t, err, ErrAlreadyClosed)
}

func TestRegistrar_DeterministicAVKAcrossPermutations(t *testing.T) {
	logger := zap.NewNop()
	alice := newSignerFixture(t, 10)
	bob := newSignerFixture(t, 3)
	carol := newSignerFixture(t, 7)
	dist := entities.StakeDistribution{
		alice.partyID: alice.stake,
		bob.partyID:   bob.stake,
		carol.partyID: carol.stake,
	}

	register := func(r *Registrar, order []signerFixture) {
		for _, s := range order {
			require.NoError(t, r.Register(Registration{OpCert: s.opCert, KesSig: s.kesSig, KesPeriod: 0, VK: s.vk}))
		}
	}

	r1 := NewRegistrar(dist, logger)
	register(r1, []signerFixture{alice, bob, carol})
	closed1, err := r1.Close()
	require.NoError(t, err)

	r2 := NewRegistrar(dist, logger)
	register(r2, []signerFixture{carol, alice, bob})
	closed2, err := r2.Close()
	require.NoError(t, err)

	require.Equal(t, closed1.ComputeAVK(), closed2.ComputeAVK())
}
