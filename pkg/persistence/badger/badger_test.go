package badger

import (
	"sync"
	"testing"

	"github.com/cardano-stm/mithril-core/pkg/entities"
	"github.com/cardano-stm/mithril-core/pkg/logger"
	"github.com/cardano-stm/mithril-core/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Debug: false})
	require.NoError(t, err)
	return l
}

func TestBadgerPersistence_SaveAndLoadRegistrationRound(t *testing.T) {
	tmpDir := t.TempDir()
	l := testLogger(t)

	bp, err := NewBadgerPersistence(tmpDir, l)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	round := &persistence.RegistrationRound{
		Epoch:             7,
		StakeDistribution: entities.StakeDistribution{"pool1alice": 10, "pool1bob": 20},
		Parties: []persistence.RegisteredParty{
			{PartyID: "pool1alice", Stake: 10, VKWithPoP: []byte{1, 2, 3}},
			{PartyID: "pool1bob", Stake: 20, VKWithPoP: []byte{4, 5, 6}},
		},
		AVK:      []byte{9, 9, 9},
		ClosedAt: 1000,
	}

	require.NoError(t, bp.SaveRegistrationRound(round))

	loaded, err := bp.LoadRegistrationRound(7)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, round.Epoch, loaded.Epoch)
	assert.Equal(t, round.StakeDistribution, loaded.StakeDistribution)
	assert.Equal(t, round.Parties, loaded.Parties)
	assert.Equal(t, round.AVK, loaded.AVK)
}

func TestBadgerPersistence_LoadRegistrationRound_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	l := testLogger(t)

	bp, err := NewBadgerPersistence(tmpDir, l)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	loaded, err := bp.LoadRegistrationRound(999)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBadgerPersistence_SaveRegistrationRound_Nil(t *testing.T) {
	tmpDir := t.TempDir()
	l := testLogger(t)

	bp, err := NewBadgerPersistence(tmpDir, l)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	err = bp.SaveRegistrationRound(nil)
	require.Error(t, err)
}

func TestBadgerPersistence_DeleteRegistrationRound(t *testing.T) {
	tmpDir := t.TempDir()
	l := testLogger(t)

	bp, err := NewBadgerPersistence(tmpDir, l)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	round := &persistence.RegistrationRound{Epoch: 3, StakeDistribution: entities.StakeDistribution{}}
	require.NoError(t, bp.SaveRegistrationRound(round))

	require.NoError(t, bp.DeleteRegistrationRound(3))

	loaded, err := bp.LoadRegistrationRound(3)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBadgerPersistence_DeleteRegistrationRound_Idempotent(t *testing.T) {
	tmpDir := t.TempDir()
	l := testLogger(t)

	bp, err := NewBadgerPersistence(tmpDir, l)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	require.NoError(t, bp.DeleteRegistrationRound(12345))
}

func TestBadgerPersistence_ListRegistrationRounds(t *testing.T) {
	tmpDir := t.TempDir()
	l := testLogger(t)

	bp, err := NewBadgerPersistence(tmpDir, l)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	for i := entities.Epoch(0); i < 5; i++ {
		require.NoError(t, bp.SaveRegistrationRound(&persistence.RegistrationRound{
			Epoch:             i,
			StakeDistribution: entities.StakeDistribution{},
		}))
	}

	listed, err := bp.ListRegistrationRounds()
	require.NoError(t, err)
	assert.Len(t, listed, 5)
	for i := 0; i < len(listed)-1; i++ {
		assert.Less(t, listed[i].Epoch, listed[i+1].Epoch)
	}
}

func TestBadgerPersistence_ListRegistrationRounds_Empty(t *testing.T) {
	tmpDir := t.TempDir()
	l := testLogger(t)

	bp, err := NewBadgerPersistence(tmpDir, l)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	listed, err := bp.ListRegistrationRounds()
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestBadgerPersistence_Checkpoint(t *testing.T) {
	tmpDir := t.TempDir()
	l := testLogger(t)

	bp, err := NewBadgerPersistence(tmpDir, l)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	loaded, err := bp.LoadCheckpoint()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	cp := &persistence.SignerCheckpoint{
		State:     "registered",
		Epoch:     9,
		Beacon:    entities.Beacon{Network: "testnet", Epoch: 9, ImmutableFileNumber: 99},
		UpdatedAt: 12345,
	}
	require.NoError(t, bp.SaveCheckpoint(cp))

	loaded, err = bp.LoadCheckpoint()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, cp.State, loaded.State)
	assert.Equal(t, cp.Epoch, loaded.Epoch)
	assert.Equal(t, cp.Beacon, loaded.Beacon)
}

func TestBadgerPersistence_SaveCheckpoint_Nil(t *testing.T) {
	tmpDir := t.TempDir()
	l := testLogger(t)

	bp, err := NewBadgerPersistence(tmpDir, l)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	err = bp.SaveCheckpoint(nil)
	require.Error(t, err)
}

func TestBadgerPersistence_Close(t *testing.T) {
	tmpDir := t.TempDir()
	l := testLogger(t)

	bp, err := NewBadgerPersistence(tmpDir, l)
	require.NoError(t, err)

	require.NoError(t, bp.Close())

	err = bp.SaveRegistrationRound(&persistence.RegistrationRound{Epoch: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestBadgerPersistence_Close_Idempotent(t *testing.T) {
	tmpDir := t.TempDir()
	l := testLogger(t)

	bp, err := NewBadgerPersistence(tmpDir, l)
	require.NoError(t, err)

	require.NoError(t, bp.Close())
	require.NoError(t, bp.Close())
}

func TestBadgerPersistence_HealthCheck(t *testing.T) {
	tmpDir := t.TempDir()
	l := testLogger(t)

	bp, err := NewBadgerPersistence(tmpDir, l)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	require.NoError(t, bp.HealthCheck())

	require.NoError(t, bp.Close())
	err = bp.HealthCheck()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestBadgerPersistence_ThreadSafety(t *testing.T) {
	tmpDir := t.TempDir()
	l := testLogger(t)

	bp, err := NewBadgerPersistence(tmpDir, l)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	var wg sync.WaitGroup
	const goroutines, ops = 10, 50

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				err := bp.SaveRegistrationRound(&persistence.RegistrationRound{
					Epoch:             entities.Epoch(id*1000 + j),
					StakeDistribution: entities.StakeDistribution{},
				})
				assert.NoError(t, err)
			}
		}(i)
	}
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				_, err := bp.ListRegistrationRounds()
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}

func TestBadgerPersistence_PersistenceAcrossRestarts(t *testing.T) {
	tmpDir := t.TempDir()
	l := testLogger(t)

	bp1, err := NewBadgerPersistence(tmpDir, l)
	require.NoError(t, err)

	cp := &persistence.SignerCheckpoint{State: "signed", Epoch: 42}
	require.NoError(t, bp1.SaveCheckpoint(cp))
	require.NoError(t, bp1.Close())

	bp2, err := NewBadgerPersistence(tmpDir, l)
	require.NoError(t, err)
	defer func() { _ = bp2.Close() }()

	loaded, err := bp2.LoadCheckpoint()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, cp.State, loaded.State)
	assert.Equal(t, cp.Epoch, loaded.Epoch)
}
