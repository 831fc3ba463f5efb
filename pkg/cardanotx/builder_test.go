package cardanotx

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"

	"github.com/cardano-stm/mithril-core/pkg/entities"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	chunks [][]entities.CardanoTransaction
}

func (s *stubStore) StoreTransactions(_ context.Context, txs []entities.CardanoTransaction) error {
	cp := make([]entities.CardanoTransaction, len(txs))
	copy(cp, txs)
	s.chunks = append(s.chunks, cp)
	return nil
}

func hash32(b byte) string {
	buf := make([]byte, 32)
	buf[0] = b
	return hex.EncodeToString(buf)
}

func TestComputeProtocolMessage_EmptyRejected(t *testing.T) {
	b := NewBuilder(&stubStore{})
	_, err := b.ComputeProtocolMessage(context.Background(), entities.Beacon{Epoch: 1, ImmutableFileNumber: 5}, nil)
	require.Error(t, err)
}

func TestComputeProtocolMessage_Deterministic(t *testing.T) {
	txs := []entities.CardanoTransaction{
		{TransactionHash: hash32(1), BlockNumber: 1},
		{TransactionHash: hash32(2), BlockNumber: 2},
		{TransactionHash: hash32(3), BlockNumber: 16},
		{TransactionHash: hash32(4), BlockNumber: 31},
	}
	beacon := entities.Beacon{Network: "testnet", Epoch: 9, ImmutableFileNumber: 99}

	b1 := NewBuilder(&stubStore{})
	m1, err := b1.ComputeProtocolMessage(context.Background(), beacon, txs)
	require.NoError(t, err)

	b2 := NewBuilder(&stubStore{})
	m2, err := b2.ComputeProtocolMessage(context.Background(), beacon, txs)
	require.NoError(t, err)

	require.True(t, bytes.Equal(m1.ComputeHash(), m2.ComputeHash()))

	lifn, ok := m1.GetPart(entities.PartLatestImmutableFileNumber)
	require.True(t, ok)
	require.Equal(t, "99", lifn)
}

func TestComputeProtocolMessage_PermutingWithinBucketChangesRoot(t *testing.T) {
	beacon := entities.Beacon{Epoch: 1, ImmutableFileNumber: 1}

	original := []entities.CardanoTransaction{
		{TransactionHash: hash32(1), BlockNumber: 1},
		{TransactionHash: hash32(2), BlockNumber: 2},
	}
	swapped := []entities.CardanoTransaction{
		{TransactionHash: hash32(2), BlockNumber: 2},
		{TransactionHash: hash32(1), BlockNumber: 1},
	}

	m1, err := NewBuilder(&stubStore{}).ComputeProtocolMessage(context.Background(), beacon, original)
	require.NoError(t, err)
	m2, err := NewBuilder(&stubStore{}).ComputeProtocolMessage(context.Background(), beacon, swapped)
	require.NoError(t, err)

	root1, _ := m1.GetPart(entities.PartCardanoTransactionsMerkleRoot)
	root2, _ := m2.GetPart(entities.PartCardanoTransactionsMerkleRoot)
	require.NotEqual(t, root1, root2)
}

func TestComputeProtocolMessage_StoresInChunks(t *testing.T) {
	store := &stubStore{}
	txs := make([]entities.CardanoTransaction, 250)
	for i := range txs {
		txs[i] = entities.CardanoTransaction{TransactionHash: hash32(byte(i)), BlockNumber: uint64(i)}
	}
	_, err := NewBuilder(store).ComputeProtocolMessage(context.Background(), entities.Beacon{ImmutableFileNumber: 1}, txs)
	require.NoError(t, err)
	require.Len(t, store.chunks, 3)
	require.Len(t, store.chunks[0], 100)
	require.Len(t, store.chunks[2], 50)
}
