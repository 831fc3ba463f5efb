package keyvault

import (
	"context"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/cardano-stm/mithril-core/pkg/kes"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(t *testing.T, dir, name string, seed []byte) string {
	t.Helper()
	data, err := kes.EncodeSigningKeySeed(seed)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestFileKeySource_LoadColdSigningKey(t *testing.T) {
	dir := t.TempDir()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 0x42
	path := writeEnvelope(t, dir, "cold.skey", seed)

	src := &FileKeySource{ColdKeyPath: path}
	sk, err := src.LoadColdSigningKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, ed25519.NewKeyFromSeed(seed), sk)
}

func TestFileKeySource_LoadKesSeed(t *testing.T) {
	dir := t.TempDir()
	seed := make([]byte, 32)
	seed[1] = 0x7a
	path := writeEnvelope(t, dir, "kes.skey", seed)

	src := &FileKeySource{KesKeyPath: path}
	got, err := src.LoadKesSeed(context.Background())
	require.NoError(t, err)
	require.Equal(t, seed, got)
}

func TestFileKeySource_RejectsShortColdSeed(t *testing.T) {
	dir := t.TempDir()
	path := writeEnvelope(t, dir, "cold.skey", []byte{1, 2, 3})

	src := &FileKeySource{ColdKeyPath: path}
	_, err := src.LoadColdSigningKey(context.Background())
	require.Error(t, err)
}
