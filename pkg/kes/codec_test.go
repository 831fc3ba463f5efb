package kes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignatureBinaryRoundTrip(t *testing.T) {
	sk, vk, err := Keygen(seedOf(20), SumDepth)
	require.NoError(t, err)
	msg := []byte("header bytes")

	sig, err := Sign(sk, 0, msg)
	require.NoError(t, err)

	raw, err := sig.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, raw, 448)

	decoded, err := UnmarshalSignature(raw, SumDepth)
	require.NoError(t, err)
	require.NoError(t, Verify(vk, 0, msg, decoded))
}

func TestUnmarshalSignatureRejectsWrongLength(t *testing.T) {
	_, err := UnmarshalSignature(make([]byte, 447), SumDepth)
	require.Error(t, err)
}
