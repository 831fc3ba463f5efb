package kes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func seedOf(b byte) []byte {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = b
	}
	return seed
}

func TestSignVerify_Period0(t *testing.T) {
	sk, vk, err := Keygen(seedOf(7), SumDepth)
	require.NoError(t, err)

	msg := []byte("block header bytes")
	sig, err := Sign(sk, 0, msg)
	require.NoError(t, err)
	require.NoError(t, Verify(vk, 0, msg, sig))
}

func TestUpdateAdvancesPeriodAndForgetsOld(t *testing.T) {
	sk, vk, err := Keygen(seedOf(1), SumDepth)
	require.NoError(t, err)
	msg := []byte("payload")

	require.NoError(t, sk.Update())
	require.Equal(t, 1, sk.CurrentPeriod())

	sig, err := Sign(sk, 1, msg)
	require.NoError(t, err)
	require.NoError(t, Verify(vk, 1, msg, sig))

	_, err = Sign(sk, 0, msg)
	require.Error(t, err)
}

func TestUpdateCrossesSubtreeBoundary(t *testing.T) {
	sk, vk, err := Keygen(seedOf(2), SumDepth)
	require.NoError(t, err)
	msg := []byte("payload")

	half := TotalPeriods / 2
	for p := 0; p < half; p++ {
		require.NoError(t, sk.Update())
	}
	require.Equal(t, half, sk.CurrentPeriod())

	sig, err := Sign(sk, half, msg)
	require.NoError(t, err)
	require.NoError(t, Verify(vk, half, msg, sig))
}

func TestVerifyRejectsWrongMessage(t *testing.T) {
	sk, vk, err := Keygen(seedOf(3), SumDepth)
	require.NoError(t, err)

	sig, err := Sign(sk, 0, []byte("real payload"))
	require.NoError(t, err)
	require.Error(t, Verify(vk, 0, []byte("tampered payload"), sig))
}

func TestVerifyRejectsTamperedSiblingVK(t *testing.T) {
	sk, vk, err := Keygen(seedOf(4), SumDepth)
	require.NoError(t, err)
	msg := []byte("payload")

	sig, err := Sign(sk, 0, msg)
	require.NoError(t, err)
	sig.vkRight[0] ^= 0xFF
	require.ErrorIs(t, Verify(vk, 0, msg, sig), ErrKesSignatureInvalid)
}

func TestKeyExhaustedAfterTotalPeriods(t *testing.T) {
	sk, _, err := Keygen(seedOf(5), SumDepth)
	require.NoError(t, err)
	for p := 0; p < TotalPeriods-1; p++ {
		require.NoError(t, sk.Update())
	}
	require.Error(t, sk.Update())
}

func TestVerifyKESBinding(t *testing.T) {
	scheme := NewSum6()
	sk, vk, err := scheme.Keygen(seedOf(9))
	require.NoError(t, err)

	payload := []byte("stm verification key with pop bytes")
	sig, err := scheme.Sign(sk, 0, payload)
	require.NoError(t, err)

	require.NoError(t, VerifyKES(sig, 0, vk, payload))
	require.ErrorIs(t, VerifyKES(sig, 1, vk, payload), ErrKesSignatureInvalid)
	require.ErrorIs(t, VerifyKES(nil, 0, vk, payload), ErrKesSignatureInvalid)
}

func TestSigningKeyEnvelopeRoundTrip(t *testing.T) {
	seed := seedOf(11)
	data, err := EncodeSigningKeySeed(seed)
	require.NoError(t, err)

	decoded, err := LoadSigningKeySeed(data)
	require.NoError(t, err)
	require.Equal(t, seed, decoded)
}
