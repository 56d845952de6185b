package parity

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/minio/raidfive/internal/apierrors"
)

func randBlocks(n, maxLen int, r *rand.Rand) [][]byte {
	blocks := make([][]byte, n)
	for i := range blocks {
		l := r.Intn(maxLen + 1)
		b := make([]byte, l)
		r.Read(b)
		blocks[i] = b
	}
	return blocks
}

func TestComputeParityEmptyInput(t *testing.T) {
	e, err := New(3)
	require.NoError(t, err)

	_, err = e.ComputeParity(nil)
	require.ErrorIs(t, err, apierrors.ErrInvalidInput)
}

func TestComputeAndRecoverRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	const dataBlocks = 3

	for trial := 0; trial < 50; trial++ {
		e, err := New(dataBlocks)
		require.NoError(t, err)

		blocks := randBlocks(dataBlocks, 4096, r)
		parityBlock, err := e.ComputeParity(blocks)
		require.NoError(t, err)

		for missing := 0; missing < dataBlocks; missing++ {
			surviving := make([][]byte, dataBlocks)
			copy(surviving, blocks)
			surviving[missing] = nil

			recovered, err := e.RecoverBlock(surviving, parityBlock, missing)
			require.NoError(t, err)

			want := padded(blocks[missing], len(parityBlock))
			require.True(t, bytes.Equal(want, recovered), "trial %d missing %d", trial, missing)
		}
	}
}

func TestVerifyParity(t *testing.T) {
	e, err := New(3)
	require.NoError(t, err)

	blocks := [][]byte{[]byte("aaaa"), []byte("bb"), []byte("cccccc")}
	parityBlock, err := e.ComputeParity(blocks)
	require.NoError(t, err)

	ok, err := e.VerifyParity(blocks, parityBlock)
	require.NoError(t, err)
	require.True(t, ok)

	tampered := append([]byte(nil), parityBlock...)
	tampered[0] ^= 0xFF
	ok, err = e.VerifyParity(blocks, tampered)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChecksumStableAndAvalanche(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	data := make([]byte, 256)
	r.Read(data)

	sum := Checksum(data)
	require.True(t, VerifyChecksum(data, sum))
	require.True(t, VerifyChecksum(data, stringsToUpper(sum)))

	flipped := append([]byte(nil), data...)
	flipped[0] ^= 0x01
	require.False(t, VerifyChecksum(flipped, sum))
}

func stringsToUpper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'f' {
			out[i] = c - ('a' - 'A')
		}
	}
	return string(out)
}
