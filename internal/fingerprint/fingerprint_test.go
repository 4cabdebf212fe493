package fingerprint

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumKnownVectors(t *testing.T) {
	sha, err := New("sha256")
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sha.Sum([]byte("abc")))

	b2, err := New("blake2b")
	require.NoError(t, err)
	// BLAKE2b-256("abc")
	assert.Equal(t, "bddd813c634239723171ef3fee98579b94964e3bb1cb3e427262c8c068d52319", b2.Sum([]byte("abc")))
}

func TestDefaultAndUnknown(t *testing.T) {
	f, err := New("")
	require.NoError(t, err)
	assert.Equal(t, SHA256, f.Algorithm())

	_, err = New("md5")
	require.Error(t, err)
}

func TestSumReaderMatchesSum(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB, 0x01}, 64<<10)
	for _, algo := range []string{"sha256", "blake2b"} {
		f, err := New(algo)
		require.NoError(t, err)

		streamed, err := f.SumReader(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, f.Sum(data), streamed, algo)
		assert.True(t, Valid(streamed))
	}
}

func TestDistinctContentDistinctDigest(t *testing.T) {
	f, _ := New("sha256")
	assert.NotEqual(t, f.Sum([]byte{1, 2, 3}), f.Sum([]byte{1, 2, 4}))
	assert.Equal(t, f.Sum([]byte{1, 2, 3}), f.Sum([]byte{1, 2, 3}))
}

func TestValid(t *testing.T) {
	assert.False(t, Valid("abc"))
	assert.False(t, Valid("BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD"))
	assert.True(t, Valid("ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"))
}
