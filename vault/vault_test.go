package vault

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	v, err := New("a-sufficiently-secret-key", nil)
	require.NoError(t, err)

	for _, plaintext := range []string{"sk-abc123", "x", "a very long api key with spaces and symbols !@#$%"} {
		ct, err := v.Seal(plaintext)
		require.NoError(t, err)
		require.NotEqual(t, plaintext, ct)

		pt, err := v.Open(ct)
		require.NoError(t, err)
		require.Equal(t, plaintext, pt)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	v, err := New("key-one", nil)
	require.NoError(t, err)

	ct, err := v.Seal("secret")
	require.NoError(t, err)

	tampered := ct[:len(ct)-2] + "zz"
	_, err = v.Open(tampered)
	require.Error(t, err)
}

func TestVolatileKeyWhenUnconfigured(t *testing.T) {
	v, err := New("", nil)
	require.NoError(t, err)
	require.True(t, v.Volatile())

	ct, err := v.Seal("secret")
	require.NoError(t, err)
	pt, err := v.Open(ct)
	require.NoError(t, err)
	require.Equal(t, "secret", pt)
}

func TestDifferentKeysCannotCrossDecrypt(t *testing.T) {
	v1, _ := New("key-one", nil)
	v2, _ := New("key-two", nil)

	ct, err := v1.Seal("secret")
	require.NoError(t, err)

	_, err = v2.Open(ct)
	require.Error(t, err)
}
