package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasher_ZeroValueUsesSHA256(t *testing.T) {
	t.Parallel()

	var h Hasher
	require.False(t, h.HMAC())
	require.Equal(t, HashSHA256Hex("refresh"), h.Hash("refresh"))
	require.Len(t, h.Hash("refresh"), 64)
}

func TestHasher_KeyedUsesHMAC(t *testing.T) {
	t.Parallel()

	key := []byte("0123456789abcdef0123456789abcdef")
	h := NewHasher(key)
	require.True(t, h.HMAC())
	require.Equal(t, HashHMACSHA256Hex("refresh", key), h.Hash("refresh"))
	require.NotEqual(t, HashSHA256Hex("refresh"), h.Hash("refresh"))

	// The hasher keeps its own copy of the key.
	key[0] = 'X'
	require.Equal(t, HashHMACSHA256Hex("refresh", []byte("0123456789abcdef0123456789abcdef")), h.Hash("refresh"))
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	_, err := HMACKeyFromEnv(MinHMACKeyBytes)
	require.ErrorIs(t, err, ErrHMACKeyMissing)

	t.Setenv(HMACEnvKey, "short")
	_, err = HMACKeyFromEnv(MinHMACKeyBytes)
	require.ErrorIs(t, err, ErrHMACKeyTooShort)

	t.Setenv(HMACEnvKey, "  0123456789abcdef0123456789abcdef  ")
	key, err := HMACKeyFromEnv(MinHMACKeyBytes)
	require.NoError(t, err)
	require.Equal(t, "0123456789abcdef0123456789abcdef", string(key))
	require.True(t, HasherFromEnv().HMAC())
}
