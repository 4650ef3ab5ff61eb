package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestParseHexKey(t *testing.T) {
	key, err := ParseHexKey(testKey)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	_, err = ParseHexKey("zz")
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = ParseHexKey("0011")
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestSealAndOpenString(t *testing.T) {
	key, err := ParseHexKey(testKey)
	require.NoError(t, err)
	enc, err := NewAESEncryptor(key)
	require.NoError(t, err)

	sealed, err := SealString(enc, "acute bronchitis")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "bronchitis")

	again, err := SealString(enc, "acute bronchitis")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	plain, err := OpenString(enc, sealed)
	require.NoError(t, err)
	assert.Equal(t, "acute bronchitis", plain)
}

func TestOpenStringRejectsTampering(t *testing.T) {
	key, err := ParseHexKey(testKey)
	require.NoError(t, err)
	enc, err := NewAESEncryptor(key)
	require.NoError(t, err)

	_, err = OpenString(enc, "not base64!")
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = OpenString(enc, "AAAA")
	assert.ErrorIs(t, err, ErrDecryption)

	sealed, err := SealString(enc, "note")
	require.NoError(t, err)
	other, err := NewAESEncryptor([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)
	_, err = OpenString(other, sealed)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestNewAESEncryptorKeySize(t *testing.T) {
	_, err := NewAESEncryptor([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}
