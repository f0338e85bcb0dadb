package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipherFromHex(testKeyHex)
	require.NoError(t, err)

	sealed, err := c.EncryptString("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "JBSWY3DPEHPK3PXP")

	again, err := c.EncryptString("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per call")

	plain, err := c.DecryptString(sealed)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", plain)
}

func TestCipher_Errors(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewCipherFromHex("zz")
	assert.ErrorIs(t, err, ErrInvalidKey)

	c, err := NewCipherFromHex(testKeyHex)
	require.NoError(t, err)

	_, err = c.DecryptString("!!!")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = c.DecryptString("AAAA")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	other, err := NewCipherFromHex(strings.Repeat("ab", 32))
	require.NoError(t, err)
	sealed, err := other.EncryptString("secret")
	require.NoError(t, err)
	_, err = c.DecryptString(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestHashToken(t *testing.T) {
	h := HashToken("abc")
	assert.Len(t, h, 64)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", h)

	assert.True(t, DigestsEqual("abc", "abc"))
	assert.False(t, DigestsEqual("abc", "abd"))
}

func TestNoOpEncryptor(t *testing.T) {
	var e Encryptor = NoOpEncryptor{}
	s, err := e.EncryptString("x")
	require.NoError(t, err)
	assert.Equal(t, "x", s)
}
