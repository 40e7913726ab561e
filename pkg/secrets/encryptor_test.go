package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptorRoundTrip(t *testing.T) {
	enc, err := NewEncryptor("unit-test-secret")
	require.NoError(t, err)

	sealed, err := enc.Encrypt("abcdefghijklmnop")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(sealed))

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijklmnop", plain)
}

func TestEncryptorNonDeterministic(t *testing.T) {
	enc, err := NewEncryptor("unit-test-secret")
	require.NoError(t, err)

	a, err := enc.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := enc.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEncryptorRejectsTampering(t *testing.T) {
	enc, err := NewEncryptor("unit-test-secret")
	require.NoError(t, err)

	sealed, err := enc.Encrypt("abcdefghijklmnop")
	require.NoError(t, err)

	parts := strings.Split(sealed, ":")
	require.Len(t, parts, 3)

	flipped := []byte(parts[2])
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	tampered := strings.Join([]string{parts[0], parts[1], string(flipped)}, ":")

	_, err = enc.Decrypt(tampered)
	assert.Error(t, err)
}

func TestEncryptorRejectsMalformedPayload(t *testing.T) {
	enc, err := NewEncryptor("unit-test-secret")
	require.NoError(t, err)

	_, err = enc.Decrypt("not-an-encrypted-blob")
	assert.Error(t, err)
}

func TestNewEncryptorRequiresSecret(t *testing.T) {
	_, err := NewEncryptor("")
	assert.Error(t, err)
}

func TestDecryptWithWrongSecretFails(t *testing.T) {
	enc, err := NewEncryptor("secret-one")
	require.NoError(t, err)
	other, err := NewEncryptor("secret-two")
	require.NoError(t, err)

	sealed, err := enc.Encrypt("abcdefghijklmnop")
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	assert.Error(t, err)
}
