package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	nonceBytes   = 16
	gcmTagBytes  = 16
	partsInBlob  = 3
	envSeparator = ":"
)

// Encryptor performs AES-256-GCM encryption for secrets stored at rest
// (Gmail app passwords). Output format is `nonce:tag:ciphertext`, all hex.
// Encryption is always an explicit call in the service write path, never a
// side effect of persistence.
type Encryptor struct {
	key []byte
}

// NewEncryptor derives a 256-bit key from the configured secret via
// HKDF-SHA256.
func NewEncryptor(secret string) (*Encryptor, error) {
	if secret == "" {
		return nil, errors.New("encryption secret must not be empty")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("maildoor-at-rest"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}

	return &Encryptor{key: key}, nil
}

// Encrypt seals the plaintext and returns the nonce:tag:ciphertext triplet.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("plaintext must not be empty")
	}

	gcm, err := e.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-gcmTagBytes]
	tag := sealed[len(sealed)-gcmTagBytes:]

	return strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, envSeparator), nil
}

// Decrypt opens a nonce:tag:ciphertext triplet produced by Encrypt.
// Returns an error on tampered or malformed payloads.
func (e *Encryptor) Decrypt(payload string) (string, error) {
	parts := strings.Split(payload, envSeparator)
	if len(parts) != partsInBlob {
		return "", errors.New("malformed encrypted payload")
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode auth tag: %w", err)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := e.aead()
	if err != nil {
		return "", err
	}

	plain, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("open sealed payload: %w", err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether a value looks like an Encrypt output.
func IsEncrypted(value string) bool {
	parts := strings.Split(value, envSeparator)
	return len(parts) == partsInBlob &&
		len(parts[0]) == nonceBytes*2 &&
		len(parts[1]) == gcmTagBytes*2
}

func (e *Encryptor) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceBytes)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}
