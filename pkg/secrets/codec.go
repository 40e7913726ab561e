package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// DefaultPrefix is the literal tag prepended to every generated raw secret.
const DefaultPrefix = "mk_live_"

const (
	rawRandomBytes   = 48
	displayPrefixLen = 8
	displaySuffixLen = 4
	maskedRunLen     = 8
)

// Generated carries the one-time raw secret and its persisted projections.
// Raw is shown to the caller exactly once and never stored.
type Generated struct {
	Raw    string
	Digest string
	Prefix string
	Suffix string
}

// Codec generates opaque API key secrets and verifies candidates against
// stored digests without leaking timing information.
type Codec struct {
	prefix string
}

// NewCodec builds a codec using the given secret prefix tag.
func NewCodec(prefix string) *Codec {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Codec{prefix: prefix}
}

// Prefix returns the secret prefix tag this codec generates with.
func (c *Codec) Prefix() string {
	return c.prefix
}

// Generate draws 48 bytes from the secure random source and derives the raw
// secret, its SHA-256 digest, and the short display prefix/suffix. An error
// here means the random source is exhausted and is fatal to the caller.
func (c *Codec) Generate() (*Generated, error) {
	buf := make([]byte, rawRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read secure random source: %w", err)
	}

	raw := c.prefix + hex.EncodeToString(buf)
	return &Generated{
		Raw:    raw,
		Digest: Digest(raw),
		Prefix: raw[:displayPrefixLen],
		Suffix: raw[len(raw)-displaySuffixLen:],
	}, nil
}

// Digest returns the hex-encoded SHA-256 digest of a raw secret.
// Deterministic: the only form of the secret ever persisted.
func Digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the candidate's digest and compares it against the
// stored digest in constant time. Length mismatch fails fast; equal-length
// comparison never short-circuits on the first differing byte.
func Verify(candidateRaw, storedDigest string) bool {
	computed := Digest(candidateRaw)
	if len(computed) != len(storedDigest) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedDigest)) == 1
}

// Masked renders the display form of a key: prefix, a fixed run of bullets,
// suffix. The masked value is structurally incapable of colliding with a
// real secret (its length differs from any generated raw secret).
func Masked(prefix, suffix string) string {
	return prefix + strings.Repeat("•", maskedRunLen) + suffix
}
