package secrets

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateShape(t *testing.T) {
	codec := NewCodec("mk_live_")

	gen, err := codec.Generate()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(gen.Raw, "mk_live_"))
	assert.GreaterOrEqual(t, len(gen.Raw)-len("mk_live_"), 96)
	assert.Len(t, gen.Digest, 64)
	assert.Equal(t, gen.Raw[:8], gen.Prefix)
	assert.Equal(t, gen.Raw[len(gen.Raw)-4:], gen.Suffix)
}

func TestDigestDeterministic(t *testing.T) {
	assert.Equal(t, Digest("mk_live_abc"), Digest("mk_live_abc"))
	assert.NotEqual(t, Digest("mk_live_abc"), Digest("mk_live_abd"))
}

func TestGenerateUnique(t *testing.T) {
	codec := NewCodec("")

	a, err := codec.Generate()
	require.NoError(t, err)
	b, err := codec.Generate()
	require.NoError(t, err)

	assert.NotEqual(t, a.Raw, b.Raw)
	assert.NotEqual(t, a.Digest, b.Digest)
}

func TestVerifyMatchesOnlyExactSecret(t *testing.T) {
	codec := NewCodec("mk_live_")
	gen, err := codec.Generate()
	require.NoError(t, err)

	assert.True(t, Verify(gen.Raw, gen.Digest))
	assert.False(t, Verify(gen.Raw+"x", gen.Digest))
	assert.False(t, Verify(gen.Raw, Digest("something else")))
	assert.False(t, Verify(gen.Raw, gen.Digest[:63]))
}

func TestVerifyRejectsSingleByteMutations(t *testing.T) {
	codec := NewCodec("mk_live_")
	gen, err := codec.Generate()
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		pos := rng.Intn(len(gen.Raw))
		mutated := []byte(gen.Raw)
		mutated[pos] ^= 1 + byte(rng.Intn(255))
		if string(mutated) == gen.Raw {
			continue
		}
		assert.False(t, Verify(string(mutated), gen.Digest), "mutation at %d must not verify", pos)
	}
}

func TestMaskedNeverMatchesSecretShape(t *testing.T) {
	codec := NewCodec("mk_live_")
	gen, err := codec.Generate()
	require.NoError(t, err)

	masked := Masked(gen.Prefix, gen.Suffix)
	assert.NotEqual(t, len(gen.Raw), len(masked))
	assert.False(t, Verify(masked, gen.Digest))
}
