package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verification-service/internal/config"
)

func testHasher(pepper string) *Hasher {
	return NewHasher(config.HashingConfig{
		Argon2MemoryCost:  1024,
		Argon2TimeCost:    1,
		Argon2Parallelism: 1,
		Pepper:            pepper,
	})
}

func TestHashAndVerifyPassword(t *testing.T) {
	h := testHasher("pepper")

	encoded, err := h.HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := h.VerifyPassword("s3cret-pass", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyPassword("wrong-pass", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPassword_SaltedPerCall(t *testing.T) {
	h := testHasher("")

	a, err := h.HashPassword("same")
	require.NoError(t, err)
	b, err := h.HashPassword("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyPassword_PepperMatters(t *testing.T) {
	encoded, err := testHasher("one").HashPassword("s3cret-pass")
	require.NoError(t, err)

	ok, err := testHasher("two").VerifyPassword("s3cret-pass", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPassword_UsesStoredParams(t *testing.T) {
	encoded, err := testHasher("p").HashPassword("s3cret-pass")
	require.NoError(t, err)

	stronger := NewHasher(config.HashingConfig{Argon2MemoryCost: 2048, Argon2TimeCost: 2, Argon2Parallelism: 1, Pepper: "p"})
	ok, err := stronger.VerifyPassword("s3cret-pass", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyPassword_InvalidEncodings(t *testing.T) {
	h := testHasher("")

	for _, in := range []string{"", "plain", "$bcrypt$x$y$z$w", "$argon2id$v=19$m=x$salt$hash", "$argon2id$v=19$m=1024,t=1,p=1$!!$!!"} {
		_, err := h.VerifyPassword("x", in)
		assert.ErrorIs(t, err, ErrInvalidHash, in)
	}

	_, err := h.VerifyPassword("x", "$argon2id$v=16$m=1024,t=1,p=1$c2FsdA$aGFzaA")
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}
