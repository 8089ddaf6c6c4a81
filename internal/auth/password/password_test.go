package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testParams() Argon2Params {
	return Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func newTestHasher(t *testing.T, v Version) *Hasher {
	t.Helper()
	h, err := New(WithCurrentVersion(v), WithBcryptCost(bcrypt.MinCost), WithArgon2Params(testParams()))
	require.NoError(t, err)
	return h
}

func TestHashAndVerify(t *testing.T) {
	for _, v := range []Version{VersionBcrypt, VersionArgon2id} {
		t.Run(v.String(), func(t *testing.T) {
			h := newTestHasher(t, v)

			hash, got, err := h.Hash("hunter22")
			require.NoError(t, err)
			assert.Equal(t, v, got)
			assert.NotContains(t, hash, "hunter22")

			ok, err := h.Verify(hash, got, "hunter22")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = h.Verify(hash, got, "hunter23")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestArgon2idEncoding(t *testing.T) {
	h := newTestHasher(t, VersionArgon2id)
	hash, _, err := h.Hash("hunter22")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))

	other, _, err := h.Hash("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "salts must differ")
}

func TestVerifyAcrossVersions(t *testing.T) {
	legacy := newTestHasher(t, VersionBcrypt)
	current := newTestHasher(t, VersionArgon2id)

	hash, v, err := legacy.Hash("hunter22")
	require.NoError(t, err)

	ok, err := current.Verify(hash, v, "hunter22")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, current.NeedsRehash(v))
	assert.False(t, current.NeedsRehash(VersionArgon2id))
}

func TestVerifyErrors(t *testing.T) {
	h := newTestHasher(t, VersionArgon2id)

	_, err := h.Verify("$argon2id$garbage", VersionArgon2id, "x")
	assert.ErrorIs(t, err, ErrMalformedHash)

	_, err = h.Verify("whatever", Version(9), "x")
	assert.ErrorIs(t, err, ErrUnknownVersion)

	_, _, err = h.Hash("")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestBcryptTooLong(t *testing.T) {
	h := newTestHasher(t, VersionBcrypt)
	_, _, err := h.Hash(strings.Repeat("a", 73))
	assert.ErrorIs(t, err, ErrSecretTooLong)
}

func TestNewRejectsUnknownVersion(t *testing.T) {
	_, err := New(WithCurrentVersion(Version(7)))
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestDummyCompare(t *testing.T) {
	h := newTestHasher(t, VersionArgon2id)
	assert.NotEmpty(t, h.dummy)
	h.DummyCompare("anything")
}
