package security

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// テストでは反復回数を減らして高速化する
func newTestHasher() *PasswordHasher {
	return NewPasswordHasher(1000)
}

func TestPasswordHasher_HashIsDeterministic(t *testing.T) {
	h := newTestHasher()

	a := h.Hash("correct horse", "0011223344556677")
	b := h.Hash("correct horse", "0011223344556677")

	assert.Equal(t, a, b)
	assert.Len(t, a, DefaultKeyLength*2)
	_, err := hex.DecodeString(a)
	assert.NoError(t, err, "hash should be hex encoded")
}

func TestPasswordHasher_SaltChangesHash(t *testing.T) {
	h := newTestHasher()

	assert.NotEqual(t,
		h.Hash("correct horse", "salt-a"),
		h.Hash("correct horse", "salt-b"),
	)
}

func TestPasswordHasher_IterationsChangeHash(t *testing.T) {
	assert.NotEqual(t,
		NewPasswordHasher(1000).Hash("pw", "salt"),
		NewPasswordHasher(1001).Hash("pw", "salt"),
	)
}

func TestPasswordHasher_VerifyCorrectPassword(t *testing.T) {
	h := newTestHasher()
	salt, err := GenerateSalt()
	require.NoError(t, err)

	hash := h.Hash("s3cret-pass", salt)

	assert.True(t, h.Verify("s3cret-pass", salt, hash))
}

func TestPasswordHasher_VerifySingleCharacterChangeFails(t *testing.T) {
	h := newTestHasher()
	salt, err := GenerateSalt()
	require.NoError(t, err)

	password := "s3cret-pass"
	hash := h.Hash(password, salt)

	// 先頭・中央・末尾のどこを変えても不一致になる
	for i := range password {
		mutated := []byte(password)
		mutated[i] ^= 0x01
		assert.False(t, h.Verify(string(mutated), salt, hash), "mutation at %d should fail", i)
	}
}

func TestPasswordHasher_VerifyLengthMismatch(t *testing.T) {
	h := newTestHasher()

	assert.False(t, h.Verify("pw", "salt", "abcd"))
	assert.False(t, h.Verify("pw", "salt", ""))
}

func TestPasswordHasher_VerifyWrongSalt(t *testing.T) {
	h := newTestHasher()
	hash := h.Hash("pw", "salt-1")

	assert.False(t, h.Verify("pw", "salt-2", hash))
}

// NFCとNFDで表現が異なる同一文字列は同じハッシュになる
func TestPasswordHasher_NormalizesUnicode(t *testing.T) {
	h := newTestHasher()

	nfc := "caf\u00e9"
	nfd := "cafe\u0301"
	require.NotEqual(t, nfc, nfd)

	assert.Equal(t, h.Hash(nfc, "salt"), h.Hash(nfd, "salt"))
	assert.True(t, h.Verify(nfd, "salt", h.Hash(nfc, "salt")))
}

func TestNewPasswordHasher_DefaultsIterations(t *testing.T) {
	h := NewPasswordHasher(0)

	assert.Equal(t, DefaultIterations, h.Iterations)
	assert.Equal(t, DefaultKeyLength, h.KeyLength)
}

func TestGenerateSalt_FormatAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		salt, err := GenerateSalt()
		require.NoError(t, err)
		assert.Len(t, salt, SaltLength*2)
		_, err = hex.DecodeString(salt)
		assert.NoError(t, err)
		assert.False(t, seen[salt], "salt should not repeat")
		seen[salt] = true
	}
}

func BenchmarkPasswordHasher_Verify(b *testing.B) {
	h := NewPasswordHasher(DefaultIterations)
	hash := h.Hash("benchmark-password", "salt")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Verify("benchmark-passworx", "salt", hash)
	}
}
