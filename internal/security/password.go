package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultIterations はPBKDF2の反復回数のデフォルト値。
	DefaultIterations = 100_000
	// DefaultKeyLength は導出する鍵のバイト長。hex化すると128文字になる。
	DefaultKeyLength = 64
	// SaltLength はソルトのバイト長。hex化すると32文字になる。
	SaltLength = 16
)

// PasswordHasher はPBKDF2-HMAC-SHA256によるパスワードハッシュを提供する。
// 空パスワードの拒否は呼び出し側の入力検証で行う。
type PasswordHasher struct {
	Iterations int
	KeyLength  int
}

// NewPasswordHasher はPasswordHasherを生成する。
// iterationsが0以下の場合はDefaultIterationsを使用する。
func NewPasswordHasher(iterations int) *PasswordHasher {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &PasswordHasher{
		Iterations: iterations,
		KeyLength:  DefaultKeyLength,
	}
}

// Hash はパスワードとソルトからhexエンコードされたハッシュを導出する。
// パスワードはNFC正規化してから使用する。同一入力に対して常に同一出力を返す。
func (h *PasswordHasher) Hash(password, salt string) string {
	normalized := norm.NFC.String(password)
	key := pbkdf2.Key([]byte(normalized), []byte(salt), h.Iterations, h.KeyLength, sha256.New)
	return hex.EncodeToString(key)
}

// Verify はパスワードが期待するハッシュと一致するかを検証する。
// 長さが異なる場合のみ即座にfalseを返し、それ以外は不一致の位置に依らず
// 定数時間で比較する。
func (h *PasswordHasher) Verify(password, salt, expectedHash string) bool {
	actual := h.Hash(password, salt)
	if len(actual) != len(expectedHash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expectedHash)) == 1
}

// GenerateSalt は暗号論的に安全な乱数からhexエンコードされたソルトを生成する。
func GenerateSalt() (string, error) {
	b := make([]byte, SaltLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateSalt は新しいソルトを生成する。
func (h *PasswordHasher) GenerateSalt() (string, error) {
	return GenerateSalt()
}
