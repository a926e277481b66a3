package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// ErrShortKey 加密密钥不足 32 字节
var ErrShortKey = errors.New("encryption key must be at least 32 bytes long")

// nationalIDVisible 脱敏后保留的末尾字符数
const nationalIDVisible = 4

// newGCM 由配置密钥派生 AES-256-GCM
func newGCM(key string) (cipher.AEAD, error) {
	if len(key) < 32 {
		return nil, ErrShortKey
	}
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SealNationalID 加密证件号,返回 base64(nonce||密文)
func SealNationalID(nationalID string, key string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(nationalID), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenNationalID 解密 SealNationalID 的结果
func OpenNationalID(sealed string, key string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decode national ID: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("sealed national ID too short")
	}
	nonce, body := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt national ID: %w", err)
	}
	return string(plain), nil
}

// MaskNationalID 只保留末尾 4 位,其余替换为 *
func MaskNationalID(nationalID string) string {
	n := utf8.RuneCountInString(nationalID)
	if n <= nationalIDVisible {
		return strings.Repeat("*", n)
	}
	runes := []rune(nationalID)
	return strings.Repeat("*", n-nationalIDVisible) + string(runes[n-nationalIDVisible:])
}

// DigestNationalID 生成证件号的 bcrypt 摘要,核验时无需解密
func DigestNationalID(nationalID string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(nationalID), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to digest national ID: %w", err)
	}
	return string(digest), nil
}

// MatchNationalID 比对证件号与摘要
func MatchNationalID(nationalID string, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(nationalID)) == nil
}
