// Package cryptoengine provides the cryptographic primitives for the
// credential session subsystem: key derivation, authenticated encryption,
// one-way hashing and secure random generation.
//
// All operations are pure functions with no stored key state. The only
// long-lived secret (the per-session secret) is owned by the vault that
// calls into this package.
package cryptoengine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeyLength is the derived key size in bytes (AES-256).
	KeyLength = 32

	// SaltLength is the salt size used for key derivation.
	SaltLength = 16

	// NonceLength is the AES-GCM nonce size. A fresh nonce is generated
	// for every Encrypt call and must never be reused under the same key.
	NonceLength = 12

	// KeyIterations is the PBKDF2 iteration count.
	KeyIterations = 100_000
)

// SealedBox carries everything decryption needs besides the secret itself.
// The salt travels with the ciphertext so the same key can be re-derived.
// The GCM authentication tag is appended to Ciphertext.
type SealedBox struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	Salt       []byte `json:"salt"`
}

// DeriveKey stretches secret into a 256-bit key using PBKDF2-SHA256.
// Deterministic for identical inputs; callers must supply a fresh random
// salt unless intentionally re-deriving the same key.
func DeriveKey(secret, salt []byte) []byte {
	return pbkdf2.Key(secret, salt, KeyIterations, KeyLength, sha256.New)
}

// Encrypt seals plaintext under a key derived from secret and a freshly
// generated random salt, using AES-256-GCM with a fresh random nonce.
func Encrypt(plaintext, secret []byte) (*SealedBox, error) {
	if len(plaintext) == 0 {
		return nil, EncryptionErr
	}

	salt, err := RandomBytes(SaltLength)
	if err != nil {
		return nil, errors.Wrap(EncryptionErr, "[Encrypt] salt generation")
	}
	nonce, err := RandomBytes(NonceLength)
	if err != nil {
		return nil, errors.Wrap(EncryptionErr, "[Encrypt] nonce generation")
	}

	aead, err := newAEAD(DeriveKey(secret, salt))
	if err != nil {
		return nil, errors.Wrap(EncryptionErr, err.Error())
	}

	return &SealedBox{
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
		Salt:       salt,
	}, nil
}

// Decrypt re-derives the key from secret and the box's salt and opens the
// ciphertext. Any failure (tag mismatch, truncated input, wrong secret)
// returns DecryptionErr; there is no partial success. Callers must treat a
// failed decrypt identically to "no valid credential".
func Decrypt(box *SealedBox, secret []byte) ([]byte, error) {
	if box == nil || len(box.Ciphertext) == 0 || len(box.Nonce) != NonceLength || len(box.Salt) < SaltLength {
		return nil, DecryptionErr
	}

	aead, err := newAEAD(DeriveKey(secret, box.Salt))
	if err != nil {
		return nil, errors.Wrap(DecryptionErr, err.Error())
	}

	plaintext, err := aead.Open(nil, box.Nonce, box.Ciphertext, nil)
	if err != nil {
		return nil, DecryptionErr
	}
	return plaintext, nil
}

// Hash returns the hex-encoded SHA-256 digest of data. Used for cache keys
// and fingerprints, not for secrecy.
func Hash(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// RandomToken returns a URL-safe random string built from length random
// bytes. Used for the session secret and anti-replay state nonces.
func RandomToken(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("[RandomToken] length must be positive")
	}
	bytes, err := RandomBytes(length)
	if err != nil {
		return "", errors.Wrap(err, "[RandomToken] rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return nil, errors.Wrap(err, "[RandomBytes] rand.Read")
	}
	return bytes, nil
}

// SecureCompare reports whether a and b are equal in constant time.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
