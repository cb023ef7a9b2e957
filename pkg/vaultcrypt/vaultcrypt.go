// Package vaultcrypt implements the server side of the browser encryption
// scheme: AES-256-GCM with PBKDF2-derived keys. IVs, salts and verifiers
// travel base64-encoded; the GCM auth tag is appended to the ciphertext.
package vaultcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Key derivation parameters, matching the browser's PBKDF2 setup.
	kdfIterations = 100000
	keyLength     = 32

	ivLength   = 12
	saltLength = 16
)

var (
	// ErrPasswordRequired is returned when a record has a password gate and
	// no credential was supplied.
	ErrPasswordRequired = errors.New("password required")

	// ErrPasswordInvalid is returned when the supplied credential does not
	// reproduce the stored verifier.
	ErrPasswordInvalid = errors.New("password invalid")

	// ErrDecryptFailed is returned when the ciphertext cannot be decrypted
	// with the stored key material.
	ErrDecryptFailed = errors.New("failed to decrypt file")
)

// DeriveKey runs PBKDF2-SHA256 over the secret with the given salt.
func DeriveKey(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, kdfIterations, keyLength, sha256.New)
}

// Decrypt decrypts an AES-256-GCM payload using a key derived from the
// client's key string. iv and salt are base64 encoded; the auth tag is the
// final 16 bytes of the ciphertext.
func Decrypt(ciphertext []byte, keySecret, ivB64, saltB64 string) ([]byte, error) {
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad iv encoding", ErrDecryptFailed)
	}
	if len(iv) != ivLength {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrDecryptFailed, ivLength, len(iv))
	}

	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad salt encoding", ErrDecryptFailed)
	}
	if len(salt) != saltLength {
		return nil, fmt.Errorf("%w: salt must be %d bytes, got %d", ErrDecryptFailed, saltLength, len(salt))
	}

	key := DeriveKey(keySecret, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptFailed, err)
	}
	if len(ciphertext) < gcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptFailed)
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptFailed, err)
	}
	return plaintext, nil
}

// Encrypt is the counterpart of Decrypt, used by the test client and by
// tests: random salt and IV, PBKDF2-derived key, AES-256-GCM with the auth
// tag appended. Returns the ciphertext plus base64 iv and salt.
func Encrypt(plaintext []byte, keySecret string) (ciphertext []byte, ivB64, saltB64 string, err error) {
	iv := make([]byte, ivLength)
	if _, err = rand.Read(iv); err != nil {
		return nil, "", "", err
	}
	salt := make([]byte, saltLength)
	if _, err = rand.Read(salt); err != nil {
		return nil, "", "", err
	}

	key := DeriveKey(keySecret, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, "", "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, "", "", err
	}

	ciphertext = gcm.Seal(nil, iv, plaintext, nil)
	return ciphertext, base64.StdEncoding.EncodeToString(iv), base64.StdEncoding.EncodeToString(salt), nil
}

// NewSalt returns a fresh random salt, base64 encoded, for password
// verifiers.
func NewSalt() (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(salt), nil
}

// MakeVerifier derives the password verifier for the given salt, base64
// encoded for storage.
func MakeVerifier(password string, salt []byte) string {
	return base64.StdEncoding.EncodeToString(DeriveKey(password, salt))
}

// VerifyPassword checks a credential against the stored salt and verifier
// (both base64 encoded). The comparison is constant time.
func VerifyPassword(password, pwSaltB64, pwVerifierB64 string) error {
	if password == "" {
		return ErrPasswordRequired
	}

	salt, err := base64.StdEncoding.DecodeString(pwSaltB64)
	if err != nil {
		return ErrPasswordInvalid
	}
	want, err := base64.StdEncoding.DecodeString(pwVerifierB64)
	if err != nil {
		return ErrPasswordInvalid
	}

	got := DeriveKey(password, salt)
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrPasswordInvalid
	}
	return nil
}
