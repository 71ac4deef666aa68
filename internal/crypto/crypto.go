package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrDecryption is returned when decryption fails: wrong owner key, stale key,
// or tampered ciphertext. Callers must not expose which of these it was.
var ErrDecryption = errors.New("decryption failed")

const ownerKeyContext = "keyproxy-owner-key-v1"

// DeriveOwnerKey derives the per-owner AEAD key from the ephemeral unlock key
// using HKDF-SHA256. The owner id is bound into the derivation, so records of
// different owners are encrypted under different keys even if the same unlock
// key were ever reused across owners.
func DeriveOwnerKey(unlockKey []byte, ownerID string) ([]byte, error) {
	if len(unlockKey) == 0 {
		return nil, errors.New("empty unlock key")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, unlockKey, nil, []byte(ownerKeyContext+"|"+ownerID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving owner key: %w", err)
	}
	return key, nil
}

// EncryptSecret encrypts an upstream credential with AES-256-GCM under the
// derived owner key, using a fresh random nonce. Returns ciphertext and nonce
// separately.
func EncryptSecret(plaintext, ownerKey []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(ownerKey)
	if err != nil {
		return nil, nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GCM: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// DecryptSecret decrypts AES-256-GCM ciphertext produced by EncryptSecret.
// Any authentication failure is reported as ErrDecryption.
func DecryptSecret(ciphertext, nonce, ownerKey []byte) ([]byte, error) {
	block, err := aes.NewCipher(ownerKey)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// ZeroBytes wipes key material from memory.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
