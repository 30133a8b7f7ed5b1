// Package secrets protects proxy credentials at rest in the account
// registry file. The registry is a plain JSON file on the local
// filesystem (spec §4.1); proxy passwords stored in it are encrypted
// with a key derived from a per-installation master secret so that a
// casual read of the registry file does not disclose them in the clear.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	keyLen = 32
	info   = "sessionhost-proxy-credential-v1"
)

// Protector encrypts and decrypts proxy credential fields using a key
// derived once from the installation's master secret via HKDF-SHA256,
// the same derivation shape as the teacher's DeriveKey.
type Protector struct {
	key []byte
}

// NewProtector derives a Protector's encryption key from masterSecret,
// salted by accountID so that two accounts' ciphertexts are not
// interchangeable even if the master secret is ever reused.
func NewProtector(masterSecret []byte, accountID string) (*Protector, error) {
	reader := hkdf.New(sha256.New, masterSecret, []byte(accountID), []byte(info))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive proxy credential key: %w", err)
	}
	return &Protector{key: key}, nil
}

// Encrypt returns the base64-encoded AES-256-GCM sealed form of
// plaintext, or "" if plaintext is empty (no credential to protect).
func (p *Protector) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(p.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. An empty ciphertext decrypts to "".
func (p *Protector) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode proxy credential: %w", err)
	}

	block, err := aes.NewCipher(p.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("proxy credential ciphertext too short")
	}
	nonce, body := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt proxy credential: %w", err)
	}
	return string(plaintext), nil
}
