// Coworker is a local-first filesystem coworker server.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package cryptutil provides at-rest encryption for the session tokens
// column of the store, so a copy of the SQLite file alone isn't
// enough to replay a live session.
package cryptutil

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

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the size of the per-encryption random salt.
	SaltSize = 32
	// KeySize is the size of the derived AES-256 key.
	KeySize = 32
	// Iterations is the PBKDF2 work factor for key derivation.
	Iterations = 100000
)

// Encryptor derives a fresh AES key per call from a passphrase and a
// random salt, unlike a fixed-salt scheme: the salt travels alongside the
// ciphertext so no two encryptions of the same plaintext collide.
type Encryptor struct {
	passphrase []byte
}

// NewEncryptor creates an encryptor bound to the given passphrase, which
// should come from config (an env var or flag), never hardcoded.
func NewEncryptor(passphrase string) (*Encryptor, error) {
	if passphrase == "" {
		return nil, errors.New("cryptutil: passphrase cannot be empty")
	}
	return &Encryptor{passphrase: []byte(passphrase)}, nil
}

// Encrypt returns a base64-encoded salt|nonce|ciphertext blob.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("cryptutil: plaintext cannot be empty")
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := pbkdf2.Key(e.passphrase, salt, Iterations, KeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	combined := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	combined = append(combined, salt...)
	combined = append(combined, nonce...)
	combined = append(combined, ciphertext...)

	return base64.StdEncoding.EncodeToString(combined), nil
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", errors.New("cryptutil: encoded text cannot be empty")
	}

	combined, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	if len(combined) < SaltSize {
		return "", errors.New("cryptutil: encoded text too short")
	}

	salt := combined[:SaltSize]
	rest := combined[SaltSize:]
	key := pbkdf2.Key(e.passphrase, salt, Iterations, KeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}
	if len(rest) < gcm.NonceSize() {
		return "", errors.New("cryptutil: encoded text too short")
	}

	nonce := rest[:gcm.NonceSize()]
	ciphertext := rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// RedactSecret masks a secret for logging: empty stays empty, short
// strings (<=4 chars) become "****", longer ones keep their first and
// last two characters. Used when the server logs its own configuration
// (e.g. the token encryption passphrase) so operators can eyeball which
// value is active without the secret itself landing in a log file.
func RedactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}
