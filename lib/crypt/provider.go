// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crypt

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/scrypt"
)

// Provider is the capability surface every cipher implementation
// offers. Implementations must be safe for concurrent use.
type Provider interface {
	// DeriveKey stretches a password and salt into a key sized for
	// this cipher.
	DeriveKey(password, salt string) (Key, error)

	// Encrypt returns the ciphertext of data under key and iv.
	Encrypt(data []byte, key Key, iv []byte) ([]byte, error)

	// Decrypt reverses Encrypt. A wrong key or damaged input may
	// return an error (bad padding) or garbage; callers that need
	// integrity must verify it separately.
	Decrypt(data []byte, key Key, iv []byte) ([]byte, error)

	// BlockSize is the cipher block size in bytes. Stream ciphers
	// report 1.
	BlockSize() int

	// IVSize is the length of the initialization vector in bytes.
	IVSize() int

	// RandomBytes returns n bytes from a cryptographically secure
	// source.
	RandomBytes(n int) ([]byte, error)
}

// Key is symmetric key material. A nil Key means "no key": the
// transport passes such frames through in plaintext.
type Key []byte

// Fingerprint returns a short, non-reversible identifier for the key,
// suitable for logs. Returns "none" for a nil key.
func (k Key) Fingerprint() string {
	if k == nil {
		return "none"
	}
	sum := blake3.Sum256(k)
	return hex.EncodeToString(sum[:6])
}

// Equal reports whether two keys hold identical material.
func (k Key) Equal(other Key) bool {
	if (k == nil) != (other == nil) || len(k) != len(other) {
		return false
	}
	var diff byte
	for index := range k {
		diff |= k[index] ^ other[index]
	}
	return diff == 0
}

// ScryptParams configures password-based key derivation.
type ScryptParams struct {
	N int
	R int
	P int
}

// DefaultScrypt matches the cost parameters remote editor builds use.
// Changing them changes every derived key.
var DefaultScrypt = ScryptParams{N: 32768, R: 8, P: 1}

// DeriveKey runs scrypt over password and salt and returns keyLength
// bytes.
func DeriveKey(params ScryptParams, password, salt string, keyLength int) (Key, error) {
	derived, err := scrypt.Key([]byte(password), []byte(salt), params.N, params.R, params.P, keyLength)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return Key(derived), nil
}

func randomBytes(n int) ([]byte, error) {
	buffer := make([]byte, n)
	if _, err := rand.Read(buffer); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return buffer, nil
}

// ByName returns the provider registered under name. Recognized names
// are "aes-256-cbc" and "xchacha20".
func ByName(name string, params ScryptParams) (Provider, error) {
	switch name {
	case "", NameAESCBC:
		return &AESCBC{Scrypt: params}, nil
	case NameXChaCha20:
		return &XChaCha20{Scrypt: params}, nil
	default:
		return nil, fmt.Errorf("unknown cipher %q", name)
	}
}
