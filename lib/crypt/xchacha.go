// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crypt

import (
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// NameXChaCha20 identifies the XChaCha20 provider in configuration.
const NameXChaCha20 = "xchacha20"

// XChaCha20 is the XChaCha20 stream cipher. Ciphertext has the same
// length as plaintext. The 24-byte IV is large enough that random IVs
// never need coordination between peers.
type XChaCha20 struct {
	// Scrypt configures DeriveKey. The zero value means DefaultScrypt.
	Scrypt ScryptParams
}

var _ Provider = (*XChaCha20)(nil)

func (p *XChaCha20) DeriveKey(password, salt string) (Key, error) {
	return DeriveKey(scryptOrDefault(p.Scrypt), password, salt, chacha20.KeySize)
}

func (p *XChaCha20) Encrypt(data []byte, key Key, iv []byte) ([]byte, error) {
	return p.xor(data, key, iv)
}

func (p *XChaCha20) Decrypt(data []byte, key Key, iv []byte) ([]byte, error) {
	return p.xor(data, key, iv)
}

func (p *XChaCha20) BlockSize() int { return 1 }

func (p *XChaCha20) IVSize() int { return chacha20.NonceSizeX }

func (p *XChaCha20) RandomBytes(n int) ([]byte, error) { return randomBytes(n) }

func (p *XChaCha20) xor(data []byte, key Key, iv []byte) ([]byte, error) {
	stream, err := chacha20.NewUnauthenticatedCipher(key, iv)
	if err != nil {
		return nil, fmt.Errorf("crypt: xchacha20: %w", err)
	}
	output := make([]byte, len(data))
	stream.XORKeyStream(output, data)
	return output, nil
}
