// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// NameAESCBC identifies the AES-256-CBC provider in configuration.
const NameAESCBC = "aes-256-cbc"

// ErrPadding reports ciphertext whose PKCS#7 padding does not verify,
// which almost always means the wrong key.
var ErrPadding = errors.New("crypt: invalid padding")

// AESCBC is AES-256 in CBC mode with PKCS#7 padding. Ciphertext is
// always a non-zero multiple of the block size: a 4-byte input
// encrypts to 16 bytes.
type AESCBC struct {
	// Scrypt configures DeriveKey. The zero value means DefaultScrypt.
	Scrypt ScryptParams
}

var _ Provider = (*AESCBC)(nil)

const aesKeySize = 32

func (p *AESCBC) DeriveKey(password, salt string) (Key, error) {
	return DeriveKey(scryptOrDefault(p.Scrypt), password, salt, aesKeySize)
}

func (p *AESCBC) Encrypt(data []byte, key Key, iv []byte) ([]byte, error) {
	block, err := p.block(key, iv)
	if err != nil {
		return nil, err
	}
	padding := aes.BlockSize - len(data)%aes.BlockSize
	buffer := make([]byte, len(data)+padding)
	copy(buffer, data)
	for index := len(data); index < len(buffer); index++ {
		buffer[index] = byte(padding)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(buffer, buffer)
	return buffer, nil
}

func (p *AESCBC) Decrypt(data []byte, key Key, iv []byte) ([]byte, error) {
	block, err := p.block(key, iv)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("crypt: ciphertext length %d is not a positive multiple of %d", len(data), aes.BlockSize)
	}
	buffer := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(buffer, data)

	padding := int(buffer[len(buffer)-1])
	if padding == 0 || padding > aes.BlockSize {
		return nil, ErrPadding
	}
	var mismatch byte
	for _, value := range buffer[len(buffer)-padding:] {
		mismatch |= value ^ byte(padding)
	}
	if mismatch != 0 {
		return nil, ErrPadding
	}
	return buffer[:len(buffer)-padding], nil
}

func (p *AESCBC) BlockSize() int { return aes.BlockSize }

func (p *AESCBC) IVSize() int { return aes.BlockSize }

func (p *AESCBC) RandomBytes(n int) ([]byte, error) { return randomBytes(n) }

func (p *AESCBC) block(key Key, iv []byte) (cipher.Block, error) {
	if len(key) != aesKeySize {
		return nil, fmt.Errorf("crypt: AES-256 key must be %d bytes, got %d", aesKeySize, len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("crypt: AES-CBC IV must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	return aes.NewCipher(key)
}

func scryptOrDefault(params ScryptParams) ScryptParams {
	if params.N == 0 {
		return DefaultScrypt
	}
	return params
}
