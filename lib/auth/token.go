// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/bureau-foundation/edlink/lib/crypt"
)

// Token proves knowledge of key for nonce: the little-endian nonce
// encrypted under key with an all-zero IV, in standard base64.
func Token(provider crypt.Provider, key crypt.Key, nonce uint32) (string, error) {
	var plaintext [4]byte
	binary.LittleEndian.PutUint32(plaintext[:], nonce)
	iv := make([]byte, provider.IVSize())
	ciphertext, err := provider.Encrypt(plaintext[:], key, iv)
	if err != nil {
		return "", fmt.Errorf("auth: computing token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
