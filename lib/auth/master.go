// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/edlink/lib/crypt"
	"github.com/bureau-foundation/edlink/lib/secureconn"
)

var (
	// ErrLoginNotInitiated is returned by ContinueLogin without a
	// preceding InitiateLogin.
	ErrLoginNotInitiated = errors.New("auth: login not initiated")

	// ErrBadToken is returned when the token does not match.
	ErrBadToken = errors.New("auth: authentication failed")

	// ErrNotAuthenticated is returned by FinalizeLogin when
	// ContinueLogin has not succeeded.
	ErrNotAuthenticated = errors.New("auth: not authenticated")
)

// Master is the accepting side of a login. One Master serves one
// connection.
type Master struct {
	credentials *CredentialStorage
	encryption  secureconn.Encryption
	provider    crypt.Provider
	salt        string
	logger      *slog.Logger

	mu        sync.Mutex
	nonce     uint32
	hasNonce  bool
	account   string
	candidate string
	verified  crypt.Key
	unwatch   func()
}

// NewMaster returns a Master rotating keys on encryption.
func NewMaster(credentials *CredentialStorage, encryption secureconn.Encryption, provider crypt.Provider, salt string, logger *slog.Logger) *Master {
	if logger == nil {
		logger = slog.Default()
	}
	return &Master{
		credentials: credentials,
		encryption:  encryption,
		provider:    provider,
		salt:        salt,
		logger:      logger,
	}
}

// InitiateLogin draws a fresh nonce for the peer to answer. Any
// previous verification is discarded.
func (m *Master) InitiateLogin() (uint32, error) {
	random, err := m.provider.RandomBytes(4)
	if err != nil {
		return 0, fmt.Errorf("auth: drawing nonce: %w", err)
	}
	nonce := binary.LittleEndian.Uint32(random)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonce = nonce
	m.hasNonce = true
	m.candidate = ""
	m.verified = nil
	return nonce, nil
}

// ContinueLogin checks token against the outstanding nonce. The nonce
// is consumed whether or not the token matches. A rejected token
// leaves the current login in effect.
func (m *Master) ContinueLogin(id, token string) error {
	m.mu.Lock()
	nonce, hasNonce := m.nonce, m.hasNonce
	m.hasNonce = false
	m.candidate = ""
	m.verified = nil
	m.mu.Unlock()
	if !hasNonce {
		return ErrLoginNotInitiated
	}

	account, err := m.credentials.Account(id)
	if err != nil {
		return err
	}
	key, err := account.DeriveKey(m.salt)
	if err != nil {
		return err
	}
	expected, err := Token(m.provider, key, nonce)
	if err != nil {
		return err
	}
	if !tokensEqual(expected, token) {
		m.logger.Warn("login rejected", "account", id)
		return ErrBadToken
	}

	m.mu.Lock()
	m.candidate = id
	m.verified = key
	m.mu.Unlock()
	return nil
}

// FinalizeLogin switches the transport to the verified account's key
// and follows its password changes. Call it after the response to the
// login request has been written under the old key.
func (m *Master) FinalizeLogin() error {
	m.mu.Lock()
	id, key := m.candidate, m.verified
	if key == nil {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	m.candidate = ""
	m.verified = nil
	m.account = id
	previous := m.unwatch
	m.unwatch = nil
	m.mu.Unlock()
	if previous != nil {
		previous()
	}

	if err := m.encryption.RotateKey(key, id); err != nil {
		return fmt.Errorf("auth: rotating to account %q: %w", id, err)
	}

	account, err := m.credentials.Account(id)
	if err != nil {
		return err
	}
	unwatch := account.Watch(func() {
		key, err := account.DeriveKey(m.salt)
		if err != nil {
			m.logger.Warn("account changed; key not updated", "account", id, "error", err)
			return
		}
		m.encryption.SetEncryptionKey(key)
		m.logger.Info("account key updated", "account", id, "key", key.Fingerprint())
	})

	m.mu.Lock()
	m.unwatch = unwatch
	m.mu.Unlock()
	m.logger.Info("logged in", "account", id, "key", key.Fingerprint())
	return nil
}

// Logout rotates back to the default key, announcing the empty id.
func (m *Master) Logout() error {
	m.mu.Lock()
	id := m.account
	m.account = ""
	m.candidate = ""
	m.verified = nil
	m.hasNonce = false
	unwatch := m.unwatch
	m.unwatch = nil
	m.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
	if err := m.encryption.RotateKey(m.encryption.DefaultKey(), ""); err != nil {
		return fmt.Errorf("auth: logging out: %w", err)
	}
	m.logger.Info("logged out", "account", id)
	return nil
}

// Account returns the logged-in account id, or "".
func (m *Master) Account() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account
}

// Close stops following account updates.
func (m *Master) Close() {
	m.mu.Lock()
	unwatch := m.unwatch
	m.unwatch = nil
	m.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
}
