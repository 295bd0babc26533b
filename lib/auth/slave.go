// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/edlink/lib/crypt"
	"github.com/bureau-foundation/edlink/lib/secureconn"
)

// ErrUnexpectedKeyChange rejects a KeyChange for an account the slave
// is not logging into.
var ErrUnexpectedKeyChange = errors.New("auth: unexpected key change")

// Slave is the connecting side of a login. It answers the master's
// nonce and follows the KeyChange that completes the login.
type Slave struct {
	credentials *CredentialStorage
	encryption  secureconn.Encryption
	provider    crypt.Provider
	salt        string
	logger      *slog.Logger

	unsubscribe func()

	mu      sync.Mutex
	pending string
	account string
	unwatch func()
}

// NewSlave subscribes to key changes on encryption. Close releases the
// subscription.
func NewSlave(credentials *CredentialStorage, encryption secureconn.Encryption, provider crypt.Provider, salt string, logger *slog.Logger) *Slave {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Slave{
		credentials: credentials,
		encryption:  encryption,
		provider:    provider,
		salt:        salt,
		logger:      logger,
	}
	s.unsubscribe = encryption.OnKeyChange(s.keyChanged)
	return s
}

// Authenticate computes the token for nonce under account's key and
// marks account as the login in progress. The current login stays in
// effect until the peer confirms the new one.
func (s *Slave) Authenticate(account string, nonce uint32) (string, error) {
	key, err := s.deriveKey(account)
	if err != nil {
		return "", err
	}
	token, err := Token(s.provider, key, nonce)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.pending = account
	s.mu.Unlock()
	return token, nil
}

// Abort forgets the login in progress after the peer rejected it or
// never answered. The current login, if any, is unaffected.
func (s *Slave) Abort() {
	s.mu.Lock()
	s.pending = ""
	s.mu.Unlock()
}

// Account returns the logged-in account id, or "" when anonymous.
func (s *Slave) Account() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// Close stops following key changes and account updates.
func (s *Slave) Close() {
	s.unsubscribe()
	s.mu.Lock()
	unwatch := s.unwatch
	s.unwatch = nil
	s.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
}

func (s *Slave) deriveKey(id string) (crypt.Key, error) {
	account, err := s.credentials.Account(id)
	if err != nil {
		return nil, err
	}
	return account.DeriveKey(s.salt)
}

func (s *Slave) keyChanged(id string) error {
	s.mu.Lock()
	switch {
	case id != "" && id == s.pending:
		s.pending = ""
		s.account = id
		previous := s.unwatch
		s.unwatch = nil
		s.mu.Unlock()
		if previous != nil {
			previous()
		}
		return s.adopt(id)

	case id == "" && s.pending == "":
		previous := s.unwatch
		s.unwatch = nil
		s.account = ""
		s.mu.Unlock()
		if previous != nil {
			previous()
		}
		s.encryption.SetEncryptionKey(s.encryption.DefaultKey())
		s.logger.Info("logged out")
		return nil

	default:
		pending := s.pending
		s.mu.Unlock()
		return fmt.Errorf("%w: peer announced %q while logging into %q", ErrUnexpectedKeyChange, id, pending)
	}
}

func (s *Slave) adopt(id string) error {
	account, err := s.credentials.Account(id)
	if err != nil {
		return err
	}
	key, err := account.DeriveKey(s.salt)
	if err != nil {
		return err
	}
	s.encryption.SetEncryptionKey(key)

	unwatch := account.Watch(func() {
		key, err := account.DeriveKey(s.salt)
		if err != nil {
			s.logger.Warn("account changed; key not updated", "account", id, "error", err)
			return
		}
		s.encryption.SetEncryptionKey(key)
		s.logger.Info("account key updated", "account", id, "key", key.Fingerprint())
	})

	s.mu.Lock()
	if s.account != id {
		s.mu.Unlock()
		unwatch()
		return nil
	}
	s.unwatch = unwatch
	s.mu.Unlock()
	s.logger.Info("logged in", "account", id, "key", key.Fingerprint())
	return nil
}
