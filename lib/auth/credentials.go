// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/bureau-foundation/edlink/lib/crypt"
	"github.com/bureau-foundation/edlink/lib/secret"
)

var (
	// ErrNoAccount is returned for an account id that is not in the
	// storage.
	ErrNoAccount = errors.New("auth: no such account")

	// ErrAccountClosed is returned by operations on a deleted account.
	ErrAccountClosed = errors.New("auth: account deleted")
)

// CredentialStorage holds accounts by id. It is safe for concurrent
// use.
type CredentialStorage struct {
	provider crypt.Provider

	mu       sync.Mutex
	accounts map[string]*Account
}

// NewCredentialStorage returns an empty storage whose accounts derive
// keys with provider.
func NewCredentialStorage(provider crypt.Provider) *CredentialStorage {
	return &CredentialStorage{
		provider: provider,
		accounts: make(map[string]*Account),
	}
}

// NewAccount adds an account. An existing account with the same id is
// deleted first, which notifies its watchers.
func (s *CredentialStorage) NewAccount(id, password string) (*Account, error) {
	account := &Account{
		id:       id,
		provider: s.provider,
		watchers: make(map[uint64]func()),
	}
	if err := account.storePassword(password); err != nil {
		return nil, fmt.Errorf("account %q: %w", id, err)
	}

	s.mu.Lock()
	previous := s.accounts[id]
	s.accounts[id] = account
	s.mu.Unlock()

	if previous != nil {
		previous.close()
	}
	return account, nil
}

// HasAccount reports whether id is present.
func (s *CredentialStorage) HasAccount(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.accounts[id]
	return exists
}

// Account returns the account with id.
func (s *CredentialStorage) Account(id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, exists := s.accounts[id]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrNoAccount, id)
	}
	return account, nil
}

// IDs returns the account ids in sorted order.
func (s *CredentialStorage) IDs() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// DeleteAccount removes the account, wipes its password, and notifies
// its watchers.
func (s *CredentialStorage) DeleteAccount(id string) error {
	s.mu.Lock()
	account, exists := s.accounts[id]
	delete(s.accounts, id)
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: %q", ErrNoAccount, id)
	}
	account.close()
	return nil
}

// Close deletes every account.
func (s *CredentialStorage) Close() {
	s.mu.Lock()
	accounts := s.accounts
	s.accounts = make(map[string]*Account)
	s.mu.Unlock()
	for _, account := range accounts {
		account.close()
	}
}

// Account is one identity. Its password lives in locked memory.
type Account struct {
	id       string
	provider crypt.Provider

	mu          sync.Mutex
	password    *secret.Buffer
	closed      bool
	watchers    map[uint64]func()
	nextWatcher uint64
}

// ID returns the account identifier.
func (a *Account) ID() string { return a.id }

// SetPassword replaces the password and notifies watchers.
func (a *Account) SetPassword(password string) error {
	if err := a.storePassword(password); err != nil {
		return fmt.Errorf("account %q: %w", a.id, err)
	}
	a.notify()
	return nil
}

func (a *Account) storePassword(password string) error {
	var buffer *secret.Buffer
	if password != "" {
		var err error
		buffer, err = secret.NewFromString(password)
		if err != nil {
			return err
		}
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		if buffer != nil {
			buffer.Close()
		}
		return ErrAccountClosed
	}
	previous := a.password
	a.password = buffer
	a.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return nil
}

// DeriveKey stretches the password with salt into a transport key.
func (a *Account) DeriveKey(salt string) (crypt.Key, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, fmt.Errorf("account %q: %w", a.id, ErrAccountClosed)
	}
	password := ""
	if a.password != nil {
		password = a.password.String()
	}
	a.mu.Unlock()
	return a.provider.DeriveKey(password, salt)
}

// Watch calls fn after every password change and once when the
// account is deleted. fn runs on the goroutine that made the change.
// The returned function stops the notifications.
func (a *Account) Watch(fn func()) (unwatch func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	handle := a.nextWatcher
	a.nextWatcher++
	a.watchers[handle] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.watchers, handle)
	}
}

func (a *Account) notify() {
	a.mu.Lock()
	handles := make([]uint64, 0, len(a.watchers))
	for handle := range a.watchers {
		handles = append(handles, handle)
	}
	a.mu.Unlock()
	slices.Sort(handles)

	for _, handle := range handles {
		a.mu.Lock()
		watcher, ok := a.watchers[handle]
		a.mu.Unlock()
		if ok {
			watcher()
		}
	}
}

func (a *Account) close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	password := a.password
	a.password = nil
	a.mu.Unlock()

	if password != nil {
		password.Close()
	}
	a.notify()
}
