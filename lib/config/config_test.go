// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/edlink/lib/compressconn"
	"github.com/bureau-foundation/edlink/lib/crypt"
	"github.com/bureau-foundation/edlink/lib/sealed"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// fastProvider keeps scrypt cheap in tests.
func fastProvider() crypt.Provider {
	return &crypt.AESCBC{Scrypt: crypt.ScryptParams{N: 16, R: 1, P: 1}}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate(): %v", err)
	}
	if cfg.Address() != "127.0.0.1:1234" {
		t.Errorf("Address() = %q, want 127.0.0.1:1234", cfg.Address())
	}
	if cfg.Crypto.Cipher != crypt.NameAESCBC {
		t.Errorf("Cipher = %q, want %q", cfg.Crypto.Cipher, crypt.NameAESCBC)
	}
	if cfg.ResponseTimeout() != 400*time.Millisecond {
		t.Errorf("ResponseTimeout() = %v, want 400ms", cfg.ResponseTimeout())
	}
	algorithm, err := cfg.Algorithm()
	if err != nil {
		t.Fatalf("Algorithm(): %v", err)
	}
	if _, ok := algorithm.(compressconn.Zlib); !ok {
		t.Errorf("Algorithm() = %T, want compressconn.Zlib", algorithm)
	}
}

func TestLoadRequiresVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")
	_, err := Load()
	if err == nil {
		t.Fatal("Load() without EDLINK_CONFIG succeeded")
	}
	if !strings.HasPrefix(err.Error(), "EDLINK_CONFIG environment variable not set") {
		t.Errorf("error = %q", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "edlink.yaml", `
host: 10.0.0.5
port: 4321
crypto:
  salt: pepper
  default_key: opensesame
  cipher: xchacha20
  authentication:
    slave:
      users:
        - id: user1
          password: password1
network:
  compression: false
  serializer: cbor
  response_timeout: 2s
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate(): %v", err)
	}
	if cfg.Address() != "10.0.0.5:4321" {
		t.Errorf("Address() = %q", cfg.Address())
	}
	if cfg.Crypto.Salt != "pepper" || cfg.Crypto.DefaultKey != "opensesame" {
		t.Errorf("crypto = %+v", cfg.Crypto)
	}
	if users := cfg.Crypto.Authentication.Slave.Users; len(users) != 1 || users[0].ID != "user1" {
		t.Errorf("slave users = %+v", users)
	}
	algorithm, err := cfg.Algorithm()
	if err != nil || algorithm != nil {
		t.Errorf("Algorithm() with compression off = %v, %v; want nil, nil", algorithm, err)
	}
	if cfg.ResponseTimeout() != 2*time.Second {
		t.Errorf("ResponseTimeout() = %v, want 2s", cfg.ResponseTimeout())
	}
	// Unset sections keep their defaults.
	if cfg.Network.Algorithm != compressconn.NameZlib {
		t.Errorf("Algorithm = %q, want default zlib", cfg.Network.Algorithm)
	}
	provider, err := cfg.Provider()
	if err != nil {
		t.Fatalf("Provider(): %v", err)
	}
	if _, ok := provider.(*crypt.XChaCha20); !ok {
		t.Errorf("Provider() = %T, want *crypt.XChaCha20", provider)
	}
}

func TestLoadJSONWithComments(t *testing.T) {
	path := writeFile(t, "edlink.jsonc", `{
	// editor-side settings
	"host": "localhost",
	"port": 9000,
	"crypto": {
		"salt": "s", /* inline */
		"authentication": {"master": {"users": [{"id": "u", "password": "p"}]}},
	},
	"network": {"algorithm": "lz4"},
}`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile(): %v", err)
	}
	if cfg.Host != "localhost" || cfg.Port != 9000 {
		t.Errorf("address = %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.Network.Algorithm != compressconn.NameLZ4 {
		t.Errorf("Algorithm = %q, want lz4", cfg.Network.Algorithm)
	}
	if users := cfg.Crypto.Authentication.Master.Users; len(users) != 1 || users[0].Password != "p" {
		t.Errorf("master users = %+v", users)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile of a missing file succeeded")
	}
	bad := writeFile(t, "bad.yaml", "host: [unterminated")
	if _, err := LoadFile(bad); err == nil {
		t.Error("LoadFile of malformed YAML succeeded")
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("EDLINK_TEST_HOST", "example.internal")
	path := writeFile(t, "edlink.yaml", `
host: ${EDLINK_TEST_HOST}
crypto:
  salt: ${EDLINK_TEST_UNSET:-fallback}
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile(): %v", err)
	}
	if cfg.Host != "example.internal" {
		t.Errorf("Host = %q, want example.internal", cfg.Host)
	}
	if cfg.Crypto.Salt != "fallback" {
		t.Errorf("Salt = %q, want fallback", cfg.Crypto.Salt)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"missing host", func(c *Config) { c.Host = "" }, "host is required"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "port must be between"},
		{"unknown cipher", func(c *Config) { c.Crypto.Cipher = "rot13" }, "crypto.cipher"},
		{"unknown algorithm", func(c *Config) { c.Network.Algorithm = "brotli" }, "network.algorithm"},
		{"unknown serializer", func(c *Config) { c.Network.Serializer = "xml" }, "network.serializer"},
		{"bad duration", func(c *Config) { c.Network.ResponseTimeout = "soon" }, "network.response_timeout"},
		{"user without id", func(c *Config) {
			c.Crypto.Authentication.Slave.Users = []User{{Password: "p"}}
		}, "id is required"},
		{"duplicate user", func(c *Config) {
			c.Crypto.Authentication.Master.Users = []User{{ID: "a"}, {ID: "a"}}
		}, "duplicate id"},
		{"both passwords", func(c *Config) {
			c.Crypto.IdentityFile = "/key"
			c.Crypto.Authentication.Slave.Users = []User{{ID: "a", Password: "p", PasswordSealed: "s"}}
		}, "mutually exclusive"},
		{"sealed without identity", func(c *Config) {
			c.Crypto.Authentication.Slave.Users = []User{{ID: "a", PasswordSealed: "s"}}
		}, "crypto.identity_file"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() succeeded")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("Validate() = %q, want it to mention %q", err, test.want)
			}
		})
	}
}

func TestCredentials(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()
	keyFile := writeFile(t, "identity.txt", "# test\n"+keypair.PrivateKey.String()+"\n")

	sealedPassword, err := sealed.Encrypt([]byte("password2"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	cfg := Default()
	cfg.Crypto.IdentityFile = keyFile
	provider := fastProvider()
	storage, err := cfg.Credentials(provider, []User{
		{ID: "user1", Password: "password1"},
		{ID: "user2", PasswordSealed: sealedPassword},
		{ID: "user3"},
	})
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	defer storage.Close()

	if got := storage.IDs(); len(got) != 3 {
		t.Fatalf("IDs() = %v, want three accounts", got)
	}
	account, err := storage.Account("user2")
	if err != nil {
		t.Fatalf("Account(user2): %v", err)
	}
	got, err := account.DeriveKey("salt")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	want, err := provider.DeriveKey("password2", "salt")
	if err != nil {
		t.Fatalf("provider.DeriveKey: %v", err)
	}
	if string(got) != string(want) {
		t.Error("sealed password did not unseal to the expected key")
	}
}

func TestCredentialsMissingIdentity(t *testing.T) {
	cfg := Default()
	cfg.Crypto.IdentityFile = filepath.Join(t.TempDir(), "absent")
	_, err := cfg.Credentials(fastProvider(), []User{{ID: "a", PasswordSealed: "c2VhbGVk"}})
	if err == nil {
		t.Fatal("Credentials with an unreadable identity file succeeded")
	}
}
