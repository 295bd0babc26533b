// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/edlink/lib/auth"
	"github.com/bureau-foundation/edlink/lib/codec"
	"github.com/bureau-foundation/edlink/lib/compressconn"
	"github.com/bureau-foundation/edlink/lib/crypt"
	"github.com/bureau-foundation/edlink/lib/sealed"
	"github.com/bureau-foundation/edlink/lib/secret"
)

// EnvironmentVariable names the variable Load reads the config path from.
const EnvironmentVariable = "EDLINK_CONFIG"

// Config is the complete configuration of an edlink endpoint.
type Config struct {
	// Host is the address the slave dials or the master listens on.
	Host string `yaml:"host" json:"host"`

	// Port is the TCP port paired with Host.
	Port int `yaml:"port" json:"port"`

	Crypto  CryptoConfig  `yaml:"crypto" json:"crypto"`
	Network NetworkConfig `yaml:"network" json:"network"`
	Master  MasterConfig  `yaml:"master" json:"master"`
}

// CryptoConfig selects the cipher and holds the shared key material.
type CryptoConfig struct {
	// Salt is mixed into every password-derived key. Both ends must
	// agree on it.
	Salt string `yaml:"salt" json:"salt"`

	// DefaultKey is the password both ends derive the pre-login key
	// from.
	DefaultKey string `yaml:"default_key" json:"default_key"`

	// Cipher is "aes-256-cbc" or "xchacha20".
	Cipher string `yaml:"cipher" json:"cipher"`

	// IdentityFile is an age key file used to unseal password_sealed
	// values. Required only when some user carries one.
	IdentityFile string `yaml:"identity_file" json:"identity_file"`

	Authentication AuthenticationConfig `yaml:"authentication" json:"authentication"`
}

// AuthenticationConfig lists the accounts known to each role.
type AuthenticationConfig struct {
	Slave  UsersConfig `yaml:"slave" json:"slave"`
	Master UsersConfig `yaml:"master" json:"master"`
}

// UsersConfig is a list of accounts.
type UsersConfig struct {
	Users []User `yaml:"users" json:"users"`
}

// User is one account. At most one of Password and PasswordSealed is
// set; neither means an empty password.
type User struct {
	ID             string `yaml:"id" json:"id"`
	Password       string `yaml:"password" json:"password"`
	PasswordSealed string `yaml:"password_sealed" json:"password_sealed"`
}

// NetworkConfig controls the layers between the socket and the
// envelope interface.
type NetworkConfig struct {
	// Compression enables the compressed framing layer.
	Compression bool `yaml:"compression" json:"compression"`

	// Algorithm is "zlib", "zstd" or "lz4".
	Algorithm string `yaml:"algorithm" json:"algorithm"`

	// Serializer is "binary", "json" or "cbor".
	Serializer string `yaml:"serializer" json:"serializer"`

	// ResponseTimeout is a Go duration string ("400ms").
	ResponseTimeout string `yaml:"response_timeout" json:"response_timeout"`
}

// MasterConfig holds settings only the accepting side uses.
type MasterConfig struct {
	// InactivityTimeout is how long a client may stay silent before
	// the master pings it.
	InactivityTimeout string `yaml:"inactivity_timeout" json:"inactivity_timeout"`

	// InactivityThreshold is how long a pinged client may stay silent
	// before it is dropped.
	InactivityThreshold string `yaml:"inactivity_threshold" json:"inactivity_threshold"`
}

// Default returns the configuration every file is loaded on top of.
func Default() *Config {
	return &Config{
		Host: "127.0.0.1",
		Port: 1234,
		Crypto: CryptoConfig{
			Salt:       "salt",
			DefaultKey: "password",
			Cipher:     crypt.NameAESCBC,
		},
		Network: NetworkConfig{
			Compression:     true,
			Algorithm:       compressconn.NameZlib,
			Serializer:      codec.NameBinary,
			ResponseTimeout: "400ms",
		},
		Master: MasterConfig{
			InactivityTimeout:   "10s",
			InactivityThreshold: "30s",
		},
	}
}

// Load loads the file named by EDLINK_CONFIG. There is no fallback: an
// unset variable is an error.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your edlink config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path. Files ending in .json or
// .jsonc are parsed as JSON with comments; anything else as YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in the fields
// that commonly differ between machines.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Host = expandVars(c.Host, vars)
	c.Crypto.Salt = expandVars(c.Crypto.Salt, vars)
	c.Crypto.IdentityFile = expandVars(c.Crypto.IdentityFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, fmt.Errorf("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}

	ciphers := []string{crypt.NameAESCBC, crypt.NameXChaCha20}
	if !slices.Contains(ciphers, c.Crypto.Cipher) {
		errs = append(errs, fmt.Errorf("crypto.cipher must be one of: %v", ciphers))
	}
	algorithms := []string{compressconn.NameZlib, compressconn.NameZstd, compressconn.NameLZ4}
	if !slices.Contains(algorithms, c.Network.Algorithm) {
		errs = append(errs, fmt.Errorf("network.algorithm must be one of: %v", algorithms))
	}
	serializers := []string{codec.NameBinary, codec.NameJSON, codec.NameCBOR}
	if !slices.Contains(serializers, c.Network.Serializer) {
		errs = append(errs, fmt.Errorf("network.serializer must be one of: %v", serializers))
	}

	durations := []struct {
		field string
		value string
	}{
		{"network.response_timeout", c.Network.ResponseTimeout},
		{"master.inactivity_timeout", c.Master.InactivityTimeout},
		{"master.inactivity_threshold", c.Master.InactivityThreshold},
	}
	for _, duration := range durations {
		if duration.value == "" {
			continue
		}
		if parsed, err := time.ParseDuration(duration.value); err != nil || parsed <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration, got %q", duration.field, duration.value))
		}
	}

	sealedUsers := false
	for role, users := range map[string][]User{
		"slave":  c.Crypto.Authentication.Slave.Users,
		"master": c.Crypto.Authentication.Master.Users,
	} {
		seen := make(map[string]bool)
		for index, user := range users {
			field := fmt.Sprintf("crypto.authentication.%s.users[%d]", role, index)
			if user.ID == "" {
				errs = append(errs, fmt.Errorf("%s: id is required", field))
			} else if seen[user.ID] {
				errs = append(errs, fmt.Errorf("%s: duplicate id %q", field, user.ID))
			}
			seen[user.ID] = true
			if user.Password != "" && user.PasswordSealed != "" {
				errs = append(errs, fmt.Errorf("%s: password and password_sealed are mutually exclusive", field))
			}
			if user.PasswordSealed != "" {
				sealedUsers = true
			}
		}
	}
	if sealedUsers && c.Crypto.IdentityFile == "" {
		errs = append(errs, fmt.Errorf("crypto.identity_file is required when any user has password_sealed"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Address returns host:port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Provider returns the configured cipher.
func (c *Config) Provider() (crypt.Provider, error) {
	return crypt.ByName(c.Crypto.Cipher, crypt.DefaultScrypt)
}

// DefaultKey derives the pre-login key from DefaultKey and Salt.
func (c *Config) DefaultKey(provider crypt.Provider) (crypt.Key, error) {
	return provider.DeriveKey(c.Crypto.DefaultKey, c.Crypto.Salt)
}

// Algorithm returns the configured compression algorithm, or nil when
// compression is disabled.
func (c *Config) Algorithm() (compressconn.Algorithm, error) {
	if !c.Network.Compression {
		return nil, nil
	}
	return compressconn.AlgorithmByName(c.Network.Algorithm)
}

// Serializer returns the configured envelope serializer.
func (c *Config) Serializer() (codec.Serializer, error) {
	return codec.ByName(c.Network.Serializer)
}

// ResponseTimeout returns the parsed network.response_timeout. Zero
// means the interface default.
func (c *Config) ResponseTimeout() time.Duration {
	return parseDuration(c.Network.ResponseTimeout)
}

// InactivityTimeout returns the parsed master.inactivity_timeout.
func (c *Config) InactivityTimeout() time.Duration {
	return parseDuration(c.Master.InactivityTimeout)
}

// InactivityThreshold returns the parsed master.inactivity_threshold.
func (c *Config) InactivityThreshold() time.Duration {
	return parseDuration(c.Master.InactivityThreshold)
}

func parseDuration(value string) time.Duration {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return parsed
}

// Credentials builds a credential storage holding users. Sealed
// passwords are unsealed with the identity in IdentityFile, which is
// only read when needed. The caller must Close the storage.
func (c *Config) Credentials(provider crypt.Provider, users []User) (*auth.CredentialStorage, error) {
	storage := auth.NewCredentialStorage(provider)

	var identity *secret.Buffer
	defer func() {
		if identity != nil {
			identity.Close()
		}
	}()

	for _, user := range users {
		password := user.Password
		if user.PasswordSealed != "" {
			if identity == nil {
				loaded, err := sealed.ReadKeyFile(c.Crypto.IdentityFile)
				if err != nil {
					storage.Close()
					return nil, fmt.Errorf("loading identity for sealed passwords: %w", err)
				}
				identity = loaded
			}
			plaintext, err := sealed.Decrypt(user.PasswordSealed, identity)
			if err != nil {
				storage.Close()
				return nil, fmt.Errorf("unsealing password of %q: %w", user.ID, err)
			}
			if plaintext != nil {
				password = plaintext.String()
				plaintext.Close()
			}
		}
		if _, err := storage.NewAccount(user.ID, password); err != nil {
			storage.Close()
			return nil, fmt.Errorf("adding account %q: %w", user.ID, err)
		}
	}
	return storage, nil
}
