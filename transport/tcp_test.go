// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/edlink/lib/auth"
	"github.com/bureau-foundation/edlink/lib/compressconn"
	"github.com/bureau-foundation/edlink/lib/config"
	"github.com/bureau-foundation/edlink/lib/crypt"
	"github.com/bureau-foundation/edlink/lib/localserver"
	"github.com/bureau-foundation/edlink/lib/netserver"
	"github.com/bureau-foundation/edlink/lib/service"
	"github.com/bureau-foundation/edlink/lib/testutil"
)

const testTimeout = 5 * time.Second

var discard = slog.New(slog.DiscardHandler)

func testStack(t *testing.T, algorithm compressconn.Algorithm) Stack {
	t.Helper()
	provider := &crypt.AESCBC{Scrypt: crypt.ScryptParams{N: 1024, R: 8, P: 1}}
	key, err := provider.DeriveKey("password", "salt")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	return Stack{Provider: provider, Key: key, Algorithm: algorithm, Logger: discard}
}

func listen(t *testing.T) *TCPListener {
	t.Helper()
	listener, err := NewTCPListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTCPListener: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	return listener
}

// serveEcho starts a master whose local server offers "/echo".
func serveEcho(t *testing.T, stack Stack, storage *auth.CredentialStorage) (*TCPListener, *netserver.Master) {
	t.Helper()
	server := localserver.New(discard)
	echo := service.NewService(func(c *service.Context) {
		c.BindMethod("echo", func(_ context.Context, params any) (any, error) {
			return params, nil
		})
	}, discard)
	if err := server.Register("/echo", echo); err != nil {
		t.Fatalf("Register: %v", err)
	}
	master := netserver.NewMaster(server, netserver.MasterConfig{
		Credentials: storage,
		Provider:    stack.Provider,
		Salt:        "salt",
		Logger:      discard,
	})
	t.Cleanup(func() { master.Close() })

	listener := listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, listener, stack, master) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, testTimeout, "Serve did not return"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return listener, master
}

func TestTCPListenerAddress(t *testing.T) {
	listener := listen(t)
	if !strings.HasPrefix(listener.Address(), "127.0.0.1:") {
		t.Errorf("Address() = %q, want 127.0.0.1:<port>", listener.Address())
	}
	if listener.Addr().String() != listener.Address() {
		t.Errorf("Addr() = %v, Address() = %q", listener.Addr(), listener.Address())
	}
}

func TestTCPDialRefused(t *testing.T) {
	listener := listen(t)
	address := listener.Address()
	listener.Close()

	dialer := &TCPDialer{Timeout: time.Second}
	_, err := Dial(context.Background(), dialer, address, testStack(t, nil), netserver.SlaveConfig{Logger: discard})
	if err == nil {
		t.Fatal("Dial to a closed listener succeeded")
	}
	if !strings.Contains(err.Error(), address) {
		t.Errorf("error %q does not name the address", err)
	}
}

func TestStackWrap(t *testing.T) {
	for _, test := range []struct {
		name      string
		algorithm compressconn.Algorithm
	}{
		{"plain", nil},
		{"zlib", compressconn.Zlib{}},
		{"zstd", compressconn.Zstd{}},
		{"lz4", compressconn.LZ4{}},
	} {
		t.Run(test.name, func(t *testing.T) {
			stack := testStack(t, test.algorithm)
			left, right := testutil.ConnPair(t)
			writer, writerEncryption := stack.Wrap(left)
			reader, _ := stack.Wrap(right)
			if writerEncryption == nil {
				t.Fatal("Wrap returned no encryption surface")
			}
			_, compressed := writer.(*compressconn.Conn)
			if compressed != (test.algorithm != nil) {
				t.Errorf("outer layer %T with algorithm %v", writer, test.algorithm)
			}

			payload := []byte(strings.Repeat("edlink ", 64))
			go writer.Write(payload)
			got := make([]byte, len(payload))
			if _, err := io.ReadFull(reader, got); err != nil {
				t.Fatalf("ReadFull: %v", err)
			}
			if string(got) != string(payload) {
				t.Error("payload changed crossing the stack")
			}
		})
	}
}

func TestStackFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Network.Compression = false
	cfg.Crypto.Cipher = crypt.NameXChaCha20
	stack, err := StackFromConfig(cfg, discard)
	if err != nil {
		t.Fatalf("StackFromConfig: %v", err)
	}
	if stack.Algorithm != nil {
		t.Errorf("Algorithm = %T with compression disabled", stack.Algorithm)
	}
	if _, ok := stack.Provider.(*crypt.XChaCha20); !ok {
		t.Errorf("Provider = %T, want *crypt.XChaCha20", stack.Provider)
	}
	if len(stack.Key) == 0 {
		t.Error("no default key derived")
	}

	cfg.Crypto.Cipher = "rot13"
	if _, err := StackFromConfig(cfg, discard); err == nil {
		t.Error("StackFromConfig accepted an unknown cipher")
	}
}

func TestDialCallsMasterService(t *testing.T) {
	stack := testStack(t, compressconn.Zlib{})
	listener, master := serveEcho(t, stack, nil)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	slave, err := Dial(ctx, &TCPDialer{}, listener.Address(), stack, netserver.SlaveConfig{Logger: discard})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer slave.Close()

	p, err := slave.Connect(ctx, "/echo")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	client := service.NewClient(p, discard)
	defer client.Close()

	result, err := client.Call(ctx, "echo", "over tcp")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != "over tcp" {
		t.Errorf("echo = %v, want %q", result, "over tcp")
	}
	if master.Connections() != 1 {
		t.Errorf("Connections() = %d, want 1", master.Connections())
	}

	if _, err := slave.Connect(ctx, "/missing"); !errors.Is(err, netserver.ErrRefused) {
		t.Errorf("Connect(/missing) error = %v, want ErrRefused", err)
	}
}

func TestDialAuthorize(t *testing.T) {
	stack := testStack(t, nil)
	users := map[string]string{"user1": "password1"}
	masterCredentials := newCredentials(t, stack.Provider, users)
	slaveCredentials := newCredentials(t, stack.Provider, users)
	listener, _ := serveEcho(t, stack, masterCredentials)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	slave, err := Dial(ctx, &TCPDialer{}, listener.Address(), stack, netserver.SlaveConfig{
		Credentials: slaveCredentials,
		Salt:        "salt",
		Logger:      discard,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer slave.Close()

	if err := slave.Authorize(ctx, "user1"); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if slave.Account() != "user1" {
		t.Errorf("Account() = %q, want user1", slave.Account())
	}

	// Traffic still flows under the account key.
	p, err := slave.Connect(ctx, "/echo")
	if err != nil {
		t.Fatalf("Connect after Authorize: %v", err)
	}
	client := service.NewClient(p, discard)
	defer client.Close()
	if _, err := client.Call(ctx, "echo", 1); err != nil {
		t.Fatalf("Call after Authorize: %v", err)
	}
}

func newCredentials(t *testing.T, provider crypt.Provider, users map[string]string) *auth.CredentialStorage {
	t.Helper()
	storage := auth.NewCredentialStorage(provider)
	for id, password := range users {
		if _, err := storage.NewAccount(id, password); err != nil {
			t.Fatalf("NewAccount: %v", err)
		}
	}
	t.Cleanup(storage.Close)
	return storage
}
