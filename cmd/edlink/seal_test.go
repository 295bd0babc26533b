// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/edlink/lib/sealed"
	"github.com/bureau-foundation/edlink/lib/secret"
)

func TestKeygenWritesReadableIdentity(t *testing.T) {
	var output bytes.Buffer
	if err := runKeygen(&output, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatalf("runKeygen: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "# public key: age1") {
		t.Fatalf("keygen output = %q", output.String())
	}

	path := filepath.Join(t.TempDir(), "identity.txt")
	if err := os.WriteFile(path, output.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	identity, err := sealed.ReadKeyFile(path)
	if err != nil {
		t.Fatalf("ReadKeyFile: %v", err)
	}
	identity.Close()
}

func TestWriteKeypairFormat(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	var output bytes.Buffer
	created := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	if err := writeKeypair(&output, keypair, created); err != nil {
		t.Fatalf("writeKeypair: %v", err)
	}
	want := "# created: 2026-03-04T05:06:07Z\n# public key: " + keypair.PublicKey + "\n" + keypair.PrivateKey.String() + "\n"
	if output.String() != want {
		t.Errorf("output = %q, want %q", output.String(), want)
	}
}

func TestSealFromPasswordFile(t *testing.T) {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()
	passwordFile := filepath.Join(t.TempDir(), "password")
	if err := os.WriteFile(passwordFile, []byte("wonderland\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var output bytes.Buffer
	if err := runSeal(&output, []string{keypair.PublicKey}, passwordFile); err != nil {
		t.Fatalf("runSeal: %v", err)
	}
	plaintext, err := sealed.Decrypt(strings.TrimSpace(output.String()), keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	defer plaintext.Close()
	if plaintext.String() != "wonderland" {
		t.Errorf("unsealed = %q, want wonderland", plaintext.String())
	}
}

func TestSealRejectsBadRecipients(t *testing.T) {
	if err := runSeal(&bytes.Buffer{}, nil, "unused"); err == nil {
		t.Error("runSeal without recipients succeeded")
	}

	password, err := secret.NewFromString("wonderland")
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	defer password.Close()
	_, err = sealPassword(password, []string{"age1notakey"})
	if err == nil || !strings.Contains(err.Error(), "age1notakey") {
		t.Errorf("sealPassword with a malformed recipient = %v", err)
	}
}
