// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bureau-foundation/edlink/cmd/internal/cli"
	"github.com/bureau-foundation/edlink/lib/sealed"
	"github.com/bureau-foundation/edlink/lib/secret"
)

// runKeygen writes a fresh age identity to w in age-keygen format,
// ready to be saved as crypto.identity_file.
func runKeygen(w io.Writer, logger *slog.Logger) error {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()
	if !keypair.PrivateKey.Locked() {
		logger.Warn("private key memory could not be locked; it may be swapped to disk")
	}
	return writeKeypair(w, keypair, time.Now())
}

func writeKeypair(w io.Writer, keypair *sealed.Keypair, created time.Time) error {
	_, err := fmt.Fprintf(w, "# created: %s\n# public key: %s\n%s\n",
		created.UTC().Format(time.RFC3339), keypair.PublicKey, keypair.PrivateKey.String())
	return err
}

// runSeal reads a password and writes its password_sealed form,
// encrypted to every recipient.
func runSeal(w io.Writer, recipients []string, passwordFile string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("seal needs at least one --recipient")
	}
	var password *secret.Buffer
	var err error
	if passwordFile != "" {
		password, err = secret.ReadFile(passwordFile)
	} else {
		password, err = cli.ReadPassword("Password to seal: ")
	}
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if password == nil {
		return fmt.Errorf("refusing to seal an empty password")
	}
	defer password.Close()

	value, err := sealPassword(password, recipients)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, value)
	return err
}

func sealPassword(password *secret.Buffer, recipients []string) (string, error) {
	for _, recipient := range recipients {
		if err := sealed.ParsePublicKey(recipient); err != nil {
			return "", fmt.Errorf("--recipient %q: %w", recipient, err)
		}
	}
	return sealed.Encrypt(password.Bytes(), recipients)
}
