// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// edlink connects to an edlink master and calls a method on one of its
// services.
//
//	edlink --config edlink.yaml call /echo echo '"hello"'
//	edlink --user user1 registered /documents
//
// The session optionally logs in first (--user). The password comes
// from --password-file, the configuration's slave users, or an
// interactive prompt, in that order.
//
// Two commands work offline. keygen prints an age identity for
// crypto.identity_file; seal encrypts a password to one or more
// --recipient keys, producing a password_sealed value.
//
//	edlink keygen > identity.txt
//	edlink seal --recipient age1... --password-file -
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/edlink/cmd/internal/cli"
	"github.com/bureau-foundation/edlink/lib/auth"
	"github.com/bureau-foundation/edlink/lib/config"
	"github.com/bureau-foundation/edlink/lib/netif"
	"github.com/bureau-foundation/edlink/lib/netserver"
	"github.com/bureau-foundation/edlink/lib/process"
	"github.com/bureau-foundation/edlink/lib/secret"
	"github.com/bureau-foundation/edlink/lib/service"
	"github.com/bureau-foundation/edlink/lib/version"
	"github.com/bureau-foundation/edlink/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var flags cli.CommonFlags
	var user string
	var passwordFile string
	var recipients []string
	var timeout time.Duration

	flagSet := pflag.NewFlagSet("edlink", pflag.ContinueOnError)
	flags.AddFlags(flagSet)
	flagSet.StringVarP(&user, "user", "u", "", "log in as this account before running the command")
	flagSet.StringVar(&passwordFile, "password-file", "", "read the --user password from this file (\"-\" for stdin)")
	flagSet.StringArrayVar(&recipients, "recipient", nil, "age public key to seal to (seal; repeatable)")
	flagSet.DurationVar(&timeout, "timeout", 10*time.Second, "overall deadline for the command")
	flagSet.Usage = func() { printHelp(flagSet) }

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.ShowVersion {
		fmt.Printf("edlink %s\n", version.Full())
		return nil
	}

	args := flagSet.Args()
	if len(args) == 0 {
		printHelp(flagSet)
		return fmt.Errorf("no command given")
	}
	logger := cli.NewLogger(flags.Level()).With("command", args[0])

	switch args[0] {
	case "keygen":
		return runKeygen(os.Stdout, logger)
	case "seal":
		return runSeal(os.Stdout, recipients, passwordFile)
	}

	cfg, err := flags.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := process.SignalContext(context.Background())
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slave, credentials, err := connect(ctx, cfg, user, passwordFile, logger)
	if err != nil {
		return err
	}
	defer credentials.Close()
	defer slave.Close()

	if user != "" {
		if err := slave.Authorize(ctx, user); err != nil {
			return fmt.Errorf("logging in as %q: %w", user, err)
		}
		logger.Info("logged in", "account", user)
	}

	switch args[0] {
	case "call":
		err = runCall(ctx, slave, args[1:], logger)
	case "registered":
		err = runRegistered(ctx, slave, args[1:])
	default:
		err = fmt.Errorf("unknown command %q (want call, registered, keygen, or seal)", args[0])
	}
	if process.Interrupted(ctx, err) {
		logger.Info("interrupted")
		return nil
	}
	return err
}

// connect dials the configured master and returns the session and the
// credential storage backing it.
func connect(ctx context.Context, cfg *config.Config, user, passwordFile string, logger *slog.Logger) (*netserver.Slave, *auth.CredentialStorage, error) {
	stack, err := transport.StackFromConfig(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	serializer, err := cfg.Serializer()
	if err != nil {
		return nil, nil, err
	}

	credentials, err := cfg.Credentials(stack.Provider, cfg.Crypto.Authentication.Slave.Users)
	if err != nil {
		return nil, nil, err
	}
	if user != "" && (passwordFile != "" || !credentials.HasAccount(user)) {
		if err := addAccount(credentials, user, passwordFile); err != nil {
			credentials.Close()
			return nil, nil, err
		}
	}

	slave, err := transport.Dial(ctx, &transport.TCPDialer{}, cfg.Address(), stack, netserver.SlaveConfig{
		Interface: netif.Config{
			Serializer:      serializer,
			ResponseTimeout: cfg.ResponseTimeout(),
		},
		Credentials: credentials,
		Salt:        cfg.Crypto.Salt,
		Logger:      logger,
	})
	if err != nil {
		credentials.Close()
		return nil, nil, err
	}
	logger.Debug("connected", "address", cfg.Address())
	return slave, credentials, nil
}

// addAccount stores user's password, read from passwordFile or, when
// that is empty, prompted for on the terminal.
func addAccount(credentials *auth.CredentialStorage, user, passwordFile string) error {
	var password *secret.Buffer
	var err error
	if passwordFile != "" {
		password, err = secret.ReadFile(passwordFile)
	} else {
		password, err = cli.ReadPassword(fmt.Sprintf("Password for %s: ", user))
	}
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	plaintext := ""
	if password != nil {
		plaintext = password.String()
		password.Close()
	}
	_, err = credentials.NewAccount(user, plaintext)
	return err
}

func runCall(ctx context.Context, slave *netserver.Slave, args []string, logger *slog.Logger) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: edlink call <service> <method> [params-json]")
	}
	var params any
	if len(args) == 3 {
		if err := json.Unmarshal([]byte(args[2]), &params); err != nil {
			return fmt.Errorf("parsing params: %w", err)
		}
	}

	p, err := slave.Connect(ctx, args[0])
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", args[0], err)
	}
	client := service.NewClient(p, logger)
	defer client.Close()

	result, err := client.Call(ctx, args[1], params)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runRegistered(ctx context.Context, slave *netserver.Slave, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: edlink registered <service>")
	}
	registered, err := slave.Registered(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(registered)
}

func printJSON(value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting result: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `edlink calls services offered by an edlink master.

Usage:
  edlink [flags] call <service> <method> [params-json]
  edlink [flags] registered <service>
  edlink keygen
  edlink [--password-file <path>] seal --recipient <age1...>...

Flags:
%s`, flagSet.FlagUsages())
}
