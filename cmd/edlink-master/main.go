// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// edlink-master accepts edlink slaves on the configured address and
// offers them a small set of built-in services:
//
//   - /echo: "echo" returns its params unchanged
//   - /info: "version" and "connections" describe this process
//
// Slaves may bind their own services, which become reachable from
// every other connected slave for as long as the binding connection
// lives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/edlink/cmd/internal/cli"
	"github.com/bureau-foundation/edlink/lib/localserver"
	"github.com/bureau-foundation/edlink/lib/netif"
	"github.com/bureau-foundation/edlink/lib/netserver"
	"github.com/bureau-foundation/edlink/lib/process"
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
	var listenAddress string

	flagSet := pflag.NewFlagSet("edlink-master", pflag.ContinueOnError)
	flags.AddFlags(flagSet)
	flagSet.StringVar(&listenAddress, "listen", "", "listen address (default: host:port from the configuration)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.ShowVersion {
		fmt.Printf("edlink-master %s\n", version.Full())
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := flags.LoadConfig()
	if err != nil {
		return err
	}
	logger := cli.NewLogger(flags.Level())
	if listenAddress == "" {
		listenAddress = cfg.Address()
	}

	stack, err := transport.StackFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	serializer, err := cfg.Serializer()
	if err != nil {
		return err
	}
	credentials, err := cfg.Credentials(stack.Provider, cfg.Crypto.Authentication.Master.Users)
	if err != nil {
		return err
	}
	defer credentials.Close()

	server := localserver.New(logger)
	master := netserver.NewMaster(server, netserver.MasterConfig{
		Interface: netif.Config{
			Serializer:      serializer,
			ResponseTimeout: cfg.ResponseTimeout(),
		},
		Credentials:         credentials,
		Provider:            stack.Provider,
		Salt:                cfg.Crypto.Salt,
		InactivityTimeout:   cfg.InactivityTimeout(),
		InactivityThreshold: cfg.InactivityThreshold(),
		Logger:              logger,
	})
	defer master.Close()

	if err := registerBuiltins(server, master, logger); err != nil {
		return err
	}

	listener, err := transport.NewTCPListener(listenAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listenAddress, err)
	}

	ctx, stop := process.SignalContext(context.Background())
	defer stop()

	logger.Info("edlink master running",
		"address", listener.Address(),
		"cipher", cfg.Crypto.Cipher,
		"compression", cfg.Network.Compression,
		"serializer", cfg.Network.Serializer,
		"accounts", len(credentials.IDs()),
	)
	err = transport.Serve(ctx, listener, stack, master)
	logger.Info("shutting down", "connections", master.Connections())
	return err
}

func registerBuiltins(server *localserver.Server, master *netserver.Master, logger *slog.Logger) error {
	echo := service.NewService(func(c *service.Context) {
		c.BindMethod("echo", func(_ context.Context, params any) (any, error) {
			return params, nil
		})
	}, logger)

	info := service.NewService(func(c *service.Context) {
		c.BindMethod("version", func(context.Context, any) (any, error) {
			return version.Info(), nil
		})
		c.BindMethod("connections", func(context.Context, any) (any, error) {
			return int64(master.Connections()), nil
		})
	}, logger)

	for name, svc := range map[string]localserver.Service{"/echo": echo, "/info": info} {
		if err := server.Register(name, svc); err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
	}
	return nil
}
