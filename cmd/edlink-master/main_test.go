// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/edlink/lib/localserver"
	"github.com/bureau-foundation/edlink/lib/netserver"
	"github.com/bureau-foundation/edlink/lib/service"
	"github.com/bureau-foundation/edlink/lib/version"
)

func TestBuiltinServices(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	server := localserver.New(logger)
	master := netserver.NewMaster(server, netserver.MasterConfig{Logger: logger})
	defer master.Close()

	if err := registerBuiltins(server, master, logger); err != nil {
		t.Fatalf("registerBuiltins: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		service string
		method  string
		params  any
		want    any
	}{
		{"/echo", "echo", "hi", "hi"},
		{"/info", "version", nil, version.Info()},
		{"/info", "connections", nil, int64(0)},
	}
	for _, test := range tests {
		p, err := server.Connect(ctx, test.service)
		if err != nil {
			t.Fatalf("Connect(%s): %v", test.service, err)
		}
		client := service.NewClient(p, logger)
		got, err := client.Call(ctx, test.method, test.params)
		client.Close()
		if err != nil {
			t.Fatalf("%s %s: %v", test.service, test.method, err)
		}
		if got != test.want {
			t.Errorf("%s %s = %v, want %v", test.service, test.method, got, test.want)
		}
	}

	if err := registerBuiltins(server, master, logger); err == nil {
		t.Error("registering the builtins twice succeeded")
	}
}
