// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/edlink/lib/config"
	"github.com/bureau-foundation/edlink/lib/netif"
)

// CommonFlags are accepted by every edlink binary.
type CommonFlags struct {
	ConfigPath  string
	Verbose     bool
	Trace       bool
	ShowVersion bool
}

// AddFlags registers the common flags on flagSet.
func (f *CommonFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.ConfigPath, "config", "c", "", "configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.BoolVarP(&f.Verbose, "verbose", "v", false, "log at debug level")
	flagSet.BoolVar(&f.Trace, "trace", false, "log every envelope sent and received")
	flagSet.BoolVar(&f.ShowVersion, "version", false, "print version information and exit")
}

// Level returns the log level the flags select.
func (f *CommonFlags) Level() slog.Level {
	switch {
	case f.Trace:
		return netif.LevelTrace
	case f.Verbose:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads and validates the configuration named by --config,
// or by EDLINK_CONFIG when the flag is absent.
func (f *CommonFlags) LoadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if f.ConfigPath != "" {
		cfg, err = config.LoadFile(f.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
