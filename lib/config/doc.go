// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads edlink endpoint configuration.
//
// Configuration comes from a single file named either by the
// EDLINK_CONFIG environment variable (via [Load]) or by a --config flag
// (via [LoadFile]). There is no discovery and no layering of several
// files: what the file says, on top of [Default], is what runs.
//
// YAML is the primary format. Files ending in .json or .jsonc are read
// as JSON with comments, so configuration written for editor plugins
// can be used unchanged.
//
// ${VAR} and ${VAR:-default} are expanded in host, crypto.salt and
// crypto.identity_file. Nothing else reads the environment.
//
// Account passwords may be given in plaintext or, with
// password_sealed, as an age ciphertext unsealed by [Config.Credentials]
// using the identity in crypto.identity_file.
//
// Key exports:
//
//   - [Config] -- host, port, crypto, network and master sections
//   - [Default] -- the base every file is loaded on top of
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Credentials] -- an auth.CredentialStorage built from users
package config
