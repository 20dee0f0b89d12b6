// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts and decrypts BMC passwords stored in the
// host inventory. It wraps filippo.io/age: passwords are encrypted to
// one or more x25519 recipients and stored base64-encoded in the
// inventory's sealed_password field, and the manager decrypts them at
// load time with the identity named by inventory.identity_file.
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair
//   - [Encrypt] / [Decrypt] -- base64 ciphertext to and from plaintext
//   - [ReadIdentityFile] -- load a private key written by age-keygen
//   - [ParsePublicKey] / [ParsePrivateKey] -- key validation
package sealed
