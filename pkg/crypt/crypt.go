// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package crypt wraps the age codec for passphrase based encryption of blobs
// at rest. The container is self describing: the scrypt parameters needed for
// decryption travel in its header, so the service only ever holds the
// passphrase. Keys derived per file are never cached.
package crypt

import (
	"io"

	"filippo.io/age"
	"github.com/zeebo/errs"
)

// Error is the crypto codec error class.
var Error = errs.Class("crypt")

// EncryptStream encrypts src into dst as an age container under the
// passphrase. The container is finalized before returning; a nil error means
// the ciphertext is complete and decryptable.
func EncryptStream(passphrase string, dst io.Writer, src io.Reader) error {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return Error.Wrap(err)
	}

	w, err := age.Encrypt(dst, recipient)
	if err != nil {
		return Error.Wrap(err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return Error.Wrap(err)
	}
	// Close writes the final chunk and authentication tag; until it returns
	// the container is truncated.
	return Error.Wrap(w.Close())
}

// Decrypt opens an age container for streaming reads. A wrong passphrase or a
// corrupt header fails here, before any plaintext is produced; tampering or
// truncation inside the payload surfaces as a read error from the returned
// reader.
func Decrypt(passphrase string, src io.Reader) (io.Reader, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	r, err := age.Decrypt(src, identity)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return r, nil
}
