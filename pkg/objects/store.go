// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package objects stores content addressed blobs on the local filesystem.
//
// Blobs live under <root>/objects/<tenant_id>/<file_id>, with a ".age"
// suffix when the blob is stored encrypted. Uploads stream into
// <root>/tmp and are published with an atomic rename.
package objects

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
)

// Error is the object store error class.
var Error = errs.Class("object store")

// EncryptedSuffix is appended to blob names stored in ciphertext form. The
// suffix is cosmetic but stable: storage_path values persisted with it must
// keep resolving.
const EncryptedSuffix = ".age"

// Store is a blob store rooted at a single data directory.
type Store struct {
	root string
}

// NewStore returns a Store rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the data root directory.
func (store *Store) Root() string { return store.root }

// TempFile creates a fresh upload temp file under <root>/tmp.
func (store *Store) TempFile() (*os.File, error) {
	dir := filepath.Join(store.root, "tmp")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, Error.Wrap(err)
	}
	file, err := os.Create(filepath.Join(dir, "upload-"+uuid.NewString()+".bin"))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return file, nil
}

// Discard removes a temp file, ignoring errors; cleanup on the dedup path is
// best effort.
func (store *Store) Discard(tmpPath string) {
	_ = os.Remove(tmpPath)
}

// tenantDir returns the objects directory for a tenant, creating it if needed.
func (store *Store) tenantDir(tenantID string) (string, error) {
	dir := filepath.Join(store.root, "objects", tenantID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", Error.Wrap(err)
	}
	return dir, nil
}

// RelPath returns the storage_path recorded in metadata: the blob location
// relative to the data root, always with forward slashes.
func RelPath(tenantID, fileID string, encrypted bool) string {
	name := fileID
	if encrypted {
		name += EncryptedSuffix
	}
	return path.Join("objects", tenantID, name)
}

// Publish atomically moves a finished temp file into the tenant directory as
// a plaintext blob and returns its storage path.
func (store *Store) Publish(tmpPath, tenantID, fileID string) (storagePath string, err error) {
	dir, err := store.tenantDir(tenantID)
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, fileID)); err != nil {
		return "", Error.Wrap(err)
	}
	return RelPath(tenantID, fileID, false), nil
}

// PublishEncrypted publishes a temp file as an encrypted blob. The sequence
// is observable on crash: rename temp to the plaintext name, encrypt that
// file into the ".age" name, then delete the plaintext. A crash in between
// leaves a plaintext blob with no metadata row; recovery is a cold scan
// outside this package.
func (store *Store) PublishEncrypted(tmpPath, tenantID, fileID string, encrypt func(dst io.Writer, src io.Reader) error) (storagePath string, err error) {
	dir, err := store.tenantDir(tenantID)
	if err != nil {
		return "", err
	}

	plainPath := filepath.Join(dir, fileID)
	cipherPath := plainPath + EncryptedSuffix

	if err := os.Rename(tmpPath, plainPath); err != nil {
		return "", Error.Wrap(err)
	}

	if err := store.encryptFile(plainPath, cipherPath, encrypt); err != nil {
		return "", err
	}

	if err := os.Remove(plainPath); err != nil {
		return "", Error.Wrap(err)
	}
	return RelPath(tenantID, fileID, true), nil
}

func (store *Store) encryptFile(plainPath, cipherPath string, encrypt func(dst io.Writer, src io.Reader) error) (err error) {
	src, err := os.Open(plainPath)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(src.Close())) }()

	dst, err := os.Create(cipherPath)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(dst.Close())) }()

	if err := encrypt(dst, src); err != nil {
		return Error.Wrap(err)
	}
	return nil
}

// Resolve maps a persisted storage_path back to an absolute path inside the
// data root. Paths that would escape the root are rejected.
func (store *Store) Resolve(storagePath string) (string, error) {
	rel := strings.TrimPrefix(storagePath, "/")
	abs := filepath.Join(store.root, filepath.FromSlash(rel))

	inside, err := filepath.Rel(store.root, abs)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", Error.New("storage path escapes data root: %q", storagePath)
	}
	return abs, nil
}

// Open opens the blob at a persisted storage_path for reading. A missing file
// reports os.ErrNotExist through errors.Is.
func (store *Store) Open(storagePath string) (*os.File, error) {
	abs, err := store.Resolve(storagePath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return file, nil
}
