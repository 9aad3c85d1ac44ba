// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package meta implements the sqlite backed metadata store for file records.
package meta

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"
)

var (
	mon = monkit.Package()

	// Error is the metadata store error class.
	Error = errs.Class("metadata")

	// ErrExists is returned by Insert when a live record with the same
	// (tenant_id, file_id) already exists.
	ErrExists = errs.New("file record already exists")
)

// File is one metadata record. A record is live unless DeletedAtMs is set;
// tombstoned records are invisible to every read operation.
type File struct {
	FileID             string          `json:"file_id"`
	TenantID           string          `json:"tenant_id"`
	SessionID          *string         `json:"session_id"`
	Filename           string          `json:"filename"`
	Mime               *string         `json:"mime"`
	Size               int64           `json:"size"`
	SHA256             string          `json:"sha256"`
	CreatedAtMs        int64           `json:"created_at_ms"`
	Source             *string         `json:"source"`
	Encrypted          bool            `json:"encrypted"`
	StoragePath        string          `json:"-"`
	DeletedAtMs        *int64          `json:"-"`
	ExtractStatus      *string         `json:"extract_status"`
	ExtractUpdatedAtMs *int64          `json:"extract_updated_at_ms"`
	ExtractAttempt     *int64          `json:"extract_attempt"`
	ExtractError       *string         `json:"extract_error"`
	Annotations        json.RawMessage `json:"annotations"`
}

// ListFilter narrows a List call. Zero values mean "no constraint". Q matches
// as a substring of filename, file_id or sha256.
type ListFilter struct {
	SessionID     string
	Mime          string
	ExtractStatus string
	Q             string
	Limit         int
}

// DB is the metadata database. Writers are serialized by an internal mutex,
// matching sqlite's single writer model.
type DB struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if necessary) the metadata database at path and runs
// schema initialization.
func Open(ctx context.Context, path string) (db *DB, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, Error.Wrap(err)
	}

	sqlite, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_mutex=full", path))
	if err != nil {
		return nil, Error.Wrap(err)
	}

	// try to enable write-ahead-logging
	_, _ = sqlite.ExecContext(ctx, `PRAGMA journal_mode = WAL`)

	db = &DB{db: sqlite}
	if err := db.Migrate(ctx); err != nil {
		return nil, errs.Combine(err, sqlite.Close())
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return Error.Wrap(db.db.Close())
}

func (db *DB) locked() func() {
	db.mu.Lock()
	return db.mu.Unlock
}

// Migrate creates the schema when missing. It is idempotent and safe to rerun
// on a live database; readiness probes call it again.
func (db *DB) Migrate(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.locked()()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS files (
			file_id               TEXT NOT NULL,
			tenant_id             TEXT NOT NULL,
			session_id            TEXT,
			filename              TEXT NOT NULL,
			mime                  TEXT,
			size                  INTEGER NOT NULL,
			sha256                TEXT NOT NULL,
			created_at_ms         INTEGER NOT NULL,
			source                TEXT,
			encrypted             INTEGER NOT NULL,
			storage_path          TEXT NOT NULL,
			deleted_at_ms         INTEGER,
			extract_status        TEXT,
			extract_updated_at_ms INTEGER,
			extract_attempt       INTEGER,
			extract_error         TEXT,
			annotations_json      TEXT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_files_live_identity
			ON files(tenant_id, file_id) WHERE deleted_at_ms IS NULL;
		CREATE INDEX IF NOT EXISTS idx_files_tenant_created  ON files(tenant_id, created_at_ms DESC);
		CREATE INDEX IF NOT EXISTS idx_files_tenant_session  ON files(tenant_id, session_id);
		CREATE INDEX IF NOT EXISTS idx_files_tenant_filename ON files(tenant_id, filename);
	`)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return Error.Wrap(err)
	}

	// Databases created before the extraction pipeline existed are missing
	// these columns. ALTER TABLE fails when the column is already there,
	// which is the common case, so the errors are ignored.
	for _, stmt := range []string{
		`ALTER TABLE files ADD COLUMN deleted_at_ms INTEGER`,
		`ALTER TABLE files ADD COLUMN extract_status TEXT`,
		`ALTER TABLE files ADD COLUMN extract_updated_at_ms INTEGER`,
		`ALTER TABLE files ADD COLUMN extract_attempt INTEGER`,
		`ALTER TABLE files ADD COLUMN extract_error TEXT`,
		`ALTER TABLE files ADD COLUMN annotations_json TEXT`,
	} {
		_, _ = db.db.ExecContext(ctx, stmt)
	}
	return nil
}

const fileColumns = `file_id, tenant_id, session_id, filename, mime, size, sha256,
	created_at_ms, source, encrypted, storage_path, deleted_at_ms,
	extract_status, extract_updated_at_ms, extract_attempt, extract_error, annotations_json`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(s scanner) (*File, error) {
	var (
		file            File
		sessionID       sql.NullString
		mime            sql.NullString
		source          sql.NullString
		encrypted       int64
		deletedAtMs     sql.NullInt64
		extractStatus   sql.NullString
		extractUpdated  sql.NullInt64
		extractAttempt  sql.NullInt64
		extractError    sql.NullString
		annotationsJSON sql.NullString
	)
	err := s.Scan(
		&file.FileID, &file.TenantID, &sessionID, &file.Filename, &mime,
		&file.Size, &file.SHA256, &file.CreatedAtMs, &source, &encrypted,
		&file.StoragePath, &deletedAtMs, &extractStatus, &extractUpdated,
		&extractAttempt, &extractError, &annotationsJSON,
	)
	if err != nil {
		return nil, err
	}

	file.Encrypted = encrypted != 0
	if sessionID.Valid {
		file.SessionID = &sessionID.String
	}
	if mime.Valid {
		file.Mime = &mime.String
	}
	if source.Valid {
		file.Source = &source.String
	}
	if deletedAtMs.Valid {
		file.DeletedAtMs = &deletedAtMs.Int64
	}
	if extractStatus.Valid {
		file.ExtractStatus = &extractStatus.String
	}
	if extractUpdated.Valid {
		file.ExtractUpdatedAtMs = &extractUpdated.Int64
	}
	if extractAttempt.Valid {
		file.ExtractAttempt = &extractAttempt.Int64
	}
	if extractError.Valid {
		file.ExtractError = &extractError.String
	}
	if annotationsJSON.Valid && annotationsJSON.String != "" {
		var raw json.RawMessage
		if json.Unmarshal([]byte(annotationsJSON.String), &raw) == nil {
			file.Annotations = raw
		}
	}
	return &file, nil
}

// LookupLive returns the live record for (tenant, fileID), or nil when no such
// record exists. Tombstoned rows are never returned.
func (db *DB) LookupLive(ctx context.Context, tenantID, fileID string) (_ *File, err error) {
	defer mon.Task()(&ctx)(&err)

	row := db.db.QueryRowContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE tenant_id = ? AND file_id = ? AND deleted_at_ms IS NULL`,
		tenantID, fileID)

	file, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return file, nil
}

// Insert adds a new live record. It returns ErrExists when a live record with
// the same (tenant_id, file_id) is already present; concurrent ingests of the
// same content rely on this to detect losing the dedup race.
func (db *DB) Insert(ctx context.Context, file *File) (err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.locked()()

	var annotationsJSON interface{}
	if file.Annotations != nil {
		annotationsJSON = string(file.Annotations)
	}
	encrypted := 0
	if file.Encrypted {
		encrypted = 1
	}

	_, err = db.db.ExecContext(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.FileID, file.TenantID, file.SessionID, file.Filename, file.Mime,
		file.Size, file.SHA256, file.CreatedAtMs, file.Source, encrypted,
		file.StoragePath, file.DeletedAtMs, file.ExtractStatus,
		file.ExtractUpdatedAtMs, file.ExtractAttempt, file.ExtractError,
		annotationsJSON,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrExists
		}
		return Error.Wrap(err)
	}
	return nil
}

// ClampLimit bounds a caller provided limit to [1, 200], substituting def when
// the caller provided none.
func ClampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > 200 {
		return 200
	}
	return limit
}

// List returns live records for the tenant, newest first.
func (db *DB) List(ctx context.Context, tenantID string, filter ListFilter) (_ []*File, err error) {
	defer mon.Task()(&ctx)(&err)

	query := `SELECT ` + fileColumns + ` FROM files WHERE tenant_id = ? AND deleted_at_ms IS NULL`
	args := []interface{}{tenantID}

	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	if filter.Mime != "" {
		query += ` AND mime = ?`
		args = append(args, filter.Mime)
	}
	if filter.Q != "" {
		query += ` AND (filename LIKE ? OR file_id LIKE ? OR sha256 LIKE ?)`
		like := "%" + filter.Q + "%"
		args = append(args, like, like, like)
	}
	if filter.ExtractStatus != "" {
		query += ` AND extract_status = ?`
		args = append(args, filter.ExtractStatus)
	}
	query += ` ORDER BY created_at_ms DESC LIMIT ?`
	args = append(args, ClampLimit(filter.Limit, 50))

	return db.queryFiles(ctx, query, args...)
}

// ListPending returns live records whose extraction has not completed yet
// (extract_status missing or "pending"), oldest first.
func (db *DB) ListPending(ctx context.Context, tenantID string, limit int) (_ []*File, err error) {
	defer mon.Task()(&ctx)(&err)

	return db.queryFiles(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE tenant_id = ? AND deleted_at_ms IS NULL
			AND (extract_status IS NULL OR extract_status = 'pending')
		ORDER BY created_at_ms ASC LIMIT ?`,
		tenantID, ClampLimit(limit, 25))
}

func (db *DB) queryFiles(ctx context.Context, query string, args ...interface{}) (files []*File, err error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		files = append(files, file)
	}
	return files, Error.Wrap(rows.Err())
}

// SetAnnotations replaces the annotation blob of a live record and touches
// extract_updated_at_ms. It reports whether a record was updated.
func (db *DB) SetAnnotations(ctx context.Context, tenantID, fileID string, annotations json.RawMessage, nowMs int64) (updated bool, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.locked()()

	result, err := db.db.ExecContext(ctx, `
		UPDATE files SET annotations_json = ?, extract_updated_at_ms = ?
		WHERE tenant_id = ? AND file_id = ? AND deleted_at_ms IS NULL`,
		string(annotations), nowMs, tenantID, fileID)
	if err != nil {
		return false, Error.Wrap(err)
	}
	return rowsAffected(result)
}

// SetExtractStatus records an extraction attempt on a live record: status and
// error are overwritten, extract_attempt is incremented by one, and
// extract_updated_at_ms is touched. It reports whether a record was updated.
func (db *DB) SetExtractStatus(ctx context.Context, tenantID, fileID, status, extractError string, nowMs int64) (updated bool, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.locked()()

	result, err := db.db.ExecContext(ctx, `
		UPDATE files SET
			extract_status = ?,
			extract_updated_at_ms = ?,
			extract_attempt = COALESCE(extract_attempt, 0) + 1,
			extract_error = ?
		WHERE tenant_id = ? AND file_id = ? AND deleted_at_ms IS NULL`,
		status, nowMs, extractError, tenantID, fileID)
	if err != nil {
		return false, Error.Wrap(err)
	}
	return rowsAffected(result)
}

// Tombstone marks the live record deleted. The row and its blob stay on disk;
// the record just becomes invisible to reads and to ingest deduplication. It
// reports whether a record was changed.
func (db *DB) Tombstone(ctx context.Context, tenantID, fileID string, nowMs int64) (changed bool, err error) {
	defer mon.Task()(&ctx)(&err)
	defer db.locked()()

	result, err := db.db.ExecContext(ctx, `
		UPDATE files SET deleted_at_ms = ?
		WHERE tenant_id = ? AND file_id = ? AND deleted_at_ms IS NULL`,
		nowMs, tenantID, fileID)
	if err != nil {
		return false, Error.Wrap(err)
	}
	return rowsAffected(result)
}

func rowsAffected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, Error.Wrap(err)
	}
	return n > 0, nil
}
