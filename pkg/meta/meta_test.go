// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package meta_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/filevault/pkg/meta"
)

func openDB(t *testing.T) *meta.DB {
	db, err := meta.Open(context.Background(), filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func strPtr(s string) *string { return &s }

func record(tenantID, fileID string, createdAtMs int64) *meta.File {
	return &meta.File{
		FileID:      fileID,
		TenantID:    tenantID,
		Filename:    fileID + ".txt",
		Size:        5,
		SHA256:      fileID,
		CreatedAtMs: createdAtMs,
		StoragePath: "objects/" + tenantID + "/" + fileID,
	}
}

func TestInsertLookup(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	file := record("acme", "abc", 1000)
	file.SessionID = strPtr("s1")
	file.Mime = strPtr("text/plain")
	file.Source = strPtr("api")
	file.ExtractStatus = strPtr("pending")
	attempt := int64(0)
	file.ExtractAttempt = &attempt
	require.NoError(t, db.Insert(ctx, file))

	got, err := db.LookupLive(ctx, "acme", "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	// Every field must round trip through the database unchanged.
	assert.Empty(t, cmp.Diff(file, got))

	// Unknown file and unknown tenant both miss.
	got, err = db.LookupLive(ctx, "acme", "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = db.LookupLive(ctx, "globex", "abc")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInsertDuplicate(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	require.NoError(t, db.Insert(ctx, record("acme", "abc", 1000)))
	err := db.Insert(ctx, record("acme", "abc", 2000))
	assert.ErrorIs(t, err, meta.ErrExists)

	// The same file_id under a different tenant is a distinct record.
	require.NoError(t, db.Insert(ctx, record("globex", "abc", 3000)))
}

func TestTombstone(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	require.NoError(t, db.Insert(ctx, record("acme", "abc", 1000)))

	changed, err := db.Tombstone(ctx, "acme", "abc", 5000)
	require.NoError(t, err)
	assert.True(t, changed)

	// Tombstoned records are invisible everywhere.
	got, err := db.LookupLive(ctx, "acme", "abc")
	require.NoError(t, err)
	assert.Nil(t, got)
	files, err := db.List(ctx, "acme", meta.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, files)
	files, err = db.ListPending(ctx, "acme", 0)
	require.NoError(t, err)
	assert.Empty(t, files)

	// A second tombstone is a no-op.
	changed, err = db.Tombstone(ctx, "acme", "abc", 6000)
	require.NoError(t, err)
	assert.False(t, changed)

	// Mutations cannot touch a tombstoned record.
	updated, err := db.SetExtractStatus(ctx, "acme", "abc", "done", "", 7000)
	require.NoError(t, err)
	assert.False(t, updated)

	// The identity is free again: the same file can be re-ingested.
	require.NoError(t, db.Insert(ctx, record("acme", "abc", 8000)))
	got, err = db.LookupLive(ctx, "acme", "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 8000, got.CreatedAtMs)
}

func TestSetExtractStatus(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	require.NoError(t, db.Insert(ctx, record("acme", "abc", 1000)))

	updated, err := db.SetExtractStatus(ctx, "acme", "abc", "failed", "parse error", 2000)
	require.NoError(t, err)
	assert.True(t, updated)

	got, err := db.LookupLive(ctx, "acme", "abc")
	require.NoError(t, err)
	require.NotNil(t, got.ExtractStatus)
	assert.Equal(t, "failed", *got.ExtractStatus)
	require.NotNil(t, got.ExtractAttempt)
	assert.EqualValues(t, 1, *got.ExtractAttempt)
	require.NotNil(t, got.ExtractError)
	assert.Equal(t, "parse error", *got.ExtractError)
	require.NotNil(t, got.ExtractUpdatedAtMs)
	assert.EqualValues(t, 2000, *got.ExtractUpdatedAtMs)

	// A second attempt increments the counter and overwrites status and error.
	updated, err = db.SetExtractStatus(ctx, "acme", "abc", "done", "", 3000)
	require.NoError(t, err)
	assert.True(t, updated)

	got, err = db.LookupLive(ctx, "acme", "abc")
	require.NoError(t, err)
	assert.Equal(t, "done", *got.ExtractStatus)
	assert.EqualValues(t, 2, *got.ExtractAttempt)
	assert.Equal(t, "", *got.ExtractError)
	assert.EqualValues(t, 3000, *got.ExtractUpdatedAtMs)

	updated, err = db.SetExtractStatus(ctx, "acme", "missing", "done", "", 4000)
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestSetAnnotations(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	require.NoError(t, db.Insert(ctx, record("acme", "abc", 1000)))

	updated, err := db.SetAnnotations(ctx, "acme", "abc", json.RawMessage(`{"lang":"en","pages":3}`), 2000)
	require.NoError(t, err)
	assert.True(t, updated)

	got, err := db.LookupLive(ctx, "acme", "abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"lang":"en","pages":3}`, string(got.Annotations))
	require.NotNil(t, got.ExtractUpdatedAtMs)
	assert.EqualValues(t, 2000, *got.ExtractUpdatedAtMs)
	// Annotations do not count as an extraction attempt.
	if got.ExtractAttempt != nil {
		assert.EqualValues(t, 0, *got.ExtractAttempt)
	}

	// Writes replace wholesale, not merge.
	updated, err = db.SetAnnotations(ctx, "acme", "abc", json.RawMessage(`{"lang":"de"}`), 3000)
	require.NoError(t, err)
	assert.True(t, updated)
	got, err = db.LookupLive(ctx, "acme", "abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"lang":"de"}`, string(got.Annotations))

	updated, err = db.SetAnnotations(ctx, "acme", "missing", json.RawMessage(`{}`), 4000)
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	first := record("acme", "aaa", 1000)
	first.SessionID = strPtr("s1")
	first.Mime = strPtr("text/plain")
	first.Filename = "report.txt"
	require.NoError(t, db.Insert(ctx, first))

	second := record("acme", "bbb", 2000)
	second.SessionID = strPtr("s2")
	second.Mime = strPtr("application/pdf")
	second.Filename = "invoice.pdf"
	require.NoError(t, db.Insert(ctx, second))

	third := record("acme", "ccc", 3000)
	third.SessionID = strPtr("s1")
	third.Mime = strPtr("text/plain")
	third.Filename = "notes.txt"
	require.NoError(t, db.Insert(ctx, third))

	// Another tenant's records never appear.
	require.NoError(t, db.Insert(ctx, record("globex", "ddd", 4000)))

	files, err := db.List(ctx, "acme", meta.ListFilter{})
	require.NoError(t, err)
	require.Len(t, files, 3)
	// Newest first.
	assert.Equal(t, "ccc", files[0].FileID)
	assert.Equal(t, "bbb", files[1].FileID)
	assert.Equal(t, "aaa", files[2].FileID)

	files, err = db.List(ctx, "acme", meta.ListFilter{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "ccc", files[0].FileID)
	assert.Equal(t, "aaa", files[1].FileID)

	files, err = db.List(ctx, "acme", meta.ListFilter{Mime: "application/pdf"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "bbb", files[0].FileID)

	// Q matches filename, file_id and sha256 as a substring.
	files, err = db.List(ctx, "acme", meta.ListFilter{Q: "invoice"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "bbb", files[0].FileID)

	files, err = db.List(ctx, "acme", meta.ListFilter{Q: "cc"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "ccc", files[0].FileID)

	files, err = db.List(ctx, "acme", meta.ListFilter{SessionID: "s1", Q: "notes"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "ccc", files[0].FileID)

	files, err = db.List(ctx, "acme", meta.ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "ccc", files[0].FileID)
}

func TestListExtractStatusFilter(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	done := record("acme", "aaa", 1000)
	done.ExtractStatus = strPtr("done")
	require.NoError(t, db.Insert(ctx, done))

	pending := record("acme", "bbb", 2000)
	pending.ExtractStatus = strPtr("pending")
	require.NoError(t, db.Insert(ctx, pending))

	files, err := db.List(ctx, "acme", meta.ListFilter{ExtractStatus: "done"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "aaa", files[0].FileID)
}

func TestListPending(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	// extract_status NULL counts as pending.
	require.NoError(t, db.Insert(ctx, record("acme", "aaa", 3000)))

	pending := record("acme", "bbb", 1000)
	pending.ExtractStatus = strPtr("pending")
	require.NoError(t, db.Insert(ctx, pending))

	done := record("acme", "ccc", 2000)
	done.ExtractStatus = strPtr("done")
	require.NoError(t, db.Insert(ctx, done))

	files, err := db.ListPending(ctx, "acme", 0)
	require.NoError(t, err)
	require.Len(t, files, 2)
	// Oldest first, so the extraction queue drains in ingest order.
	assert.Equal(t, "bbb", files[0].FileID)
	assert.Equal(t, "aaa", files[1].FileID)

	files, err = db.ListPending(ctx, "acme", 1)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "bbb", files[0].FileID)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, meta.ClampLimit(0, 50))
	assert.Equal(t, 50, meta.ClampLimit(-3, 50))
	assert.Equal(t, 1, meta.ClampLimit(1, 50))
	assert.Equal(t, 200, meta.ClampLimit(200, 50))
	assert.Equal(t, 200, meta.ClampLimit(9999, 50))
}

func TestMigrateIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	require.NoError(t, db.Insert(ctx, record("acme", "abc", 1000)))
	// Readiness probes rerun Migrate on a live database.
	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx))

	got, err := db.LookupLive(ctx, "acme", "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
}
