// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package audit_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/filevault/pkg/audit"
)

func TestRecordAppendsLines(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")
	log := audit.NewLog(zaptest.NewLogger(t), path)

	log.Record(ctx, audit.Entry{
		Action:    audit.ActionIngest,
		TenantID:  "acme",
		KeyID:     "dev",
		RequestID: "req-1",
		FileID:    "abc",
		Extra:     map[string]interface{}{"dedup": false, "size": 5},
	})
	log.Record(ctx, audit.Entry{
		Action:   audit.ActionTombstone,
		TenantID: "acme",
		FileID:   "abc",
	})

	file, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	var entries []audit.Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry audit.Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, entries, 2)

	assert.Equal(t, audit.ActionIngest, entries[0].Action)
	assert.Equal(t, "acme", entries[0].TenantID)
	assert.Equal(t, "req-1", entries[0].RequestID)
	assert.NotEmpty(t, entries[0].ID)
	assert.NotZero(t, entries[0].TsMs)
	assert.EqualValues(t, 5, entries[0].Extra["size"])

	assert.Equal(t, audit.ActionTombstone, entries[1].Action)
	assert.Empty(t, entries[1].KeyID)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
	assert.NotNil(t, entries[1].Extra)
}

func TestRecordDisabled(t *testing.T) {
	// An empty path disables the log entirely; Record must not panic or
	// create files.
	log := audit.NewLog(zaptest.NewLogger(t), "")
	log.Record(context.Background(), audit.Entry{Action: audit.ActionIngest, TenantID: "acme"})
}

func TestRecordSwallowsErrors(t *testing.T) {
	// Point the log at an unwritable location: the parent "directory" is a
	// regular file. Record must swallow the failure.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	log := audit.NewLog(zaptest.NewLogger(t), filepath.Join(blocker, "audit.jsonl"))
	log.Record(context.Background(), audit.Entry{Action: audit.ActionIngest, TenantID: "acme"})
}
