// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package audit appends mutating events to a JSON lines log.
//
// The log is best effort by contract: a request must never fail because its
// audit entry could not be written, so every I/O error here is swallowed.
package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actions emitted by the service.
const (
	ActionIngest           = "ingest"
	ActionTombstone        = "tombstone"
	ActionLinkCreate       = "link_create"
	ActionPublicDownload   = "public_download"
	ActionAnnotationUpsert = "annotations_upsert"
	ActionExtractStatus    = "extract_status"
)

// Entry is one audit event. ID and TsMs are filled in by Record.
type Entry struct {
	ID        string                 `json:"id"`
	TsMs      int64                  `json:"ts_ms"`
	Action    string                 `json:"action"`
	TenantID  string                 `json:"tenant_id"`
	KeyID     string                 `json:"key_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	FileID    string                 `json:"file_id,omitempty"`
	Extra     map[string]interface{} `json:"extra"`
}

// Log writes entries to a JSON lines file. A nil path disables it.
type Log struct {
	log  *zap.Logger
	path string
}

// NewLog returns a Log appending to path; an empty path makes Record a no-op.
func NewLog(log *zap.Logger, path string) *Log {
	return &Log{log: log, path: path}
}

// Record appends one event. The file is opened in append mode per event so a
// crash can lose at most the entry being written, never corrupt earlier
// lines. Failures are logged at debug and otherwise ignored.
func (l *Log) Record(ctx context.Context, entry Entry) {
	if l == nil || l.path == "" {
		return
	}

	entry.ID = uuid.NewString()
	entry.TsMs = time.Now().UnixMilli()
	if entry.Extra == nil {
		entry.Extra = map[string]interface{}{}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		l.log.Debug("audit entry not serializable", zap.Error(err))
		return
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		l.log.Debug("audit directory unavailable", zap.Error(err))
		return
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		l.log.Debug("audit log unavailable", zap.Error(err))
		return
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write(append(line, '\n')); err != nil {
		l.log.Debug("audit append failed", zap.Error(err))
	}
}
