// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"storj.io/filevault/pkg/audit"
	"storj.io/filevault/pkg/auth"
)

// AnnotationsRequest carries an opaque annotation blob from an extraction
// worker; its semantics are application defined.
type AnnotationsRequest struct {
	Annotations json.RawMessage `json:"annotations"`
	Source      string          `json:"source"`
}

// AnnotationsResponse acknowledges an annotation upsert.
type AnnotationsResponse struct {
	OK          bool   `json:"ok"`
	FileID      string `json:"file_id"`
	UpdatedAtMs int64  `json:"updated_at_ms"`
}

// ExtractStatusRequest sets the extraction lifecycle state of a record.
type ExtractStatusRequest struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// ExtractStatusResponse acknowledges an extract status write.
type ExtractStatusResponse struct {
	OK     bool   `json:"ok"`
	FileID string `json:"file_id"`
	Status string `json:"status"`
}

// TombstoneRequest optionally names a reason, recorded in the audit log only.
type TombstoneRequest struct {
	Reason string `json:"reason"`
}

// TombstoneResponse reports whether the record was newly tombstoned.
type TombstoneResponse struct {
	OK         bool   `json:"ok"`
	FileID     string `json:"file_id"`
	Tombstoned bool   `json:"tombstoned"`
}

// writerTarget resolves the caller, enforces the writer gate and extracts the
// file_id path variable, the shared preamble of every mutating file endpoint.
func (server *Server) writerTarget(w http.ResponseWriter, r *http.Request) (peer auth.Context, fileID string, ok bool) {
	peer, err := server.peer(r, r.URL.Query().Get("tenant_id"))
	if err != nil {
		server.errorResponse(w, err)
		return auth.Context{}, "", false
	}
	if !peer.CanWrite() {
		server.errorResponse(w, ErrForbidden)
		return auth.Context{}, "", false
	}
	fileID = strings.TrimSpace(mux.Vars(r)["file_id"])
	if fileID == "" {
		server.errorResponse(w, errInvalidRequest("file_id required"))
		return auth.Context{}, "", false
	}
	return peer, fileID, true
}

// handleAnnotations overwrites the annotation blob of a record and touches
// extract_updated_at_ms.
func (server *Server) handleAnnotations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	peer, fileID, ok := server.writerTarget(w, r)
	if !ok {
		return
	}

	var req AnnotationsRequest
	if err = decodeBody(r, &req); err != nil {
		server.errorResponse(w, err)
		return
	}
	if len(req.Annotations) == 0 {
		server.errorResponse(w, errInvalidRequest("annotations required"))
		return
	}

	now := nowMs()
	updated, err := server.db.SetAnnotations(ctx, peer.TenantID, fileID, req.Annotations, now)
	if err != nil {
		server.errorResponse(w, err)
		return
	}
	if !updated {
		server.errorResponse(w, ErrNotFound)
		return
	}

	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "unknown"
	}
	server.auditor.Record(ctx, audit.Entry{
		Action:    audit.ActionAnnotationUpsert,
		TenantID:  peer.TenantID,
		KeyID:     peer.KeyID,
		RequestID: requestID(r),
		FileID:    fileID,
		Extra:     map[string]interface{}{"source": source},
	})

	server.jsonResponse(w, http.StatusOK, AnnotationsResponse{OK: true, FileID: fileID, UpdatedAtMs: now})
}

// handleExtractStatus records one extraction attempt: status and error are
// overwritten and the attempt counter advances by one.
func (server *Server) handleExtractStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	peer, fileID, ok := server.writerTarget(w, r)
	if !ok {
		return
	}

	var req ExtractStatusRequest
	if err = decodeBody(r, &req); err != nil {
		server.errorResponse(w, err)
		return
	}
	status := strings.TrimSpace(req.Status)
	if status == "" {
		server.errorResponse(w, errInvalidRequest("status required"))
		return
	}

	updated, err := server.db.SetExtractStatus(ctx, peer.TenantID, fileID, status, req.Error, nowMs())
	if err != nil {
		server.errorResponse(w, err)
		return
	}
	if !updated {
		server.errorResponse(w, ErrNotFound)
		return
	}

	server.auditor.Record(ctx, audit.Entry{
		Action:    audit.ActionExtractStatus,
		TenantID:  peer.TenantID,
		KeyID:     peer.KeyID,
		RequestID: requestID(r),
		FileID:    fileID,
		Extra:     map[string]interface{}{"status": status, "has_error": req.Error != ""},
	})

	server.jsonResponse(w, http.StatusOK, ExtractStatusResponse{OK: true, FileID: fileID, Status: status})
}

// handleTombstone logically deletes a record. The blob stays on disk; the
// record becomes invisible to reads and to ingest deduplication.
func (server *Server) handleTombstone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	peer, fileID, ok := server.writerTarget(w, r)
	if !ok {
		return
	}

	var req TombstoneRequest
	if err = decodeBody(r, &req); err != nil {
		server.errorResponse(w, err)
		return
	}

	tombstoned, err := server.db.Tombstone(ctx, peer.TenantID, fileID, nowMs())
	if err != nil {
		server.errorResponse(w, err)
		return
	}

	server.auditor.Record(ctx, audit.Entry{
		Action:    audit.ActionTombstone,
		TenantID:  peer.TenantID,
		KeyID:     peer.KeyID,
		RequestID: requestID(r),
		FileID:    fileID,
		Extra:     map[string]interface{}{"reason": req.Reason, "tombstoned": tombstoned},
	})

	server.jsonResponse(w, http.StatusOK, TombstoneResponse{OK: true, FileID: fileID, Tombstoned: tombstoned})
}
