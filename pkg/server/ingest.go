// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"storj.io/filevault/pkg/audit"
	"storj.io/filevault/pkg/auth"
	"storj.io/filevault/pkg/crypt"
	"storj.io/filevault/pkg/meta"
)

// IngestResponse is returned after a successful upload, deduplicated or not.
type IngestResponse struct {
	OK        bool   `json:"ok"`
	FileID    string `json:"file_id"`
	SHA256    string `json:"sha256"`
	Size      int64  `json:"size"`
	Encrypted bool   `json:"encrypted"`
}

// upload is the state accumulated while consuming the multipart body.
type upload struct {
	tenantHint string
	sessionID  *string
	source     *string
	filename   string
	mime       *string
	tmpPath    string
	sha256     string
	size       int64
}

// handleIngest accepts a multipart upload, streams the file part to a temp
// file while hashing, deduplicates by content hash, then publishes the blob
// (encrypting when a master key is configured) and inserts the record.
func (server *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	reader, err := r.MultipartReader()
	if err != nil {
		server.errorResponse(w, errInvalidRequest("multipart body required: %v", err))
		return
	}

	up, err := server.consumeMultipart(reader)
	if err != nil {
		server.errorResponse(w, err)
		return
	}

	// Identity is resolved after the body is consumed; the multipart
	// tenant_id field is only the disabled-auth hint and the key's tenant
	// always wins. The temp file is abandoned on auth failure.
	peer, err := server.peer(r, up.tenantHint)
	if err != nil {
		server.errorResponse(w, err)
		return
	}
	if !peer.CanWrite() {
		server.errorResponse(w, ErrForbidden)
		return
	}
	if up.tmpPath == "" {
		server.errorResponse(w, errInvalidRequest("missing multipart field: file"))
		return
	}

	encrypted := server.config.MasterKey != ""

	// Dedup hit: an identical live blob already exists for this tenant, so
	// nothing is written.
	existing, err := server.db.LookupLive(ctx, peer.TenantID, up.sha256)
	if err != nil {
		server.errorResponse(w, err)
		return
	}
	if existing != nil {
		server.blobs.Discard(up.tmpPath)
		server.respondIngest(ctx, w, r, peer, existing, true)
		return
	}

	record, err := server.publishAndInsert(ctx, peer.TenantID, up, encrypted)
	if errors.Is(err, meta.ErrExists) {
		// Lost the dedup race to a concurrent ingest of the same bytes.
		// The winner's record is authoritative; our published blob is
		// content addressed and identical, so leaving it is harmless.
		existing, lookupErr := server.db.LookupLive(ctx, peer.TenantID, up.sha256)
		if lookupErr != nil || existing == nil {
			server.errorResponse(w, err)
			return
		}
		server.respondIngest(ctx, w, r, peer, existing, true)
		return
	}
	if err != nil {
		server.errorResponse(w, err)
		return
	}

	server.respondIngest(ctx, w, r, peer, record, false)
}

func (server *Server) consumeMultipart(reader *multipart.Reader) (up upload, err error) {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return up, nil
		}
		if err != nil {
			return up, errInvalidRequest("reading multipart body: %v", err)
		}

		switch part.FormName() {
		case "tenant_id":
			up.tenantHint, err = partText(part)
		case "session_id":
			var value string
			if value, err = partText(part); value != "" {
				up.sessionID = &value
			}
		case "source":
			var value string
			if value, err = partText(part); value != "" {
				up.source = &value
			}
		case "file":
			err = server.streamFilePart(part, &up)
		default:
			// unknown fields are ignored
		}
		if err != nil {
			return up, err
		}
	}
}

func partText(part *multipart.Part) (string, error) {
	text, err := io.ReadAll(part)
	if err != nil {
		return "", errInvalidRequest("reading multipart field %q: %v", part.FormName(), err)
	}
	return strings.TrimSpace(string(text)), nil
}

// streamFilePart tees the file part into a fresh temp file and a running
// SHA-256; the upload never buffers in memory.
func (server *Server) streamFilePart(part *multipart.Part, up *upload) (err error) {
	up.filename = part.FileName()
	if up.filename == "" {
		up.filename = "file"
	}
	if contentType := part.Header.Get("Content-Type"); contentType != "" {
		up.mime = &contentType
	}

	tmp, err := server.blobs.TempFile()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := tmp.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()
	up.tmpPath = tmp.Name()

	hasher := sha256.New()
	up.size, err = io.Copy(io.MultiWriter(tmp, hasher), part)
	if err != nil {
		return errInvalidRequest("reading multipart file: %v", err)
	}
	up.sha256 = hex.EncodeToString(hasher.Sum(nil))
	return nil
}

func (server *Server) publishAndInsert(ctx context.Context, tenantID string, up upload, encrypted bool) (_ *meta.File, err error) {
	defer mon.Task()(&ctx)(&err)

	var storagePath string
	if encrypted {
		storagePath, err = server.blobs.PublishEncrypted(up.tmpPath, tenantID, up.sha256,
			func(dst io.Writer, src io.Reader) error {
				return crypt.EncryptStream(server.config.MasterKey, dst, src)
			})
	} else {
		storagePath, err = server.blobs.Publish(up.tmpPath, tenantID, up.sha256)
	}
	if err != nil {
		return nil, err
	}

	now := nowMs()
	pending := "pending"
	attempt := int64(0)
	record := &meta.File{
		FileID:             up.sha256,
		TenantID:           tenantID,
		SessionID:          up.sessionID,
		Filename:           up.filename,
		Mime:               up.mime,
		Size:               up.size,
		SHA256:             up.sha256,
		CreatedAtMs:        now,
		Source:             up.source,
		Encrypted:          encrypted,
		StoragePath:        storagePath,
		ExtractStatus:      &pending,
		ExtractUpdatedAtMs: &now,
		ExtractAttempt:     &attempt,
	}
	if err := server.db.Insert(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (server *Server) respondIngest(ctx context.Context, w http.ResponseWriter, r *http.Request, peer auth.Context, record *meta.File, dedup bool) {
	server.auditor.Record(ctx, audit.Entry{
		Action:    audit.ActionIngest,
		TenantID:  peer.TenantID,
		KeyID:     peer.KeyID,
		RequestID: requestID(r),
		FileID:    record.FileID,
		Extra: map[string]interface{}{
			"dedup":     dedup,
			"size":      record.Size,
			"encrypted": record.Encrypted,
		},
	})

	server.jsonResponse(w, http.StatusOK, IngestResponse{
		OK:        true,
		FileID:    record.FileID,
		SHA256:    record.SHA256,
		Size:      record.Size,
		Encrypted: record.Encrypted,
	})
}
