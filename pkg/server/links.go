// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"net/http"
	"strings"

	"storj.io/filevault/pkg/audit"
	"storj.io/filevault/pkg/link"
)

// LinkRequest asks for a signed public download link.
type LinkRequest struct {
	TTLSeconds int64 `json:"ttl_seconds"`
}

// LinkResponse carries the minted token, the relative public download path,
// an absolute URL when a public base URL is configured, and the expiry.
type LinkResponse struct {
	OK          bool    `json:"ok"`
	Token       string  `json:"token"`
	Path        string  `json:"path"`
	URL         *string `json:"url"`
	ExpiresAtMs int64   `json:"expires_at_ms"`
}

// handleCreateLink mints an HMAC signed, time bounded token granting public
// read access to one live record of the caller's tenant.
func (server *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	if len(server.config.SigningKey) == 0 {
		server.errorResponse(w, errInvalidRequest("SIGNING_KEY is not configured"))
		return
	}

	peer, fileID, ok := server.writerTarget(w, r)
	if !ok {
		return
	}

	var req LinkRequest
	if err = decodeBody(r, &req); err != nil {
		server.errorResponse(w, err)
		return
	}

	// Verify the record exists and is live before minting, so tokens are
	// never produced for missing files or foreign tenants.
	record, err := server.db.LookupLive(ctx, peer.TenantID, fileID)
	if err != nil {
		server.errorResponse(w, err)
		return
	}
	if record == nil {
		server.errorResponse(w, ErrNotFound)
		return
	}

	ttl := link.ClampTTL(req.TTLSeconds)
	expiresAtMs := nowMs() + ttl*1000
	token, err := link.Sign(server.config.SigningKey, link.Payload{
		TenantID: peer.TenantID,
		FileID:   fileID,
		ExpMs:    expiresAtMs,
	})
	if err != nil {
		server.errorResponse(w, err)
		return
	}

	path := "/v1/public/download?token=" + token
	var url *string
	if base := strings.TrimRight(server.config.PublicBaseURL, "/"); base != "" {
		absolute := base + path
		url = &absolute
	}

	server.auditor.Record(ctx, audit.Entry{
		Action:    audit.ActionLinkCreate,
		TenantID:  peer.TenantID,
		KeyID:     peer.KeyID,
		RequestID: requestID(r),
		FileID:    fileID,
		Extra:     map[string]interface{}{"ttl_seconds": ttl},
	})

	server.jsonResponse(w, http.StatusOK, LinkResponse{
		OK:          true,
		Token:       token,
		Path:        path,
		URL:         url,
		ExpiresAtMs: expiresAtMs,
	})
}

// handlePublicDownload serves a blob to the bearer of a valid token. It
// bypasses api key auth entirely; the token scopes access to exactly one
// (tenant_id, file_id).
func (server *Server) handlePublicDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	if len(server.config.SigningKey) == 0 {
		server.errorResponse(w, errInvalidRequest("SIGNING_KEY is not configured"))
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	payload, err := link.Verify(server.config.SigningKey, token, nowMs())
	if err != nil {
		server.errorResponse(w, err)
		return
	}

	// Audited on invocation, before streaming starts.
	server.auditor.Record(ctx, audit.Entry{
		Action:   audit.ActionPublicDownload,
		TenantID: payload.TenantID,
		FileID:   payload.FileID,
	})

	record, err := server.db.LookupLive(ctx, payload.TenantID, payload.FileID)
	if err != nil {
		server.errorResponse(w, err)
		return
	}
	if record == nil {
		server.errorResponse(w, ErrNotFound)
		return
	}

	server.streamBlob(w, r, record)
}
