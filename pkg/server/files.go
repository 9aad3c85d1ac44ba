// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"storj.io/filevault/pkg/meta"
)

// ListResponse wraps a metadata listing.
type ListResponse struct {
	OK    bool         `json:"ok"`
	Items []*meta.File `json:"items"`
}

// handleList returns the tenant's live records, newest first, optionally
// narrowed by session, mime, extract status, or a substring query.
func (server *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	query := r.URL.Query()
	peer, err := server.peer(r, query.Get("tenant_id"))
	if err != nil {
		server.errorResponse(w, err)
		return
	}
	if !peer.CanRead() {
		server.errorResponse(w, ErrForbidden)
		return
	}

	items, err := server.db.List(ctx, peer.TenantID, meta.ListFilter{
		SessionID:     strings.TrimSpace(query.Get("session_id")),
		Mime:          strings.TrimSpace(query.Get("mime")),
		ExtractStatus: strings.TrimSpace(query.Get("extract_status")),
		Q:             strings.TrimSpace(query.Get("q")),
		Limit:         queryLimit(query.Get("limit")),
	})
	if err != nil {
		server.errorResponse(w, err)
		return
	}
	if items == nil {
		items = []*meta.File{}
	}
	server.jsonResponse(w, http.StatusOK, ListResponse{OK: true, Items: items})
}

// handlePendingExtract lists records still waiting on extraction, oldest
// first, for external workers to claim.
func (server *Server) handlePendingExtract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	query := r.URL.Query()
	peer, err := server.peer(r, query.Get("tenant_id"))
	if err != nil {
		server.errorResponse(w, err)
		return
	}
	if !peer.CanRead() {
		server.errorResponse(w, ErrForbidden)
		return
	}

	items, err := server.db.ListPending(ctx, peer.TenantID, queryLimit(query.Get("limit")))
	if err != nil {
		server.errorResponse(w, err)
		return
	}
	if items == nil {
		items = []*meta.File{}
	}
	server.jsonResponse(w, http.StatusOK, ListResponse{OK: true, Items: items})
}

// handleMeta returns a single record.
func (server *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	defer mon.Task()(&ctx)(&err)

	peer, err := server.peer(r, r.URL.Query().Get("tenant_id"))
	if err != nil {
		server.errorResponse(w, err)
		return
	}
	if !peer.CanRead() {
		server.errorResponse(w, ErrForbidden)
		return
	}

	fileID := strings.TrimSpace(mux.Vars(r)["file_id"])
	if fileID == "" {
		server.errorResponse(w, errInvalidRequest("file_id required"))
		return
	}

	record, err := server.db.LookupLive(ctx, peer.TenantID, fileID)
	if err != nil {
		server.errorResponse(w, err)
		return
	}
	if record == nil {
		server.errorResponse(w, ErrNotFound)
		return
	}
	server.jsonResponse(w, http.StatusOK, record)
}

func queryLimit(raw string) int {
	limit, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return limit
}
