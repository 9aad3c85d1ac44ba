// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package server implements the REST API of the file service: content
// addressed ingest, metadata search, streaming download, signed public links,
// and the extraction-state write paths.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/filevault/pkg/audit"
	"storj.io/filevault/pkg/auth"
	"storj.io/filevault/pkg/meta"
	"storj.io/filevault/pkg/objects"
)

var mon = monkit.Package()

// Config carries the request-independent server settings.
type Config struct {
	// MasterKey is the at-rest encryption passphrase; empty disables
	// encryption and blobs are stored as plaintext.
	MasterKey string
	// SigningKey keys the HMAC over public download tokens; empty disables
	// the link endpoints.
	SigningKey []byte
	// PublicBaseURL, when set, is used to build absolute URLs in link
	// responses.
	PublicBaseURL string
}

// Server is the HTTP API server.
type Server struct {
	log     *zap.Logger
	db      *meta.DB
	blobs   *objects.Store
	keys    *auth.Registry
	auditor *audit.Log
	config  Config

	// Handler is the fully routed http.Handler; exported for tests and for
	// embedding under other muxes.
	Handler http.Handler
}

// New creates a Server wired to its collaborators and builds the route table.
func New(log *zap.Logger, db *meta.DB, blobs *objects.Store, keys *auth.Registry, auditor *audit.Log, config Config) *Server {
	server := &Server{
		log:     log,
		db:      db,
		blobs:   blobs,
		keys:    keys,
		auditor: auditor,
		config:  config,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", server.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", server.handleReady).Methods(http.MethodGet)

	router.HandleFunc("/v1/files", server.handleIngest).Methods(http.MethodPost)
	router.HandleFunc("/v1/files", server.handleList).Methods(http.MethodGet)
	// Registered before the {file_id} routes so the literal path wins.
	router.HandleFunc("/v1/files/pending_extract", server.handlePendingExtract).Methods(http.MethodGet)
	router.HandleFunc("/v1/files/{file_id}/meta", server.handleMeta).Methods(http.MethodGet)
	router.HandleFunc("/v1/files/{file_id}/link", server.handleCreateLink).Methods(http.MethodPost)
	router.HandleFunc("/v1/files/{file_id}/annotations", server.handleAnnotations).Methods(http.MethodPost)
	router.HandleFunc("/v1/files/{file_id}/extract_status", server.handleExtractStatus).Methods(http.MethodPost)
	router.HandleFunc("/v1/files/{file_id}/tombstone", server.handleTombstone).Methods(http.MethodPost)
	router.HandleFunc("/v1/files/{file_id}", server.handleDownload).Methods(http.MethodGet)
	router.HandleFunc("/v1/public/download", server.handlePublicDownload).Methods(http.MethodGet)
	server.Handler = router

	return server
}

// Run serves the API on addr until ctx is canceled, then shuts down
// gracefully.
func (server *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Handler,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

// peer resolves the caller's identity. tenantHint is honored only when api
// key checking is disabled.
func (server *Server) peer(r *http.Request, tenantHint string) (auth.Context, error) {
	peer, err := server.keys.Resolve(r.Header.Get(auth.Header), tenantHint)
	if err != nil {
		return auth.Context{}, ErrUnauthorized
	}
	return peer, nil
}

func requestID(r *http.Request) string {
	return r.Header.Get("x-request-id")
}

func (server *Server) jsonResponse(w http.ResponseWriter, status int, body interface{}) {
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		server.errorResponse(w, errInternal(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(jsonBytes)
}

func (server *Server) errorResponse(w http.ResponseWriter, err error) {
	response := asErrorResponse(err)
	if response.StatusCode >= http.StatusInternalServerError {
		server.log.Error("request failed", zap.Error(err))
	} else {
		server.log.Warn("request rejected", zap.Error(err))
	}

	body, _ := json.Marshal(response)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(response.StatusCode)
	_, _ = w.Write(body)
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (server *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	server.jsonResponse(w, http.StatusOK, okResponse{OK: true})
}

// handleReady re-runs schema initialization so readiness also covers the
// database being writable.
func (server *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := server.db.Migrate(r.Context()); err != nil {
		server.errorResponse(w, err)
		return
	}
	server.jsonResponse(w, http.StatusOK, okResponse{OK: true})
}

// decodeBody decodes a JSON request body into dst. An empty body is accepted
// and leaves dst untouched, for endpoints whose fields are all optional.
func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		return errInvalidRequest("error decoding request body: %v", err)
	}
	return nil
}
