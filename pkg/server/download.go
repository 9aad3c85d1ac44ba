// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"storj.io/filevault/pkg/crypt"
	"storj.io/filevault/pkg/meta"
)

// Streaming decrypt bounds: chunks of at most 64 KiB over a channel of
// capacity 8, so a slow client holds at most 512 KiB of plaintext in memory.
const (
	decryptChunkSize    = 64 * 1024
	decryptChannelDepth = 8
)

// handleDownload streams a blob back to an authenticated reader.
func (server *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
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

	server.streamBlob(w, r, record)
}

// streamBlob writes the blob body, decrypting on the fly when the record is
// stored encrypted. A record whose blob is missing on disk reports NotFound,
// not an internal error.
func (server *Server) streamBlob(w http.ResponseWriter, r *http.Request, record *meta.File) {
	blob, err := server.blobs.Open(record.StoragePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			server.errorResponse(w, ErrNotFound)
			return
		}
		server.errorResponse(w, err)
		return
	}
	defer func() { _ = blob.Close() }()

	w.Header().Set("Content-Disposition",
		`attachment; filename="`+strings.ReplaceAll(record.Filename, `"`, "_")+`"`)
	if record.Mime != nil {
		w.Header().Set("Content-Type", *record.Mime)
	}

	if !record.Encrypted {
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, blob); err != nil {
			server.log.Debug("download aborted", zap.String("file_id", record.FileID), zap.Error(err))
		}
		return
	}

	if server.config.MasterKey == "" {
		server.errorResponse(w, errInternal(crypt.Error.New("encrypted blob but no master key configured")))
		return
	}

	server.streamDecrypted(w, r, record, blob)
}

type decryptChunk struct {
	data []byte
	err  error
}

// streamDecrypted pushes plaintext chunks from a decrypt worker through a
// bounded channel into the response body. The status line is already 200 by
// the time the first chunk arrives, so a decrypt failure can only truncate
// the body; clients are expected to validate length or hash.
func (server *Server) streamDecrypted(w http.ResponseWriter, r *http.Request, record *meta.File, blob io.Reader) {
	ctx := r.Context()
	chunks := make(chan decryptChunk, decryptChannelDepth)

	go func() {
		defer close(chunks)

		send := func(chunk decryptChunk) bool {
			select {
			case chunks <- chunk:
				return true
			case <-ctx.Done():
				// Client went away; the failed send is the cancellation
				// signal and the worker stops decrypting.
				return false
			}
		}

		plain, err := crypt.Decrypt(server.config.MasterKey, bufio.NewReader(blob))
		if err != nil {
			send(decryptChunk{err: err})
			return
		}

		for {
			buf := make([]byte, decryptChunkSize)
			n, err := plain.Read(buf)
			if n > 0 {
				if !send(decryptChunk{data: buf[:n]}) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				send(decryptChunk{err: err})
				return
			}
		}
	}()

	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for chunk := range chunks {
		if chunk.err != nil {
			// Terminates the body mid-stream; the client observes a
			// truncated payload.
			server.log.Warn("decrypt stream failed",
				zap.String("file_id", record.FileID), zap.Error(chunk.err))
			return
		}
		if _, err := w.Write(chunk.data); err != nil {
			server.log.Debug("download aborted", zap.String("file_id", record.FileID), zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
