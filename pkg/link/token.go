// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package link mints and verifies the HMAC signed, time bounded tokens that
// grant public read access to one (tenant_id, file_id).
//
// Wire format: b64url_nopad(payload_json) + "." + b64url_nopad(signature),
// where the signature is HMAC-SHA256 over the Base64 text of the payload,
// not over the raw JSON bytes.
package link

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/zeebo/errs"
)

var (
	// Error is the signed link error class.
	Error = errs.Class("link")

	// ErrMalformed is returned for tokens that are structurally invalid.
	ErrMalformed = errs.New("malformed token")
	// ErrBadSignature is returned when the signature does not verify.
	ErrBadSignature = errs.New("bad token signature")
	// ErrExpired is returned for tokens past their expiration.
	ErrExpired = errs.New("token expired")
)

// TTL bounds, in seconds, applied when a link is issued.
const (
	MinTTLSeconds     = 30
	MaxTTLSeconds     = 3600
	DefaultTTLSeconds = 300
)

// Payload is the signed token content. ExpMs is UTC unix milliseconds.
type Payload struct {
	TenantID string `json:"tenant_id"`
	FileID   string `json:"file_id"`
	ExpMs    int64  `json:"exp_ms"`
}

// Strict mode rejects non-zero padding bits in the final character, so every
// token has exactly one accepted encoding and any bit flip is detectable.
var encoding = base64.RawURLEncoding.Strict()

// ClampTTL bounds a caller provided TTL to [MinTTLSeconds, MaxTTLSeconds],
// substituting the default when the caller provided none.
func ClampTTL(seconds int64) int64 {
	switch {
	case seconds <= 0:
		return DefaultTTLSeconds
	case seconds < MinTTLSeconds:
		return MinTTLSeconds
	case seconds > MaxTTLSeconds:
		return MaxTTLSeconds
	}
	return seconds
}

// Sign serializes and signs a payload under key.
func Sign(key []byte, payload Payload) (string, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", Error.Wrap(err)
	}
	payloadB64 := encoding.EncodeToString(payloadJSON)

	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(payloadB64))
	sigB64 := encoding.EncodeToString(mac.Sum(nil))

	return payloadB64 + "." + sigB64, nil
}

// Verify checks a token's structure, signature and expiration against nowMs
// and returns the embedded payload. The signature comparison is constant
// time.
func Verify(key []byte, token string, nowMs int64) (Payload, error) {
	payloadB64, sigB64, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(sigB64, ".") {
		return Payload{}, ErrMalformed
	}

	sig, err := encoding.DecodeString(sigB64)
	if err != nil {
		return Payload{}, ErrMalformed
	}

	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(payloadB64))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return Payload{}, ErrBadSignature
	}

	payloadJSON, err := encoding.DecodeString(payloadB64)
	if err != nil {
		return Payload{}, ErrMalformed
	}
	var payload Payload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return Payload{}, ErrMalformed
	}
	if payload.ExpMs <= nowMs {
		return Payload{}, ErrExpired
	}
	return payload, nil
}
