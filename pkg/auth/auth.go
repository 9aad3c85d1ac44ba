// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package auth maps request credentials to a tenant, role and key id, and
// enforces role gates.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/zeebo/errs"
)

var (
	// Error is the auth error class.
	Error = errs.Class("auth")

	// ErrUnauthorized is returned for a missing or unknown api key.
	ErrUnauthorized = errs.New("unauthorized")
)

// Header is the request header carrying the raw api key.
const Header = "x-api-key"

// Roles, from least to most privileged. Unknown role strings become admin; a
// deliberate fail-open kept for compatibility with old key tables.
const (
	RoleReader = "reader"
	RoleWriter = "writer"
	RoleAdmin  = "admin"
)

// Key is one entry of the configured api key table.
type Key struct {
	Key      string `json:"key"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Context is the resolved identity of a request.
type Context struct {
	TenantID string
	Role     string
	KeyID    string
}

// CanRead reports whether the role may perform read operations.
func (c Context) CanRead() bool {
	switch c.Role {
	case RoleReader, RoleWriter, RoleAdmin:
		return true
	}
	return false
}

// CanWrite reports whether the role may perform mutating operations.
func (c Context) CanWrite() bool {
	switch c.Role {
	case RoleWriter, RoleAdmin:
		return true
	}
	return false
}

// NormalizeRole lowercases and constrains a role string to the known set,
// defaulting to admin for anything else.
func NormalizeRole(role string) string {
	switch r := strings.ToLower(strings.TrimSpace(role)); r {
	case RoleReader, RoleWriter, RoleAdmin:
		return r
	}
	return RoleAdmin
}

// KeyID derives the identifier surfaced in audit records from a raw key: the
// first 8 bytes of its SHA-256, hex encoded. The raw key itself never leaves
// the registry.
func KeyID(rawKey string) string {
	digest := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(digest[:8])
}

// Registry resolves request credentials. With Require disabled every request
// is admitted as an admin of the hinted tenant; with it enabled the key table
// is authoritative and hints are ignored.
type Registry struct {
	Require bool
	keys    map[string]Key
}

// NewRegistry returns a Registry over the given key table.
func NewRegistry(require bool, keys []Key) *Registry {
	table := make(map[string]Key, len(keys))
	for _, key := range keys {
		table[key.Key] = key
	}
	return &Registry{Require: require, keys: table}
}

// ParseKeysJSON parses the API_KEYS_JSON configuration value: a JSON array of
// {key, tenant_id, role?}. Invalid or empty input yields an empty table;
// entries missing a key or tenant are dropped.
func ParseKeysJSON(raw string) []Key {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var parsed []Key
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}
	keys := parsed[:0]
	for _, key := range parsed {
		key.Key = strings.TrimSpace(key.Key)
		key.TenantID = strings.TrimSpace(key.TenantID)
		if key.Key == "" || key.TenantID == "" {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of configured keys.
func (registry *Registry) Len() int { return len(registry.keys) }

// Resolve maps the raw x-api-key header value and the caller's tenant hint to
// an identity. The hint (query param or multipart field) is honored only when
// key checking is disabled; otherwise the key's tenant wins.
func (registry *Registry) Resolve(rawKey, tenantHint string) (Context, error) {
	if !registry.Require {
		tenant := strings.TrimSpace(tenantHint)
		if tenant == "" {
			tenant = "default"
		}
		return Context{TenantID: tenant, Role: RoleAdmin, KeyID: "dev"}, nil
	}

	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return Context{}, ErrUnauthorized
	}
	entry, ok := registry.keys[rawKey]
	if !ok {
		return Context{}, ErrUnauthorized
	}
	return Context{
		TenantID: entry.TenantID,
		Role:     NormalizeRole(entry.Role),
		KeyID:    KeyID(rawKey),
	}, nil
}
