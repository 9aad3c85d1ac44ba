// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package link_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/filevault/pkg/link"
)

var testKey = []byte("test-signing-key")

func TestSignVerifyRoundtrip(t *testing.T) {
	now := time.Now().UnixMilli()
	payload := link.Payload{
		TenantID: "acme",
		FileID:   "abc123",
		ExpMs:    now + 60_000,
	}

	token, err := link.Sign(testKey, payload)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(token, "."))

	got, err := link.Verify(testKey, token, now)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestVerifyExpired(t *testing.T) {
	now := time.Now().UnixMilli()
	token, err := link.Sign(testKey, link.Payload{
		TenantID: "acme",
		FileID:   "abc123",
		ExpMs:    now + 1000,
	})
	require.NoError(t, err)

	// Accepted strictly before expiry, rejected at and after it.
	_, err = link.Verify(testKey, token, now+999)
	require.NoError(t, err)

	_, err = link.Verify(testKey, token, now+1000)
	require.ErrorIs(t, err, link.ErrExpired)

	_, err = link.Verify(testKey, token, now+5000)
	require.ErrorIs(t, err, link.ErrExpired)
}

func TestVerifyTampered(t *testing.T) {
	now := time.Now().UnixMilli()
	token, err := link.Sign(testKey, link.Payload{
		TenantID: "acme",
		FileID:   "abc123",
		ExpMs:    now + 60_000,
	})
	require.NoError(t, err)

	// Any single character change anywhere in the token must reject.
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			continue
		}
		mutated := []byte(token)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		_, err := link.Verify(testKey, string(mutated), now)
		assert.Error(t, err, "mutation at offset %d was accepted", i)
	}
}

func TestVerifyWrongKey(t *testing.T) {
	now := time.Now().UnixMilli()
	token, err := link.Sign(testKey, link.Payload{TenantID: "acme", FileID: "f", ExpMs: now + 1000})
	require.NoError(t, err)

	_, err = link.Verify([]byte("other-key"), token, now)
	require.ErrorIs(t, err, link.ErrBadSignature)
}

func TestVerifyMalformed(t *testing.T) {
	now := time.Now().UnixMilli()
	for _, token := range []string{
		"",
		"justonepart",
		"a.b.c",
		"!!!.???",
		"bm90anNvbg.AAAA",
	} {
		_, err := link.Verify(testKey, token, now)
		assert.Error(t, err, "token %q was accepted", token)
	}
}

func TestClampTTL(t *testing.T) {
	assert.EqualValues(t, link.DefaultTTLSeconds, link.ClampTTL(0))
	assert.EqualValues(t, link.DefaultTTLSeconds, link.ClampTTL(-5))
	assert.EqualValues(t, link.MinTTLSeconds, link.ClampTTL(1))
	assert.EqualValues(t, 60, link.ClampTTL(60))
	assert.EqualValues(t, link.MaxTTLSeconds, link.ClampTTL(86400))
}
