// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package introspect

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oidccrypto "github.com/ssoplugins/oidcauthz/pkg/crypto"
	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

func serviceWith(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })
	keys := oidccrypto.NewGeneratingProvider("ES256")
	return New("oidc", "https://sso.example.com", mem, token.New(keys)), mem
}

func insertAccess(t *testing.T, mem *store.MemoryStore, tokenStr string, enabled bool) *store.AccessTokenRecord {
	t.Helper()
	rec := &store.AccessTokenRecord{
		ID:         uuid.NewString(),
		PluginName: "oidc",
		Username:   "alice",
		ClientID:   "c1",
		Scopes:     []string{"openid", "profile"},
		Hash:       token.HashSecret(tokenStr),
		JTI:        "jti-1",
		IssuedAt:   time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
		Enabled:    enabled,
	}
	require.NoError(t, mem.InsertAccessToken(context.Background(), rec))
	if !enabled {
		require.NoError(t, mem.DisableAccessToken(context.Background(), "oidc", rec.ID))
	}
	return rec
}

func TestIntrospect_ActiveAndInactive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, mem := serviceWith(t)

	insertAccess(t, mem, "live-token", true)
	resp, err := svc.Introspect(ctx, "live-token", "")
	require.NoError(t, err)
	assert.True(t, resp.Active)
	assert.Equal(t, "openid profile", resp.Scope)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "https://sso.example.com", resp.Iss)

	insertAccess(t, mem, "dead-token", false)
	resp, err = svc.Introspect(ctx, "dead-token", "")
	require.NoError(t, err)
	assert.False(t, resp.Active)

	resp, err = svc.Introspect(ctx, "unknown-token", "")
	require.NoError(t, err)
	assert.False(t, resp.Active)
}

func TestIntrospect_NonAccessHintSilentlyInactive(t *testing.T) {
	t.Parallel()
	svc, mem := serviceWith(t)
	insertAccess(t, mem, "live-token", true)

	resp, err := svc.Introspect(context.Background(), "live-token", "refresh_token")
	require.NoError(t, err)
	assert.False(t, resp.Active)
}

func TestIntrospectJWT_Shape(t *testing.T) {
	t.Parallel()
	svc, mem := serviceWith(t)
	insertAccess(t, mem, "live-token", true)

	signed, err := svc.IntrospectJWT(context.Background(), "live-token", "", "c1")
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`, signed)
}

func TestRevoke_ScanOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, mem := serviceWith(t)

	// Refresh token revocation.
	refresh := &store.RefreshToken{
		ID: uuid.NewString(), PluginName: "oidc", Username: "alice", ClientID: "c1",
		TokenHash: token.HashSecret("refresh-1"), Enabled: true,
		IssuedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, mem.InsertRefreshToken(ctx, refresh))
	require.NoError(t, svc.Revoke(ctx, "refresh-1", ""))
	got, err := mem.FindRefreshTokenByHashAny(ctx, "oidc", refresh.TokenHash)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	// Access token revocation via hint.
	insertAccess(t, mem, "access-1", true)
	require.NoError(t, svc.Revoke(ctx, "access-1", "access_token"))
	resp, err := svc.Introspect(ctx, "access-1", "")
	require.NoError(t, err)
	assert.False(t, resp.Active)

	// Unknown tokens are not an error (RFC 7009).
	assert.NoError(t, svc.Revoke(ctx, "never-seen", ""))
}

func TestRevoke_IDToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, mem := serviceWith(t)

	rec := &store.IDTokenRecord{
		PluginName: "oidc", Username: "alice", ClientID: "c1",
		Hash: token.HashSecret("id-token-1"), ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, mem.InsertIDToken(ctx, rec))
	require.NoError(t, svc.Revoke(ctx, "id-token-1", "id_token"))

	last, err := mem.LastIDTokenFor(ctx, "oidc", "c1", "alice")
	require.NoError(t, err)
	assert.Nil(t, last)
}
