// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package par

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

func TestPush_StoresAndShapesHandle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	defer mem.Close()

	e := New("oidc", "", 0, mem)
	params := url.Values{
		"client_id":     {"abcd0123"},
		"response_type": {"code"},
		"scope":         {"openid"},
	}
	resp, err := e.Push(ctx, "abcd0123", params)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(resp.RequestURI, DefaultPrefix))
	assert.Len(t, strings.TrimPrefix(resp.RequestURI, DefaultPrefix), 32)
	assert.Equal(t, int64(DefaultLifespan.Seconds()), resp.ExpiresIn)

	rec, err := mem.FindPARByHash(ctx, "oidc", token.HashSecret(resp.RequestURI))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, store.PARFresh, rec.Status)

	stored, err := url.ParseQuery(rec.Params)
	require.NoError(t, err)
	assert.Equal(t, "openid", stored.Get("scope"))
}

func TestPush_RejectsNestedRequestURI(t *testing.T) {
	t.Parallel()
	mem := store.NewMemoryStore()
	defer mem.Close()

	e := New("oidc", "urn:custom:", time.Minute, mem)
	_, err := e.Push(context.Background(), "c1", url.Values{"request_uri": {"urn:custom:abc"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_uri cannot be pushed")
}

func TestFinalize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	defer mem.Close()

	e := New("oidc", "", time.Minute, mem)
	resp, err := e.Push(ctx, "c1", url.Values{"scope": {"openid"}})
	require.NoError(t, err)

	rec, err := mem.FindPARByHash(ctx, "oidc", token.HashSecret(resp.RequestURI))
	require.NoError(t, err)
	require.NoError(t, e.Finalize(ctx, rec.ID))

	rec, err = mem.FindPARByHash(ctx, "oidc", token.HashSecret(resp.RequestURI))
	require.NoError(t, err)
	assert.Equal(t, store.PARFinalized, rec.Status)
}
