// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package request

import (
	"context"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/host/mocks"
	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

func testClient() *host.Client {
	return &host.Client{
		ID:           "abcd0123",
		RedirectURIs: []string{"https://rp/cb"},
		Properties:   map[string]string{},
	}
}

func hashForTest(s string) string { return token.HashSecret(s) }

func timeInFuture() time.Time { return time.Now().Add(time.Minute) }

func validateWith(t *testing.T, client *host.Client, params url.Values, cfg Config) (*AuthorizationRequest, error) {
	t.Helper()
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)
	dir.EXPECT().GetClient(gomock.Any(), client.ID).Return(client, nil).AnyTimes()

	mem := store.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })

	v := New(cfg, dir, mem, nil)
	r := httptest.NewRequest("GET", "/auth?"+params.Encode(), nil)
	req, _, err := v.ValidateAuthorize(context.Background(), r)
	return req, err
}

func baseParams() url.Values {
	return url.Values{
		"client_id":     {"abcd0123"},
		"redirect_uri":  {"https://rp/cb"},
		"response_type": {"code"},
		"scope":         {"openid profile"},
		"state":         {"xyz"},
		"nonce":         {"n"},
	}
}

func TestValidateAuthorize_HappyPath(t *testing.T) {
	t.Parallel()

	req, err := validateWith(t, testClient(), baseParams(), Config{PluginName: "oidc"})
	require.NoError(t, err)
	assert.Equal(t, "abcd0123", req.ClientID)
	assert.True(t, req.ResponseTypes.Has("code"))
	assert.True(t, req.Scopes.Has("openid"))
	assert.Equal(t, "xyz", req.State)
}

func TestValidateAuthorize_ResponseTypeRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(url.Values)
		cfg    Config
		errStr string
	}{
		{name: "empty response_type", mutate: func(p url.Values) { p.Set("response_type", "") }, errStr: "unsupported_response_type"},
		{name: "unknown combination", mutate: func(p url.Values) { p.Set("response_type", "code banana") }, errStr: "unsupported_response_type"},
		{name: "openid required", mutate: func(p url.Values) { p.Set("scope", "profile") }, errStr: "invalid_scope"},
		{name: "nonce required for id_token", mutate: func(p url.Values) {
			p.Set("response_type", "code id_token")
			p.Del("nonce")
		}, errStr: "invalid_request"},
		{name: "unregistered redirect", mutate: func(p url.Values) { p.Set("redirect_uri", "https://evil/cb") }, errStr: "invalid_request"},
		{name: "prompt none exclusive", mutate: func(p url.Values) { p.Set("prompt", "none login") }, errStr: "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			params := baseParams()
			tt.mutate(params)
			_, err := validateWith(t, testClient(), params, tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errStr)
		})
	}
}

func TestValidateAuthorize_NonOIDCAllowed(t *testing.T) {
	t.Parallel()

	params := baseParams()
	params.Set("scope", "profile")
	params.Del("nonce")
	_, err := validateWith(t, testClient(), params, Config{AllowNonOIDC: true})
	assert.NoError(t, err)
}

func TestValidateAuthorize_ScopeReduction(t *testing.T) {
	t.Parallel()

	client := testClient()
	client.Properties["allowed_scopes"] = "openid email"

	params := baseParams()
	params.Set("scope", "openid profile email")
	req, err := validateWith(t, client, params, Config{RestrictScopeProperty: "allowed_scopes"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"openid", "email"}, []string(req.Scopes))

	params.Set("scope", "profile")
	_, err = validateWith(t, client, params, Config{RestrictScopeProperty: "allowed_scopes", AllowNonOIDC: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_scope")
}

func TestValidateAuthorize_Resource(t *testing.T) {
	t.Parallel()

	cfg := Config{ResourceScopeWhitelist: map[string][]string{"openid": {"https://api.example.com"}}}

	params := baseParams()
	params.Set("resource", "https://api.example.com")
	_, err := validateWith(t, testClient(), params, cfg)
	assert.NoError(t, err)

	params.Set("resource", "https://other.example.com")
	_, err = validateWith(t, testClient(), params, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_target")

	params.Set("resource", "https://api.example.com#frag")
	_, err = validateWith(t, testClient(), params, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_target")
}

func TestValidateAuthorize_AuthorizationDetails(t *testing.T) {
	t.Parallel()

	cfg := Config{
		RARTypes: []RARType{{
			Type:      "payment_initiation",
			Actions:   []string{"initiate"},
			Locations: []string{"https://bank.example.com"},
			Scopes:    []string{"openid"},
			Enriched:  []string{"amount"},
		}},
	}

	params := baseParams()
	params.Set("authorization_details", `[{"type":"payment_initiation","actions":["initiate"],"access":{"amount":"10"}}]`)
	req, err := validateWith(t, testClient(), params, cfg)
	require.NoError(t, err)
	require.Len(t, req.AuthDetails, 1)
	assert.Equal(t, "payment_initiation", req.AuthDetails[0].Type)

	params.Set("authorization_details", `[{"type":"unknown_type"}]`)
	_, err = validateWith(t, testClient(), params, cfg)
	assert.Error(t, err)

	params.Set("authorization_details", `[{"type":"payment_initiation","actions":["cancel"]}]`)
	_, err = validateWith(t, testClient(), params, cfg)
	assert.Error(t, err)

	params.Set("authorization_details", `[{"type":"payment_initiation","access":{"iban":"x"}}]`)
	_, err = validateWith(t, testClient(), params, cfg)
	assert.Error(t, err)
}

func TestValidateAuthorize_PARRequired(t *testing.T) {
	t.Parallel()

	_, err := validateWith(t, testClient(), baseParams(), Config{PARRequired: true, PAREnabled: true, PARPrefix: "urn:par:"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pushed authorization request is required")
}

func TestValidateAuthorize_PARRoundTrip(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := testClient()
	dir := mocks.NewMockDirectory(ctrl)
	dir.EXPECT().GetClient(gomock.Any(), client.ID).Return(client, nil).AnyTimes()

	mem := store.NewMemoryStore()
	defer mem.Close()

	cfg := Config{PluginName: "oidc", PAREnabled: true, PARPrefix: "urn:par:"}
	v := New(cfg, dir, mem, nil)

	// Store the pushed parameter set the way the PAR endpoint does.
	pushed := baseParams()
	handle := "urn:par:0123456789abcdef0123456789abcdef"
	rec := &store.PushedAuthorizationRequest{
		PluginName:     "oidc",
		RequestURIRaw:  handle,
		RequestURIHash: hashForTest(handle),
		Params:         pushed.Encode(),
		ClientID:       client.ID,
		ExpiresAt:      timeInFuture(),
	}
	require.NoError(t, mem.InsertPAR(context.Background(), rec))

	r := httptest.NewRequest("GET", "/auth?client_id=abcd0123&request_uri="+url.QueryEscape(handle), nil)
	req, _, err := v.ValidateAuthorize(context.Background(), r)
	require.NoError(t, err)
	assert.True(t, req.RequestPAR)
	assert.Equal(t, "xyz", req.State)

	// First consumption moved the record to consumed-once.
	got, err := mem.FindPARByHash(context.Background(), "oidc", rec.RequestURIHash)
	require.NoError(t, err)
	assert.Equal(t, store.PARConsumedOnce, got.Status)
}

func TestMergeSigned_Contradiction(t *testing.T) {
	t.Parallel()

	urlParams := url.Values{"client_id": {"abcd0123"}, "state": {"url-state"}}
	signed := url.Values{"client_id": {"other"}, "scope": {"openid"}}
	_, err := mergeSigned(urlParams, signed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized_client")

	signed.Set("client_id", "abcd0123")
	merged, err := mergeSigned(urlParams, signed)
	require.NoError(t, err)
	// Missing URL parameters are supplied from the request object.
	assert.Equal(t, "openid", merged.Get("scope"))
	assert.Equal(t, "url-state", merged.Get("state"))
}
