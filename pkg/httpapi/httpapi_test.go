// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/host/mocks"
	"github.com/ssoplugins/oidcauthz/pkg/oidc"
	"github.com/ssoplugins/oidcauthz/pkg/store"
)

const (
	verifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

func apiFixture(t *testing.T) *API {
	t.Helper()
	ctrl := gomock.NewController(t)

	client := &host.Client{
		ID:           "abcd0123",
		RedirectURIs: []string{"https://rp/cb"},
		Properties:   map[string]string{},
	}
	dir := mocks.NewMockDirectory(ctrl)
	dir.EXPECT().GetClient(gomock.Any(), "abcd0123").Return(client, nil).AnyTimes()
	dir.EXPECT().GetClient(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
	dir.EXPECT().GetUser(gomock.Any(), "alice").Return(&host.User{
		Username:   "alice",
		Properties: map[string]any{"mail": "alice@example.com"},
	}, nil).AnyTimes()

	sess := mocks.NewMockSessionHost(ctrl)
	sess.EXPECT().CheckSessionValid(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&host.Session{Username: "alice", StartedAt: time.Now(), AMR: []string{"password"}}, nil).AnyTimes()
	sess.EXPECT().GetClientGrantedScopes(gomock.Any(), "abcd0123", "alice", gomock.Any()).
		Return([]string{"openid", "profile"}, nil).AnyTimes()
	sess.EXPECT().GetSessionAge(gomock.Any(), gomock.Any()).Return(time.Minute, nil).AnyTimes()

	mem := store.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })

	srv, err := oidc.New(oidc.Config{
		PluginName: "oidc",
		Issuer:     "https://sso.example.com",
		Flows:      []oidc.Flow{oidc.FlowCode, oidc.FlowRefresh},
	}, host.Host{
		Directory:   dir,
		SessionHost: sess,
		Hasher:      host.BcryptHasher{Cost: 4},
		Metrics:     host.NoopMetrics{},
	}, mem)
	require.NoError(t, err)
	return New(srv)
}

func TestDiscoveryAndJWKS(t *testing.T) {
	t.Parallel()
	api := apiFixture(t)
	router := api.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/.well-known/openid-configuration", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "https://sso.example.com/oidc", doc["issuer"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/jwks", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jwks))
	require.Len(t, jwks.Keys, 1)
	// Published keys are public material only.
	_, hasD := jwks.Keys[0]["d"]
	assert.False(t, hasD)
}

func TestAuthorizationCodeEndToEnd(t *testing.T) {
	t.Parallel()
	api := apiFixture(t)
	router := api.Router()

	authQuery := url.Values{
		"response_type":         {"code"},
		"client_id":             {"abcd0123"},
		"redirect_uri":          {"https://rp/cb"},
		"scope":                 {"openid profile"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"state":                 {"xyz"},
		"nonce":                 {"n"},
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/auth?"+authQuery.Encode(), nil)
	req.Header.Set("Cookie", "session=abc")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "rp", loc.Host)
	code := loc.Query().Get("code")
	require.Len(t, code, 32)
	assert.Equal(t, "xyz", loc.Query().Get("state"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
		"redirect_uri":  {"https://rp/cb"},
		"client_id":     {"abcd0123"},
	}
	rec = httptest.NewRecorder()
	tokenReq := httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	tokenReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	router.ServeHTTP(rec, tokenReq)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
		TokenType    string `json:"token_type"`
		Scope        string `json:"scope"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.AccessToken)
	assert.Len(t, body.RefreshToken, 128)
	assert.NotEmpty(t, body.IDToken)
	assert.Equal(t, "bearer", body.TokenType)
	assert.Equal(t, "openid profile", body.Scope)
	assert.Positive(t, body.ExpiresIn)

	// Replaying the code fails with invalid_grant.
	rec = httptest.NewRecorder()
	tokenReq = httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	tokenReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	router.ServeHTTP(rec, tokenReq)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errBody struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Equal(t, "invalid_grant", errBody.Error)
}

func TestTokenEndpoint_ErrorShape(t *testing.T) {
	t.Parallel()
	api := apiFixture(t)
	router := api.Router()

	form := url.Values{"grant_type": {"authorization_code"}, "client_id": {"unknown"}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_client", body.Error)
}

func TestUserinfo_RequiresToken(t *testing.T) {
	t.Parallel()
	api := apiFixture(t)
	router := api.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/userinfo", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
}

func TestCheckSessionIFrameServed(t *testing.T) {
	t.Parallel()
	api := apiFixture(t)
	router := api.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/check_session_iframe", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "postMessage")
}
