// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package clientauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/host/mocks"
	"github.com/ssoplugins/oidcauthz/pkg/store"
)

const tokenEndpoint = "https://sso.example.com/oidc/token"

func authFixture(t *testing.T, clients map[string]*host.Client, secrets map[string]string) *Authenticator {
	t.Helper()
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)
	dir.EXPECT().GetClient(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id string) (*host.Client, error) { return clients[id], nil }).AnyTimes()
	dir.EXPECT().CheckClientValid(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id, secret string) (bool, error) { return secrets[id] == secret, nil }).AnyTimes()

	mem := store.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })

	return New(Config{
		PluginName:           "oidc",
		EndpointURL:          tokenEndpoint,
		AssertionMaxAge:      5 * time.Minute,
		ClientSecretProperty: "client_secret",
		JWKSProperty:         "jwks",
	}, dir, host.NoopMetrics{}, mem, nil)
}

func postRequest(form url.Values) *http.Request {
	r := httptest.NewRequest("POST", tokenEndpoint, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestAuthenticate_None(t *testing.T) {
	t.Parallel()

	public := &host.Client{ID: "pub"}
	confidential := &host.Client{ID: "conf", Confidential: true}
	a := authFixture(t, map[string]*host.Client{"pub": public, "conf": confidential}, nil)

	res, err := a.Authenticate(context.Background(), postRequest(url.Values{"client_id": {"pub"}}), url.Values{"client_id": {"pub"}})
	require.NoError(t, err)
	assert.Equal(t, MethodNone, res.Method)

	_, err = a.Authenticate(context.Background(), postRequest(url.Values{"client_id": {"conf"}}), url.Values{"client_id": {"conf"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidential client must authenticate")
}

func TestAuthenticate_SecretPost(t *testing.T) {
	t.Parallel()

	client := &host.Client{ID: "conf", Confidential: true}
	a := authFixture(t, map[string]*host.Client{"conf": client}, map[string]string{"conf": "s3cret"})

	form := url.Values{"client_id": {"conf"}, "client_secret": {"s3cret"}}
	res, err := a.Authenticate(context.Background(), postRequest(form), form)
	require.NoError(t, err)
	assert.Equal(t, MethodSecretPost, res.Method)

	bad := url.Values{"client_id": {"conf"}, "client_secret": {"wrong"}}
	_, err = a.Authenticate(context.Background(), postRequest(bad), bad)
	assert.Error(t, err)
}

func TestAuthenticate_SecretBasic(t *testing.T) {
	t.Parallel()

	client := &host.Client{ID: "conf", Confidential: true}
	a := authFixture(t, map[string]*host.Client{"conf": client}, map[string]string{"conf": "s3cret"})

	r := postRequest(url.Values{})
	r.SetBasicAuth("conf", "s3cret")
	res, err := a.Authenticate(context.Background(), r, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, MethodSecretBasic, res.Method)
}

func TestAuthenticate_MethodListEnforced(t *testing.T) {
	t.Parallel()

	client := &host.Client{
		ID:                       "conf",
		Confidential:             true,
		TokenEndpointAuthMethods: []string{"private_key_jwt"},
	}
	a := authFixture(t, map[string]*host.Client{"conf": client}, map[string]string{"conf": "s3cret"})

	form := url.Values{"client_id": {"conf"}, "client_secret": {"s3cret"}}
	_, err := a.Authenticate(context.Background(), postRequest(form), form)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not allowed")
}

func signAssertion(t *testing.T, secret, iss, sub, aud, jti string, exp time.Time) string {
	t.Helper()
	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.HS256, Key: []byte(secret)}, nil)
	require.NoError(t, err)
	raw, err := josejwt.Signed(signer).Claims(josejwt.Claims{
		Issuer: iss, Subject: sub, Audience: josejwt.Audience{aud},
		Expiry: josejwt.NewNumericDate(exp), ID: jti,
	}).Serialize()
	require.NoError(t, err)
	return raw
}

func TestAuthenticate_ClientSecretJWT(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	client := &host.Client{
		ID: "conf", Confidential: true,
		Properties: map[string]string{"client_secret": "0123456789abcdef0123456789abcdef"},
	}
	a := authFixture(t, map[string]*host.Client{"conf": client}, nil)

	assertion := signAssertion(t, "0123456789abcdef0123456789abcdef", "conf", "conf", tokenEndpoint, "jti-1", time.Now().Add(time.Minute))
	form := url.Values{
		"client_assertion_type": {clientAssertionType},
		"client_assertion":      {assertion},
	}
	res, err := a.Authenticate(ctx, postRequest(form), form)
	require.NoError(t, err)
	assert.Equal(t, MethodSecretJWT, res.Method)

	// jti replay is rejected.
	_, err = a.Authenticate(ctx, postRequest(form), form)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used")
}

func TestAuthenticate_AssertionClaimChecks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	secret := "0123456789abcdef0123456789abcdef"
	client := &host.Client{ID: "conf", Confidential: true, Properties: map[string]string{"client_secret": secret}}

	tests := []struct {
		name      string
		assertion func(t *testing.T) string
		errStr    string
	}{
		{name: "wrong audience", assertion: func(t *testing.T) string {
			return signAssertion(t, secret, "conf", "conf", "https://elsewhere/token", "jti-a", time.Now().Add(time.Minute))
		}, errStr: "aud"},
		{name: "iss/sub mismatch", assertion: func(t *testing.T) string {
			return signAssertion(t, secret, "conf", "other", tokenEndpoint, "jti-b", time.Now().Add(time.Minute))
		}, errStr: "iss and sub"},
		{name: "expired", assertion: func(t *testing.T) string {
			return signAssertion(t, secret, "conf", "conf", tokenEndpoint, "jti-c", time.Now().Add(-time.Minute))
		}, errStr: "expired"},
		{name: "exp too far", assertion: func(t *testing.T) string {
			return signAssertion(t, secret, "conf", "conf", tokenEndpoint, "jti-d", time.Now().Add(time.Hour))
		}, errStr: "too far"},
		{name: "bad signature", assertion: func(t *testing.T) string {
			return signAssertion(t, "ffffffffffffffffffffffffffffffff", "conf", "conf", tokenEndpoint, "jti-e", time.Now().Add(time.Minute))
		}, errStr: "verification failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := authFixture(t, map[string]*host.Client{"conf": client}, nil)
			form := url.Values{
				"client_assertion_type": {clientAssertionType},
				"client_assertion":      {tt.assertion(t)},
			}
			_, err := a.Authenticate(ctx, postRequest(form), form)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errStr)
		})
	}
}
