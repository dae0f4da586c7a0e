// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ssoplugins/oidcauthz/pkg/claims"
	oidccrypto "github.com/ssoplugins/oidcauthz/pkg/crypto"
	"github.com/ssoplugins/oidcauthz/pkg/dpop"
	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/host/mocks"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/subject"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

type engineFixture struct {
	engine *Engine
	stor   *store.MemoryStore
	client *host.Client
}

func newEngineFixture(t *testing.T, mutate func(*Config)) *engineFixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	dir := mocks.NewMockDirectory(ctrl)
	dir.EXPECT().GetUser(gomock.Any(), "alice").Return(&host.User{
		Username:   "alice",
		Properties: map[string]any{"email": "alice@example.com"},
	}, nil).AnyTimes()
	dir.EXPECT().GetClient(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
	dir.EXPECT().CheckUserValid(gomock.Any(), "alice", "secret", gomock.Any()).Return(true, nil).AnyTimes()
	dir.EXPECT().CheckUserValid(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil).AnyTimes()

	mem := store.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })

	keys := oidccrypto.NewGeneratingProvider("ES256")
	cfg := Config{
		PluginName:          "oidc",
		Issuer:              "https://sso.example.com",
		AccessTokenLifespan: time.Hour,
		AllowNonOIDC:        true,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h := host.Host{Directory: dir, Hasher: host.BcryptHasher{}, Metrics: host.NoopMetrics{}}
	engine := New(cfg, h, mem, keys, token.New(keys),
		subject.New("oidc", store.SubjectPublic, mem), claims.New(claims.Config{}), nil)

	client := &host.Client{
		ID:                 "abcd0123",
		Confidential:       true,
		RedirectURIs:       []string{"https://rp/cb"},
		Scopes:             []string{"openid", "profile"},
		AuthorizationTypes: []string{"code", "password", "client_credentials", "delete_token"},
		Properties:         map[string]string{},
	}
	return &engineFixture{engine: engine, stor: mem, client: client}
}

// insertCode stores a code record the way the front channel would.
func (f *engineFixture) insertCode(t *testing.T, code string, challenge string) *store.AuthorizationCode {
	t.Helper()
	rec := &store.AuthorizationCode{
		ID:            uuid.NewString(),
		PluginName:    "oidc",
		Username:      "alice",
		ClientID:      f.client.ID,
		RedirectURI:   "https://rp/cb",
		CodeHash:      token.HashSecret(code),
		Nonce:         "n",
		FlowTypes:     store.FlowTypeFlags{Code: true},
		ExpiresAt:     time.Now().Add(time.Minute),
		CodeChallenge: challenge,
		Enabled:       true,
		Scopes:        []string{"openid", "profile"},
		AMR:           []string{"password"},
	}
	require.NoError(t, f.stor.InsertAuthorizationCode(context.Background(), rec))
	return rec
}

const (
	pkceVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	pkceChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

func TestAuthorizationCodeGrant_HappyPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	code := "thecodethecodethecodethecodeabcd"
	f.insertCode(t, code, "{SHA256}"+pkceChallenge)

	resp, err := f.engine.Token(ctx, &TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://rp/cb",
		CodeVerifier: pkceVerifier,
		Client:       f.client,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Len(t, resp.RefreshToken, token.RefreshTokenLen)
	assert.NotEmpty(t, resp.IDToken)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.Equal(t, "openid profile", resp.Scope)
}

func TestAuthorizationCodeGrant_ReplayDisablesDescendants(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newEngineFixture(t, func(c *Config) { c.RevokeTokensFromCode = true })

	code := "onetimecodeonetimecodeonetimecod"
	f.insertCode(t, code, "")

	first, err := f.engine.Token(ctx, &TokenRequest{
		GrantType: GrantAuthorizationCode, Code: code, RedirectURI: "https://rp/cb", Client: f.client,
	})
	require.NoError(t, err)

	// Second redemption fails and cascades.
	_, err = f.engine.Token(ctx, &TokenRequest{
		GrantType: GrantAuthorizationCode, Code: code, RedirectURI: "https://rp/cb", Client: f.client,
	})
	require.Error(t, err)
	oe, ok := oidcerr.As(err)
	require.True(t, ok)
	assert.Equal(t, oidcerr.CodeInvalidGrant, oe.Code)

	// The refresh token minted on the first redemption is now disabled.
	_, err = f.engine.Token(ctx, &TokenRequest{
		GrantType: GrantRefreshToken, RefreshToken: first.RefreshToken, Client: f.client,
	})
	assert.Error(t, err)
}

func TestAuthorizationCodeGrant_PKCEMismatch(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)

	code := "pkcecodepkcecodepkcecodepkcecode"
	f.insertCode(t, code, "{SHA256}"+pkceChallenge)

	_, err := f.engine.Token(context.Background(), &TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  "https://rp/cb",
		CodeVerifier: "wrongwrongwrongwrongwrongwrongwrongwrongwro",
		Client:       f.client,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestRefreshTokenGrant_OneUseRotation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newEngineFixture(t, func(c *Config) { c.OneUse = OneUseAlways })

	code := "rotationcoderotationcoderotation"
	f.insertCode(t, code, "")
	first, err := f.engine.Token(ctx, &TokenRequest{
		GrantType: GrantAuthorizationCode, Code: code, RedirectURI: "https://rp/cb", Client: f.client,
	})
	require.NoError(t, err)
	r0 := first.RefreshToken

	second, err := f.engine.Token(ctx, &TokenRequest{
		GrantType: GrantRefreshToken, RefreshToken: r0, Client: f.client,
	})
	require.NoError(t, err)
	r1 := second.RefreshToken
	require.NotEqual(t, r0, r1)

	// Reusing R0 fails and invalidates R1 (shared jti).
	_, err = f.engine.Token(ctx, &TokenRequest{
		GrantType: GrantRefreshToken, RefreshToken: r0, Client: f.client,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")

	_, err = f.engine.Token(ctx, &TokenRequest{
		GrantType: GrantRefreshToken, RefreshToken: r1, Client: f.client,
	})
	require.Error(t, err)
}

func TestRefreshTokenGrant_ScopeNarrowingOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	code := "narrowcodenarrowcodenarrowcodena"
	f.insertCode(t, code, "")
	first, err := f.engine.Token(ctx, &TokenRequest{
		GrantType: GrantAuthorizationCode, Code: code, RedirectURI: "https://rp/cb", Client: f.client,
	})
	require.NoError(t, err)

	narrowed, err := f.engine.Token(ctx, &TokenRequest{
		GrantType: GrantRefreshToken, RefreshToken: first.RefreshToken,
		Scope: []string{"openid"}, Client: f.client,
	})
	require.NoError(t, err)
	assert.Equal(t, "openid", narrowed.Scope)

	_, err = f.engine.Token(ctx, &TokenRequest{
		GrantType: GrantRefreshToken, RefreshToken: first.RefreshToken,
		Scope: []string{"openid", "email"}, Client: f.client,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_scope")
}

func TestClientCredentialsGrant(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)

	resp, err := f.engine.Token(context.Background(), &TokenRequest{
		GrantType: GrantClientCredentials,
		Scope:     []string{"profile", "unowned"},
		Client:    f.client,
	})
	require.NoError(t, err)
	assert.Equal(t, "profile", resp.Scope)
	assert.Empty(t, resp.RefreshToken)

	public := &host.Client{ID: "pub", AuthorizationTypes: []string{"client_credentials"}}
	_, err = f.engine.Token(context.Background(), &TokenRequest{
		GrantType: GrantClientCredentials, Client: public,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized_client")
}

func TestPasswordGrant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	resp, err := f.engine.Token(ctx, &TokenRequest{
		GrantType: GrantPassword, Username: "alice", Password: "secret",
		Scope: []string{"openid"}, Client: f.client,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.IDToken)

	_, err = f.engine.Token(ctx, &TokenRequest{
		GrantType: GrantPassword, Username: "alice", Password: "wrong",
		Scope: []string{"openid"}, Client: f.client,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestDeviceFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newEngineFixture(t, func(c *Config) { c.DeviceInterval = 50 * time.Millisecond })

	resp, err := f.engine.DeviceAuthorize(ctx, f.client, []string{"openid"}, "", "", "https://sso.example.com/oidc/device")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[A-HJ-Z2-9]{4}-[A-HJ-Z2-9]{4}$`), resp.UserCode)
	assert.Contains(t, resp.VerificationURIComplete, resp.UserCode)

	// First poll: pending.
	_, err = f.engine.Token(ctx, &TokenRequest{GrantType: GrantDeviceCode, DeviceCode: resp.DeviceCode, Client: f.client})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authorization_pending")

	// Immediate second poll: slow_down.
	_, err = f.engine.Token(ctx, &TokenRequest{GrantType: GrantDeviceCode, DeviceCode: resp.DeviceCode, Client: f.client})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow_down")

	// User approves through the UI path.
	rec, err := f.engine.LookupUserCode(ctx, resp.UserCode)
	require.NoError(t, err)
	require.NoError(t, f.engine.ApproveDevice(ctx, rec, "alice", []string{"password"}))

	time.Sleep(60 * time.Millisecond)
	bundle, err := f.engine.Token(ctx, &TokenRequest{GrantType: GrantDeviceCode, DeviceCode: resp.DeviceCode, Client: f.client})
	require.NoError(t, err)
	assert.NotEmpty(t, bundle.AccessToken)
	assert.NotEmpty(t, bundle.IDToken)

	// A redeemed device code cannot be redeemed again.
	time.Sleep(60 * time.Millisecond)
	_, err = f.engine.Token(ctx, &TokenRequest{GrantType: GrantDeviceCode, DeviceCode: resp.DeviceCode, Client: f.client})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_denied")
}

func TestDeleteTokenGrant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	code := "deletecodedeletecodedeletecodede"
	f.insertCode(t, code, "")
	first, err := f.engine.Token(ctx, &TokenRequest{
		GrantType: GrantAuthorizationCode, Code: code, RedirectURI: "https://rp/cb", Client: f.client,
	})
	require.NoError(t, err)

	_, err = f.engine.Token(ctx, &TokenRequest{
		GrantType: GrantDeleteToken, Token: first.RefreshToken, Client: f.client,
	})
	require.NoError(t, err)

	_, err = f.engine.Token(ctx, &TokenRequest{
		GrantType: GrantRefreshToken, RefreshToken: first.RefreshToken, Client: f.client,
	})
	assert.Error(t, err)
}

func TestDPoPBinding_CnfCarriedIntoAccessToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	code := "dpopcodedpopcodedpopcodedpopcode"
	f.insertCode(t, code, "")
	resp, err := f.engine.Token(ctx, &TokenRequest{
		GrantType: GrantAuthorizationCode, Code: code, RedirectURI: "https://rp/cb",
		Client: f.client,
		DPoP:   &dpop.Proof{JKT: "thumb-123"},
	})
	require.NoError(t, err)

	claims := decodeJWTClaims(t, resp.AccessToken)
	cnf, ok := claims["cnf"].(map[string]any)
	require.True(t, ok, "access token must carry cnf")
	assert.Equal(t, "thumb-123", cnf["jkt"])
	assert.Equal(t, "DPoP", resp.TokenType)
}

func decodeJWTClaims(t *testing.T, jwt string) map[string]any {
	t.Helper()
	parts := strings.Split(jwt, ".")
	require.Len(t, parts, 3)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims map[string]any
	require.NoError(t, json.Unmarshal(payload, &claims))
	return claims
}

func TestAccessTokenTemporalClaims(t *testing.T) {
	t.Parallel()
	f := newEngineFixture(t, nil)

	code := "claimscodeclaimscodeclaimscodecl"
	f.insertCode(t, code, "")
	resp, err := f.engine.Token(context.Background(), &TokenRequest{
		GrantType: GrantAuthorizationCode, Code: code, RedirectURI: "https://rp/cb", Client: f.client,
	})
	require.NoError(t, err)

	claims := decodeJWTClaims(t, resp.AccessToken)
	iat := int64(claims["iat"].(float64))
	nbf := int64(claims["nbf"].(float64))
	exp := int64(claims["exp"].(float64))
	assert.LessOrEqual(t, iat, nbf)
	assert.LessOrEqual(t, nbf, exp)
	assert.Equal(t, "https://sso.example.com", claims["iss"])
	jti, _ := claims["jti"].(string)
	assert.Len(t, jti, token.JTILen)
}
